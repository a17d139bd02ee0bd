package worker

import (
	"context"
	"encoding/json"
)

// Worker is a running rules engine for one game.
type Worker interface {
	// Submit forwards one action and waits for the worker's answer.
	Submit(ctx context.Context, action Action) (Output, error)
	// Done is closed when the worker has exited.
	Done() <-chan struct{}
	// Stop terminates the worker. It is safe to call more than once.
	Stop() error
}

// Launcher starts workers. Launch returns once the worker has loaded its
// state and answered with the snapshot it is starting from.
type Launcher interface {
	Launch(ctx context.Context, init Init) (Worker, json.RawMessage, error)
}
