package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// LocalLauncher runs engines inside this process, wired to the same line
// protocol a child process would speak.
type LocalLauncher struct {
	engines map[string]Engine
	logger  *zap.Logger
}

func NewLocalLauncher(engines map[string]Engine, logger *zap.Logger) *LocalLauncher {
	return &LocalLauncher{engines: engines, logger: logger.Named("local-launcher")}
}

func (l *LocalLauncher) Launch(ctx context.Context, init Init) (Worker, json.RawMessage, error) {
	engine, ok := l.engines[init.GameType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownGameType, init.GameType)
	}

	workerIn, serverOut := io.Pipe()
	serverIn, workerOut := io.Pipe()
	serveCtx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		err := Serve(serveCtx, engine, workerIn, workerOut)
		_ = workerOut.Close()
		served <- err
	}()

	var once sync.Once
	var serveErr error
	wait := func() error {
		once.Do(func() { serveErr = <-served })
		return serveErr
	}
	kill := func() {
		cancel()
		_ = workerIn.CloseWithError(ErrExited)
		_ = workerOut.CloseWithError(ErrExited)
	}

	p := newProcess(serverOut, l.logger.With(zap.Int64("game_id", init.GameID)), wait, kill)
	go p.run(serverIn)

	snapshot, err := p.handshake(ctx, init)
	if err != nil {
		return nil, nil, err
	}
	return p, snapshot, nil
}
