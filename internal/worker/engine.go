package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gamehub/internal/model"
)

// Step is the result of applying one action to a snapshot.
type Step struct {
	Delta     json.RawMessage
	Snapshot  json.RawMessage
	Completed bool
	Results   []model.SeatResult
}

// Engine is a deterministic rules implementation. It keeps no state of its
// own; everything it needs is in the setup and the snapshot.
type Engine interface {
	Initial(setup Init) (json.RawMessage, error)
	Apply(setup Init, snapshot json.RawMessage, seat int, action json.RawMessage) (Step, error)
}

const maxLine = 4 << 20

// Serve runs engine as a worker process speaking the line protocol on r
// and w. It returns nil when r is closed or a stop message arrives.
func Serve(ctx context.Context, engine Engine, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	enc := json.NewEncoder(w)

	var setup Init
	var snapshot json.RawMessage
	initialized := false

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			if err := enc.Encode(envelope{Type: TypeError, Reason: err.Error()}); err != nil {
				return err
			}
			continue
		}

		var reply envelope
		switch env.Type {
		case TypeStop:
			return nil
		case TypeInit:
			if env.Init == nil {
				reply = envelope{Type: TypeError, Reason: "init without payload"}
				break
			}
			setup = *env.Init
			if setup.Fresh() {
				initial, err := engine.Initial(setup)
				if err != nil {
					return fmt.Errorf("initial snapshot: %w", err)
				}
				snapshot = initial
			} else {
				snapshot = setup.Snapshot
			}
			initialized = true
			reply = envelope{Type: TypeReady, Snapshot: snapshot}
		case TypeAction:
			if !initialized || env.Seat == nil {
				reply = envelope{Type: TypeError, Reason: "action before init or without seat"}
				break
			}
			step, err := engine.Apply(setup, snapshot, *env.Seat, env.Action)
			var rejected *RejectedError
			switch {
			case errors.As(err, &rejected):
				reply = envelope{Type: TypeRejected, Reason: rejected.Reason}
			case err != nil:
				reply = envelope{Type: TypeError, Reason: err.Error()}
			default:
				snapshot = step.Snapshot
				reply = envelope{Type: TypeStep, Delta: step.Delta, Snapshot: step.Snapshot}
				if step.Completed {
					reply.Type = TypeCompleted
					reply.Results = step.Results
				}
			}
		default:
			reply = envelope{Type: TypeError, Reason: fmt.Sprintf("unknown message type %q", env.Type)}
		}
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}
