package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"gamehub/internal/model"
)

// Message types exchanged over a worker's stdin and stdout, one JSON
// object per line.
const (
	TypeInit      = "init"
	TypeReady     = "ready"
	TypeAction    = "action"
	TypeStep      = "step"
	TypeCompleted = "completed"
	TypeRejected  = "rejected"
	TypeError     = "error"
	TypeStop      = "stop"
)

// Init is the first line sent to a freshly started worker. A null
// Snapshot asks the worker to build the initial state from the rules.
type Init struct {
	GameID      int64           `json:"game_id"`
	GameType    string          `json:"game_type"`
	NumPlayers  int             `json:"num_players"`
	Rules       json.RawMessage `json:"rules"`
	Seed        int64           `json:"seed"`
	Snapshot    json.RawMessage `json:"snapshot"`
	SnapshotPly int             `json:"snapshot_ply"`
}

// Fresh reports whether the worker must create the initial snapshot.
func (i Init) Fresh() bool {
	return len(i.Snapshot) == 0 || string(i.Snapshot) == "null"
}

type Action struct {
	Seat   int             `json:"seat"`
	Action json.RawMessage `json:"action"`
}

// Output is the worker's answer to one accepted action.
type Output struct {
	Delta     json.RawMessage    `json:"delta"`
	Snapshot  json.RawMessage    `json:"snapshot"`
	Completed bool               `json:"-"`
	Results   []model.SeatResult `json:"results,omitempty"`
}

// envelope is the line format in both directions.
type envelope struct {
	Type     string             `json:"type"`
	Init     *Init              `json:"init,omitempty"`
	Seat     *int               `json:"seat,omitempty"`
	Action   json.RawMessage    `json:"action,omitempty"`
	Delta    json.RawMessage    `json:"delta,omitempty"`
	Snapshot json.RawMessage    `json:"snapshot,omitempty"`
	Results  []model.SeatResult `json:"results,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// RejectedError is returned when the rules engine refuses an action.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", model.ErrInvalidTurn, e.Reason)
}

func (e *RejectedError) Unwrap() error { return model.ErrInvalidTurn }

// Reject builds the error an Engine returns for an illegal action.
func Reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

var (
	// ErrExited means the worker process is gone.
	ErrExited = errors.New("worker exited")
	// ErrUnknownGameType means no worker binary is configured for a game type.
	ErrUnknownGameType = errors.New("unknown game type")
	// ErrProtocol means the worker wrote something that is not a valid reply.
	ErrProtocol = errors.New("worker protocol error")
)

func outputFrom(env envelope) (Output, error) {
	switch env.Type {
	case TypeStep:
		return Output{Delta: env.Delta, Snapshot: env.Snapshot}, nil
	case TypeCompleted:
		return Output{Delta: env.Delta, Snapshot: env.Snapshot, Completed: true, Results: env.Results}, nil
	case TypeRejected:
		return Output{}, &RejectedError{Reason: env.Reason}
	case TypeError:
		return Output{}, fmt.Errorf("%w: %s", ErrProtocol, env.Reason)
	default:
		return Output{}, fmt.Errorf("%w: unexpected %q reply", ErrProtocol, env.Type)
	}
}
