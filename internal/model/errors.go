package model

import "errors"

// Proposal lifecycle.
var (
	ErrNotBound        = errors.New("not bound to a session")
	ErrAlreadyAccepted = errors.New("proposal already accepted")
	ErrAlreadyBound    = errors.New("already in another session")
	ErrFull            = errors.New("proposal is full")
	ErrExpired         = errors.New("proposal has expired")
)

// Turn submission.
var (
	ErrSeatVacant  = errors.New("seat is vacant")
	ErrWrongSeat   = errors.New("seat belongs to another player")
	ErrInvalidTurn = errors.New("invalid turn")
)

// Process supervision.
var (
	ErrNoSuchWorker = errors.New("no worker for game")
	ErrLaunchFailed = errors.New("worker launch failed")
	ErrGameFailed   = errors.New("game failed")
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidCommand = errors.New("invalid command")
)

var userErrors = []error{
	ErrNotBound,
	ErrAlreadyAccepted,
	ErrAlreadyBound,
	ErrFull,
	ErrExpired,
	ErrSeatVacant,
	ErrWrongSeat,
	ErrInvalidTurn,
	ErrNotFound,
	ErrInvalidCommand,
	ErrInvalidID,
	ErrInvalidProposal,
}

// IsUserError reports whether err is something the caller can correct and
// should therefore see verbatim.
func IsUserError(err error) bool {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
