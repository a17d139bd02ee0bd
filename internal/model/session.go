package model

import "time"

// Binding is what a non-idle user is currently attached to. The only
// implementations are ProposalSeat and GameSeat; a user without a Session
// row is idle and has a nil Binding.
type Binding interface {
	isBinding()
}

// ProposalSeat binds a user waiting in an open proposal.
type ProposalSeat struct {
	ProposalID GameProposalID
	IsReady    bool
}

// GameSeat binds a user to a seat of a running game.
type GameSeat struct {
	GameID      GameID
	PlayerIndex int
}

func (ProposalSeat) isBinding() {}
func (GameSeat) isBinding()     {}

type Session struct {
	ID        SessionID
	UserID    UserID
	Binding   Binding
	CreatedAt time.Time
}

// BindingName is the lower-case tag used in pushes and listings.
func BindingName(b Binding) string {
	switch b.(type) {
	case ProposalSeat:
		return "proposal"
	case GameSeat:
		return "game"
	default:
		return "idle"
	}
}
