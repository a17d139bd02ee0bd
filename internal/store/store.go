package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gamehub/internal/model"
)

var (
	// ErrConflict marks a serialization failure or deadlock. Tx retries it.
	ErrConflict = errors.New("transaction conflict")
	// ErrDuplicate marks a unique key violation.
	ErrDuplicate = errors.New("duplicate key")
	// ErrConstraint marks a check or foreign key violation.
	ErrConstraint = errors.New("constraint violation")
)

// Store scopes work into transactions. fn may run more than once when the
// store retries a conflict, so it must not have side effects outside tx
// other than through OnCommit and OnRollback.
type Store interface {
	Tx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Context() context.Context
	// OnCommit registers fn to run after a successful commit.
	OnCommit(fn func())
	// OnRollback registers fn to run if this attempt does not commit.
	OnRollback(fn func())

	CreateUser(name string) (model.User, error)
	GetUser(id model.UserID) (model.User, error)
	TouchLastLogin(id model.UserID, at time.Time) error
	AddFriend(a, b model.UserID) error

	CreateGroup(g model.Group) (model.Group, error)
	GetGroup(id model.GroupID) (model.Group, error)
	AddGroupMember(m model.GroupMember) error
	ListGroupMembers(id model.GroupID) ([]model.GroupMember, error)

	CreateProposal(p model.GameProposal) (model.GameProposal, error)
	// GetProposal loads a proposal; forUpdate takes a row lock held until
	// the transaction ends.
	GetProposal(id model.GameProposalID, forUpdate bool) (model.GameProposal, error)
	DeleteProposal(id model.GameProposalID) error
	ListExpiredProposals(now time.Time) ([]model.GameProposalID, error)

	CreateAcceptee(a model.Acceptee) error
	ListAcceptees(id model.GameProposalID) ([]model.Acceptee, error)
	SetAccepteeReady(id model.GameProposalID, user model.UserID, ready bool) (bool, error)
	DeleteAcceptee(id model.GameProposalID, user model.UserID) (bool, error)
	DeleteAcceptees(id model.GameProposalID) error

	CreateSession(s model.Session) (model.Session, error)
	GetSession(user model.UserID) (model.Session, error)
	// UpdateSession rewrites the binding of the user's existing session.
	UpdateSession(s model.Session) error
	DeleteSession(user model.UserID) error
	DeleteSessionsForGame(id model.GameID) ([]model.UserID, error)
	DeleteSessionsForProposal(id model.GameProposalID) ([]model.UserID, error)

	CreateGame(g model.Game) (model.Game, error)
	GetGame(id model.GameID, forUpdate bool) (model.Game, error)
	UpdateGameSnapshot(id model.GameID, snapshot json.RawMessage, ply int, at time.Time) error
	CompleteGame(id model.GameID, at time.Time) error
	FailGame(id model.GameID, at time.Time) error
	ListActiveGames() ([]model.Game, error)

	CreateGamePlayers(players []model.GamePlayer) error
	ListGamePlayers(id model.GameID) ([]model.GamePlayer, error)
	SetGamePlayerResult(id model.GameID, seat, position int, score int64) error

	InsertStep(step model.GameStep) error
	ListSteps(id model.GameID) ([]model.GameStep, error)

	CreateRequest(r model.Request) (model.Request, error)

	CreateMessage(m model.Message) (model.Message, error)
	ListUnreadMessages(user model.UserID) ([]model.Message, error)
	MarkMessageRead(user model.UserID, id model.MessageID) error

	// VisibleProposals lists proposals the user may see: public ones plus
	// those reachable through a pending request or the user's session.
	VisibleProposals(user model.UserID) ([]model.GameProposal, error)
	// VisibleGroups lists public groups, friends-visibility groups with the
	// user or a friend as member, and private groups the user belongs to.
	VisibleGroups(user model.UserID) ([]model.Group, error)
}

// hooks collects post-transaction callbacks for one attempt.
type hooks struct {
	commit   []func()
	rollback []func()
}

func (h *hooks) OnCommit(fn func())   { h.commit = append(h.commit, fn) }
func (h *hooks) OnRollback(fn func()) { h.rollback = append(h.rollback, fn) }

func (h *hooks) committed() {
	for _, fn := range h.commit {
		fn()
	}
}

func (h *hooks) rolledBack() {
	for i := len(h.rollback) - 1; i >= 0; i-- {
		h.rollback[i]()
	}
}
