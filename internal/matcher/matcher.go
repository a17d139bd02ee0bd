// Package matcher runs the proposal lifecycle: create, accept, ready,
// leave, promotion into a game, and expiry.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"

	"go.uber.org/zap"
)

// Launcher starts and stops game workers. Prepare runs inside the
// promoting transaction; Watch runs once it has committed.
type Launcher interface {
	Prepare(ctx context.Context, g model.Game) (json.RawMessage, error)
	Watch(id model.GameID)
	Stop(id model.GameID)
}

// Notifier delivers committed state to connected users.
type Notifier interface {
	Push(users []model.UserID, event model.Event)
	Rebind(user model.UserID, binding model.Binding)
}

type Config struct {
	ProposalTTL time.Duration
}

type Matcher struct {
	store    store.Store
	launcher Launcher
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	seed     func() int64
}

func New(st store.Store, launcher Launcher, notifier Notifier, cfg Config, logger *zap.Logger) *Matcher {
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 5 * time.Minute
	}
	return &Matcher{
		store:    st,
		launcher: launcher,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("matcher"),
		now:      func() time.Time { return time.Now().UTC() },
		seed:     rand.Int64,
	}
}

// CreateParams describes a new proposal. Zero bounds take the defaults of
// two to eight players in steps of one.
type CreateParams struct {
	GameType    string
	IsPublic    bool
	MinPlayers  int
	MaxPlayers  int
	ModPlayers  int
	Rules       json.RawMessage
	InviteUser  *model.UserID
	InviteGroup *model.GroupID
}

func (c CreateParams) proposal(now time.Time, ttl time.Duration) model.GameProposal {
	p := model.GameProposal{
		GameType:   c.GameType,
		IsPublic:   c.IsPublic,
		MinPlayers: c.MinPlayers,
		MaxPlayers: c.MaxPlayers,
		ModPlayers: c.ModPlayers,
		Rules:      c.Rules,
		CreatedAt:  now,
		Deadline:   now.Add(ttl),
	}
	if p.MinPlayers == 0 {
		p.MinPlayers = 2
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = max(8, p.MinPlayers)
	}
	if p.ModPlayers == 0 {
		p.ModPlayers = 1
	}
	if len(p.Rules) == 0 {
		p.Rules = json.RawMessage("null")
	}
	return p
}

// Create opens a proposal with user as its first acceptee. An invite, if
// given, is recorded as a request that makes the proposal visible to its
// target.
func (m *Matcher) Create(ctx context.Context, user model.UserID, params CreateParams) (model.GameProposal, error) {
	now := m.now()
	proposal := params.proposal(now, m.cfg.ProposalTTL)
	if err := proposal.Validate(); err != nil {
		return model.GameProposal{}, err
	}

	var created model.GameProposal
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		if err := requireIdle(tx, user); err != nil {
			return err
		}
		p, err := tx.CreateProposal(proposal)
		if err != nil {
			return err
		}
		if err := tx.CreateAcceptee(model.Acceptee{ProposalID: p.ID, UserID: user, AcceptedAt: now}); err != nil {
			return err
		}
		binding := model.ProposalSeat{ProposalID: p.ID}
		if _, err := tx.CreateSession(model.Session{UserID: user, Binding: binding}); err != nil {
			return bindingError(err)
		}
		if params.InviteUser != nil || params.InviteGroup != nil {
			body := model.GameProposalRequest{From: user, ToUser: params.InviteUser, ToGroup: params.InviteGroup, ProposalID: p.ID}
			if _, err := tx.CreateRequest(model.Request{Body: body, SentAt: now}); err != nil {
				return fmt.Errorf("invite: %w", err)
			}
		}
		created = p
		tx.OnCommit(func() {
			m.logger.Info("proposal created",
				zap.Stringer("proposal_id", p.ID),
				zap.Stringer("user_id", user),
				zap.String("game_type", p.GameType),
			)
			m.notifier.Rebind(user, binding)
			m.pushProposal(p, []model.Acceptee{{ProposalID: p.ID, UserID: user, AcceptedAt: now}})
		})
		return nil
	})
	return created, err
}

func requireIdle(tx store.Tx, user model.UserID) error {
	_, err := tx.GetSession(user)
	switch {
	case err == nil:
		return model.ErrAlreadyBound
	case errors.Is(err, model.ErrNotFound):
		return nil
	default:
		return err
	}
}

// bindingError translates a session unique violation into the lifecycle
// error the user can act on.
func bindingError(err error) error {
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: %v", model.ErrAlreadyBound, err)
	}
	return err
}

// Accept enrolls user in proposal id.
func (m *Matcher) Accept(ctx context.Context, user model.UserID, id model.GameProposalID) error {
	return m.store.Tx(ctx, func(tx store.Tx) error {
		now := m.now()
		p, err := tx.GetProposal(id, true)
		if err != nil {
			return err
		}
		if p.Expired(now) {
			return fmt.Errorf("%w: %s", model.ErrExpired, id)
		}
		sess, err := tx.GetSession(user)
		switch {
		case err == nil:
			if seat, ok := sess.Binding.(model.ProposalSeat); ok && seat.ProposalID == id {
				return fmt.Errorf("%w: %s", model.ErrAlreadyAccepted, id)
			}
			return model.ErrAlreadyBound
		case !errors.Is(err, model.ErrNotFound):
			return err
		}
		acceptees, err := tx.ListAcceptees(id)
		if err != nil {
			return err
		}
		if len(acceptees) >= p.MaxPlayers {
			return fmt.Errorf("%w: %s has %d of %d", model.ErrFull, id, len(acceptees), p.MaxPlayers)
		}

		a := model.Acceptee{ProposalID: id, UserID: user, AcceptedAt: now}
		if err := tx.CreateAcceptee(a); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: %s", model.ErrAlreadyAccepted, id)
			}
			return err
		}
		binding := model.ProposalSeat{ProposalID: id}
		if _, err := tx.CreateSession(model.Session{UserID: user, Binding: binding}); err != nil {
			return bindingError(err)
		}
		acceptees = append(acceptees, a)
		tx.OnCommit(func() {
			m.logger.Info("proposal accepted", zap.Stringer("proposal_id", id), zap.Stringer("user_id", user), zap.Int("acceptees", len(acceptees)))
			m.notifier.Rebind(user, binding)
			m.pushProposal(p, acceptees)
		})
		return nil
	})
}

// SetReady toggles user's readiness and promotes the proposal if that
// completes the quorum. A promotion that fails is reported to the
// acceptees and retried on the next trigger; it is not an error for the
// caller.
func (m *Matcher) SetReady(ctx context.Context, user model.UserID, id model.GameProposalID, ready bool) error {
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		// Promote re-validates readiness under this row lock.
		p, err := tx.GetProposal(id, true)
		if err != nil {
			return err
		}
		ok, err := tx.SetAccepteeReady(id, user, ready)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not in %s", model.ErrNotBound, id)
		}
		acceptees, err := tx.ListAcceptees(id)
		if err != nil {
			return err
		}
		tx.OnCommit(func() {
			m.notifier.Rebind(user, model.ProposalSeat{ProposalID: id, IsReady: ready})
			m.pushProposal(p, acceptees)
		})
		return nil
	})
	if err != nil {
		return err
	}
	m.promoteOrReport(ctx, id)
	return nil
}

// Leave withdraws user from proposal id. Leaving a proposal the user is
// not in does nothing.
func (m *Matcher) Leave(ctx context.Context, user model.UserID, id model.GameProposalID) error {
	left := false
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		left = false
		p, err := tx.GetProposal(id, true)
		exists := err == nil
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		removed, err := tx.DeleteAcceptee(id, user)
		if err != nil {
			return err
		}
		sess, err := tx.GetSession(user)
		if err == nil {
			if seat, ok := sess.Binding.(model.ProposalSeat); ok && seat.ProposalID == id {
				if err := tx.DeleteSession(user); err != nil {
					return err
				}
				removed = true
			}
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if !removed {
			return nil
		}
		left = true

		if !exists {
			tx.OnCommit(func() { m.notifier.Rebind(user, nil) })
			return nil
		}
		acceptees, err := tx.ListAcceptees(id)
		if err != nil {
			return err
		}
		tx.OnCommit(func() {
			m.logger.Info("proposal left", zap.Stringer("proposal_id", id), zap.Stringer("user_id", user))
			m.notifier.Rebind(user, nil)
			m.notifier.Push([]model.UserID{user}, model.Event{Type: model.EventIdle})
			m.pushProposal(p, acceptees)
		})
		return nil
	})
	if err != nil || !left {
		return err
	}
	m.promoteOrReport(ctx, id)
	return nil
}

func (m *Matcher) promoteOrReport(ctx context.Context, id model.GameProposalID) {
	if _, err := m.Promote(ctx, id); err != nil {
		m.logger.Warn("promotion failed", zap.Stringer("proposal_id", id), zap.Error(err))
		m.reportPromotionFailure(ctx, id, err)
	}
}

func (m *Matcher) reportPromotionFailure(ctx context.Context, id model.GameProposalID, cause error) {
	var users []model.UserID
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		acceptees, err := tx.ListAcceptees(id)
		if err != nil {
			return err
		}
		users = users[:0]
		for _, a := range acceptees {
			users = append(users, a.UserID)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("listing acceptees after failed promotion", zap.Stringer("proposal_id", id), zap.Error(err))
		return
	}
	m.notifier.Push(users, model.Event{Type: model.EventError, Data: model.ErrorInfo{
		Code:    "promotion_failed",
		Message: cause.Error(),
	}})
}

// Promote turns proposal id into a running game if its acceptees form a
// ready quorum. It reports whether a game was started. Everything happens
// in one transaction; if the worker cannot be launched nothing changes.
func (m *Matcher) Promote(ctx context.Context, id model.GameProposalID) (bool, error) {
	promoted := false
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		promoted = false
		p, err := tx.GetProposal(id, true)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		acceptees, err := tx.ListAcceptees(id)
		if err != nil {
			return err
		}
		if !p.CanPromote(acceptees) {
			return nil
		}

		seats := model.SeatOrder(acceptees)
		g, err := tx.CreateGame(model.Game{
			GameType:   p.GameType,
			Rules:      p.Rules,
			Seed:       m.seed(),
			NumPlayers: len(seats),
			Snapshot:   json.RawMessage("null"),
		})
		if err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		players := make([]model.GamePlayer, len(seats))
		for i, a := range seats {
			user := a.UserID
			players[i] = model.GamePlayer{GameID: g.ID, PlayerIndex: i, InitialPlayerID: user, PlayerID: &user}
		}
		if err := tx.CreateGamePlayers(players); err != nil {
			return fmt.Errorf("create players: %w", err)
		}
		for i, a := range seats {
			binding := model.GameSeat{GameID: g.ID, PlayerIndex: i}
			if err := tx.UpdateSession(model.Session{UserID: a.UserID, Binding: binding}); err != nil {
				return fmt.Errorf("seat %s: %w", a.UserID, err)
			}
		}
		if err := tx.DeleteAcceptees(id); err != nil {
			return err
		}
		if err := tx.DeleteProposal(id); err != nil {
			return err
		}

		snapshot, err := m.launcher.Prepare(tx.Context(), g)
		if err != nil {
			return err
		}
		tx.OnRollback(func() { m.launcher.Stop(g.ID) })
		now := m.now()
		if err := tx.UpdateGameSnapshot(g.ID, snapshot, 0, now); err != nil {
			return err
		}
		if err := tx.InsertStep(model.GameStep{GameID: g.ID, Ply: 0, Delta: snapshot, CreatedAt: now}); err != nil {
			return err
		}

		promoted = true
		tx.OnCommit(func() {
			m.launcher.Watch(g.ID)
			m.logger.Info("proposal promoted",
				zap.Stringer("proposal_id", id),
				zap.Stringer("game_id", g.ID),
				zap.Int("players", len(seats)),
			)
			for i, a := range seats {
				seat := i
				m.notifier.Rebind(a.UserID, model.GameSeat{GameID: g.ID, PlayerIndex: i})
				m.notifier.Push([]model.UserID{a.UserID}, model.Event{Type: model.EventPromoted, Data: model.GameState{
					GameID:   g.ID.String(),
					Seat:     &seat,
					Ply:      0,
					Snapshot: snapshot,
				}})
			}
		})
		return nil
	})
	return promoted, err
}

func (m *Matcher) pushProposal(p model.GameProposal, acceptees []model.Acceptee) {
	for _, a := range acceptees {
		m.notifier.Push([]model.UserID{a.UserID}, model.Event{Type: model.EventProposal, Data: model.ProposalState{
			ProposalID: p.ID.String(),
			GameType:   p.GameType,
			Acceptees:  len(acceptees),
			Ready:      a.IsReady,
		}})
	}
}
