// Package orchestrator wires the session registry, proposal matcher,
// process supervisor and turn pipeline together and is what the transport
// talks to.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gamehub/internal/matcher"
	"gamehub/internal/model"
	"gamehub/internal/pipeline"
	"gamehub/internal/registry"
	"gamehub/internal/store"
	"gamehub/internal/supervisor"
	"gamehub/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	SweepInterval time.Duration
	ProposalTTL   time.Duration
	Supervisor    supervisor.Config
}

func DefaultOptions() Options {
	return Options{
		SweepInterval: 5 * time.Second,
		ProposalTTL:   5 * time.Minute,
		Supervisor:    supervisor.DefaultConfig(),
	}
}

type Orchestrator struct {
	store      store.Store
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	pipeline   *pipeline.Pipeline
	matcher    *matcher.Matcher
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func New(st store.Store, launcher worker.Launcher, opts Options, logger *zap.Logger) *Orchestrator {
	reg := registry.New(st, logger)
	sup := supervisor.New(launcher, st, opts.Supervisor, logger)
	pipe := pipeline.New(st, sup, reg, logger)
	match := matcher.New(st, sup, reg, matcher.Config{ProposalTTL: opts.ProposalTTL}, logger)
	reg.SetRoutes(pipe, match)

	o := &Orchestrator{
		store:      st,
		registry:   reg,
		supervisor: sup,
		pipeline:   pipe,
		matcher:    match,
		opts:       opts,
		logger:     logger.Named("orchestrator"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	sup.OnFailed(o.HandleGameFailed)
	return o
}

func (o *Orchestrator) Registry() *registry.Registry       { return o.registry }
func (o *Orchestrator) Supervisor() *supervisor.Supervisor { return o.supervisor }
func (o *Orchestrator) Matcher() *matcher.Matcher          { return o.matcher }

// Run resumes interrupted games and then sweeps proposals until ctx is
// done, at which point every worker is stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.matcher.RunSweep(ctx, o.opts.SweepInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		o.supervisor.StopAll()
		return nil
	})
	return g.Wait()
}

// Recover starts a worker for every game that was running when the server
// last stopped. Games whose worker cannot be started are failed.
func (o *Orchestrator) Recover(ctx context.Context) error {
	var games []model.Game
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		games, err = tx.ListActiveGames()
		return err
	})
	if err != nil {
		return fmt.Errorf("list active games: %w", err)
	}
	for _, g := range games {
		if o.supervisor.Running(g.ID) {
			continue
		}
		if err := o.supervisor.Resume(ctx, g); err != nil {
			o.HandleGameFailed(g.ID, err)
			continue
		}
	}
	o.logger.Info("recovered running games", zap.Int("games", len(games)))
	return nil
}

// Connect binds a new connection and sends it the user's current state.
func (o *Orchestrator) Connect(ctx context.Context, user model.UserID, conn registry.Conn) error {
	if _, err := o.registry.Bind(ctx, user, conn); err != nil {
		return err
	}
	event, err := o.currentState(ctx, user)
	if err != nil {
		return err
	}
	return conn.Send(event)
}

// Action routes a payload from a connected user.
func (o *Orchestrator) Action(ctx context.Context, user model.UserID, payload json.RawMessage) error {
	return o.registry.Route(ctx, user, payload)
}

// Disconnect forgets conn. The user keeps their session.
func (o *Orchestrator) Disconnect(user model.UserID, conn registry.Conn) {
	o.registry.Unbind(user, conn)
}

// stateAttempts bounds how often currentState rereads a session whose
// proposal or game vanished between two statements.
const stateAttempts = 3

func (o *Orchestrator) currentState(ctx context.Context, user model.UserID) (model.Event, error) {
	var event model.Event
	var err error
	for attempt := 0; attempt < stateAttempts; attempt++ {
		err = o.store.Tx(ctx, func(tx store.Tx) error {
			var binding model.Binding
			s, err := tx.GetSession(user)
			switch {
			case err == nil:
				binding = s.Binding
			case !errors.Is(err, model.ErrNotFound):
				return err
			}
			event, err = stateEvent(tx, binding)
			return err
		})
		if !errors.Is(err, model.ErrNotFound) {
			break
		}
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("state for %s: %w", user, err)
	}
	return event, nil
}

func stateEvent(tx store.Tx, binding model.Binding) (model.Event, error) {
	switch b := binding.(type) {
	case model.GameSeat:
		g, err := tx.GetGame(b.GameID, false)
		if err != nil {
			return model.Event{}, err
		}
		seat := b.PlayerIndex
		return model.Event{Type: model.EventSnapshot, Data: model.GameState{
			GameID:   g.ID.String(),
			Seat:     &seat,
			Ply:      g.SnapshotPly,
			Snapshot: g.Snapshot,
		}}, nil
	case model.ProposalSeat:
		p, err := tx.GetProposal(b.ProposalID, false)
		if err != nil {
			return model.Event{}, err
		}
		acceptees, err := tx.ListAcceptees(b.ProposalID)
		if err != nil {
			return model.Event{}, err
		}
		return model.Event{Type: model.EventProposal, Data: model.ProposalState{
			ProposalID: p.ID.String(),
			GameType:   p.GameType,
			Acceptees:  len(acceptees),
			Ready:      b.IsReady,
		}}, nil
	default:
		return model.Event{Type: model.EventIdle}, nil
	}
}

// Propose opens a proposal on behalf of user.
func (o *Orchestrator) Propose(ctx context.Context, user model.UserID, params matcher.CreateParams) (model.GameProposal, error) {
	return o.matcher.Create(ctx, user, params)
}

// Accept enrolls user in a proposal.
func (o *Orchestrator) Accept(ctx context.Context, user model.UserID, id model.GameProposalID) error {
	return o.matcher.Accept(ctx, user, id)
}

// proposalOf returns the proposal user is waiting in.
func (o *Orchestrator) proposalOf(ctx context.Context, user model.UserID) (model.ProposalSeat, error) {
	s, ok, err := o.CurrentSession(ctx, user)
	if err != nil {
		return model.ProposalSeat{}, err
	}
	seat, isProposal := s.Binding.(model.ProposalSeat)
	if !ok || !isProposal {
		return model.ProposalSeat{}, fmt.Errorf("%w: not waiting in a proposal", model.ErrNotBound)
	}
	return seat, nil
}

// SetReady sets readiness in whatever proposal user is waiting in.
func (o *Orchestrator) SetReady(ctx context.Context, user model.UserID, ready bool) error {
	seat, err := o.proposalOf(ctx, user)
	if err != nil {
		return err
	}
	return o.matcher.SetReady(ctx, user, seat.ProposalID, ready)
}

// Leave withdraws user from whatever proposal they are waiting in.
func (o *Orchestrator) Leave(ctx context.Context, user model.UserID) error {
	seat, err := o.proposalOf(ctx, user)
	if err != nil {
		return err
	}
	return o.matcher.Leave(ctx, user, seat.ProposalID)
}

// HandleGameFailed marks a game failed after its worker could not be
// restarted, frees its seats and leaves each seated player a message.
func (o *Orchestrator) HandleGameFailed(id model.GameID, cause error) {
	ctx := context.Background()
	var users []model.UserID
	var messages []model.Message
	failed := false
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		users, messages, failed = nil, nil, false
		g, err := tx.GetGame(id, true)
		if err != nil {
			return err
		}
		if !g.Active() {
			return nil
		}
		failed = true
		now := o.now()
		if err := tx.FailGame(id, now); err != nil {
			return err
		}
		players, err := tx.ListGamePlayers(id)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteSessionsForGame(id); err != nil {
			return err
		}
		users = model.SeatedUsers(players)
		for _, user := range users {
			msg, err := tx.CreateMessage(model.Message{
				ToID:    user,
				Subject: fmt.Sprintf("Game %s failed", id),
				Body:    fmt.Sprintf("Your %s game %s stopped at ply %d because its worker could not be restarted.", g.GameType, id, g.SnapshotPly),
				SentAt:  now,
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("recording game failure", zap.Stringer("game_id", id), zap.Error(err))
		return
	}
	if !failed {
		return
	}
	o.logger.Error("game failed", zap.Stringer("game_id", id), zap.Int("players", len(users)), zap.Error(cause))
	for i, user := range users {
		o.registry.Rebind(user, nil)
		o.registry.Push([]model.UserID{user}, model.Event{Type: model.EventFailed, Data: model.GameState{GameID: id.String()}})
		o.registry.Push([]model.UserID{user}, newMessageEvent(messages[i]))
	}
}

// CurrentSession returns the user's session, reporting false when idle.
func (o *Orchestrator) CurrentSession(ctx context.Context, user model.UserID) (model.Session, bool, error) {
	var s model.Session
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		s, err = tx.GetSession(user)
		return err
	})
	if errors.Is(err, model.ErrNotFound) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	return s, true, nil
}
