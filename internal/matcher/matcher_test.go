package matcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"
	"gamehub/internal/supervisor"
	"gamehub/internal/worker/workertest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu      sync.Mutex
	events  map[model.UserID][]model.Event
	binding map[model.UserID]model.Binding
}

func newRecorder() *recorder {
	return &recorder{events: make(map[model.UserID][]model.Event), binding: make(map[model.UserID]model.Binding)}
}

func (r *recorder) Push(users []model.UserID, event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range users {
		r.events[u] = append(r.events[u], event)
	}
}

func (r *recorder) Rebind(user model.UserID, binding model.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binding[user] = binding
}

func (r *recorder) last(user model.UserID) model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events[user]
	if len(events) == 0 {
		return model.Event{}
	}
	return events[len(events)-1]
}

func (r *recorder) bound(user model.UserID) model.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.binding[user]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	st       *store.Memory
	launcher *workertest.Launcher
	sup      *supervisor.Supervisor
	notes    *recorder
	clock    *clock
	m        *Matcher
	users    []model.UserID
}

func newFixture(t *testing.T, users int) *fixture {
	t.Helper()
	f := &fixture{
		st:       store.NewMemory(),
		launcher: workertest.NewLauncher(),
		notes:    newRecorder(),
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.sup = supervisor.New(f.launcher, f.st, supervisor.DefaultConfig(), zap.NewNop())
	t.Cleanup(f.sup.StopAll)
	f.m = New(f.st, f.sup, f.notes, Config{ProposalTTL: time.Minute}, zap.NewNop())
	f.m.now = f.clock.now
	f.m.seed = func() int64 { return 1234 }

	err := f.st.Tx(context.Background(), func(tx store.Tx) error {
		for i := 0; i < users; i++ {
			u, err := tx.CreateUser(string(rune('a' + i)))
			if err != nil {
				return err
			}
			f.users = append(f.users, u.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) session(t *testing.T, user model.UserID) (model.Session, error) {
	t.Helper()
	var s model.Session
	err := f.st.Tx(context.Background(), func(tx store.Tx) error {
		var err error
		s, err = tx.GetSession(user)
		return err
	})
	return s, err
}

func (f *fixture) acceptees(t *testing.T, id model.GameProposalID) []model.Acceptee {
	t.Helper()
	var out []model.Acceptee
	require.NoError(t, f.st.Tx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListAcceptees(id)
		return err
	}))
	return out
}

func (f *fixture) propose(t *testing.T, params CreateParams) model.GameProposal {
	t.Helper()
	if params.GameType == "" {
		params.GameType = workertest.CounterGame
	}
	p, err := f.m.Create(context.Background(), f.users[0], params)
	require.NoError(t, err)
	return p
}

// accept enrolls users one clock tick apart so seat order is predictable.
func (f *fixture) accept(t *testing.T, id model.GameProposalID, users ...model.UserID) {
	t.Helper()
	for _, u := range users {
		f.clock.advance(time.Second)
		require.NoError(t, f.m.Accept(context.Background(), u, id))
	}
}

func TestCreateDefaultsAndEnrollsCreator(t *testing.T) {
	f := newFixture(t, 1)
	p := f.propose(t, CreateParams{})

	require.Equal(t, 2, p.MinPlayers)
	require.Equal(t, 8, p.MaxPlayers)
	require.Equal(t, 1, p.ModPlayers)
	require.JSONEq(t, "null", string(p.Rules))
	require.Equal(t, f.clock.now().Add(time.Minute), p.Deadline)

	s, err := f.session(t, f.users[0])
	require.NoError(t, err)
	require.Equal(t, model.ProposalSeat{ProposalID: p.ID}, s.Binding)
	require.Len(t, f.acceptees(t, p.ID), 1)
	require.Equal(t, model.ProposalSeat{ProposalID: p.ID}, f.notes.bound(f.users[0]))
	require.Equal(t, model.EventProposal, f.notes.last(f.users[0]).Type)

	_, err = f.m.Create(context.Background(), f.users[0], CreateParams{GameType: workertest.CounterGame})
	require.ErrorIs(t, err, model.ErrAlreadyBound)
}

func TestCreateRejectsImpossibleBounds(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.m.Create(context.Background(), f.users[0], CreateParams{GameType: "x", MinPlayers: 3, MaxPlayers: 3, ModPlayers: 2})
	require.ErrorIs(t, err, model.ErrInvalidProposal)
	_, err = f.m.Create(context.Background(), f.users[0], CreateParams{})
	require.ErrorIs(t, err, model.ErrInvalidProposal)
	_, err = f.session(t, f.users[0])
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateWithInviteIsVisibleToInvitee(t *testing.T) {
	f := newFixture(t, 3)
	invitee := f.users[1]
	p := f.propose(t, CreateParams{InviteUser: &invitee})

	visible := func(u model.UserID) []model.GameProposal {
		var out []model.GameProposal
		require.NoError(t, f.st.Tx(context.Background(), func(tx store.Tx) error {
			var err error
			out, err = tx.VisibleProposals(u)
			return err
		}))
		return out
	}
	require.Len(t, visible(invitee), 1)
	require.Equal(t, p.ID, visible(invitee)[0].ID)
	require.Empty(t, visible(f.users[2]))
}

func TestAcceptErrors(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	p := f.propose(t, CreateParams{MinPlayers: 2, MaxPlayers: 2})

	require.ErrorIs(t, f.m.Accept(ctx, f.users[1], 999), model.ErrNotFound)
	require.ErrorIs(t, f.m.Accept(ctx, f.users[0], p.ID), model.ErrAlreadyAccepted)

	f.accept(t, p.ID, f.users[1])
	require.ErrorIs(t, f.m.Accept(ctx, f.users[2], p.ID), model.ErrFull)

	other, err := f.m.Create(ctx, f.users[2], CreateParams{GameType: workertest.CounterGame})
	require.NoError(t, err)
	require.ErrorIs(t, f.m.Accept(ctx, f.users[2], p.ID), model.ErrAlreadyBound)
	require.ErrorIs(t, f.m.Accept(ctx, f.users[1], other.ID), model.ErrAlreadyBound)

	f.clock.advance(2 * time.Minute)
	require.ErrorIs(t, f.m.Accept(ctx, f.users[3], other.ID), model.ErrExpired)
}

func TestConcurrentAcceptAtCapacity(t *testing.T) {
	f := newFixture(t, 4)
	p := f.propose(t, CreateParams{MinPlayers: 2, MaxPlayers: 3})
	f.accept(t, p.ID, f.users[1])

	errs := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	for _, u := range f.users[2:] {
		go func(u model.UserID) {
			start.Wait()
			errs <- f.m.Accept(context.Background(), u, p.ID)
		}(u)
	}
	start.Done()

	var ok, full int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, model.ErrFull)
			full++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, full)
	require.Len(t, f.acceptees(t, p.ID), 3)
}

func TestTwoReadyPlayersPromoteWithEvenModulus(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	p := f.propose(t, CreateParams{MinPlayers: 2, MaxPlayers: 4, ModPlayers: 2})
	f.accept(t, p.ID, f.users[1])

	require.NoError(t, f.m.SetReady(ctx, f.users[1], p.ID, true))
	require.Len(t, f.launcher.Inits(), 0)
	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))

	inits := f.launcher.Inits()
	require.Len(t, inits, 1)
	require.Equal(t, int64(1234), inits[0].Seed)
	require.Equal(t, 2, inits[0].NumPlayers)
	gameID := model.GameID(inits[0].GameID)

	var g model.Game
	var steps []model.GameStep
	var players []model.GamePlayer
	require.NoError(t, f.st.Tx(ctx, func(tx store.Tx) error {
		var err error
		if g, err = tx.GetGame(gameID, false); err != nil {
			return err
		}
		if steps, err = tx.ListSteps(gameID); err != nil {
			return err
		}
		if players, err = tx.ListGamePlayers(gameID); err != nil {
			return err
		}
		_, err = tx.GetProposal(p.ID, false)
		require.ErrorIs(t, err, model.ErrNotFound)
		return nil
	}))
	require.Equal(t, int64(1234), g.Seed)
	require.Equal(t, 0, g.SnapshotPly)
	require.JSONEq(t, `{"total":0,"turn":0}`, string(g.Snapshot))
	require.Len(t, steps, 1)
	require.Equal(t, 0, steps[0].Ply)
	require.Len(t, players, 2)
	require.Equal(t, f.users[0], *players[0].PlayerID)
	require.Equal(t, f.users[1], *players[1].PlayerID)

	for i, u := range f.users[:2] {
		s, err := f.session(t, u)
		require.NoError(t, err)
		require.Equal(t, model.GameSeat{GameID: gameID, PlayerIndex: i}, s.Binding)
		require.Equal(t, model.GameSeat{GameID: gameID, PlayerIndex: i}, f.notes.bound(u))
		require.Equal(t, model.EventPromoted, f.notes.last(u).Type)
	}
	require.Empty(t, f.acceptees(t, p.ID))
	require.True(t, f.sup.Running(gameID))

	require.ErrorIs(t, f.m.Accept(ctx, f.users[2], p.ID), model.ErrNotFound)
}

func TestPromotionNeedsModulusAndReadiness(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	p := f.propose(t, CreateParams{MinPlayers: 2, MaxPlayers: 4, ModPlayers: 2})
	f.accept(t, p.ID, f.users[1], f.users[2])
	for _, u := range f.users {
		require.NoError(t, f.m.SetReady(ctx, u, p.ID, true))
	}
	require.Empty(t, f.launcher.Inits())
	require.Len(t, f.acceptees(t, p.ID), 3)

	require.NoError(t, f.m.Leave(ctx, f.users[2], p.ID))
	require.Len(t, f.launcher.Inits(), 1)
	_, err := f.session(t, f.users[2])
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Nil(t, f.notes.bound(f.users[2]))
}

func TestSetReadyRequiresMembership(t *testing.T) {
	f := newFixture(t, 2)
	p := f.propose(t, CreateParams{})
	err := f.m.SetReady(context.Background(), f.users[1], p.ID, true)
	require.ErrorIs(t, err, model.ErrNotBound)
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	p := f.propose(t, CreateParams{})
	f.accept(t, p.ID, f.users[1])

	require.NoError(t, f.m.Leave(ctx, f.users[1], p.ID))
	require.NoError(t, f.m.Leave(ctx, f.users[1], p.ID))
	require.NoError(t, f.m.Leave(ctx, f.users[1], 999))
	require.Len(t, f.acceptees(t, p.ID), 1)
	require.Equal(t, model.EventIdle, f.notes.last(f.users[1]).Type)
}

func TestLaunchFailureRollsBackPromotion(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	p := f.propose(t, CreateParams{})
	f.accept(t, p.ID, f.users[1])
	require.NoError(t, f.m.SetReady(ctx, f.users[1], p.ID, true))

	f.launcher.FailLaunches(1)
	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))

	require.Len(t, f.acceptees(t, p.ID), 2)
	s, err := f.session(t, f.users[0])
	require.NoError(t, err)
	require.Equal(t, model.ProposalSeat{ProposalID: p.ID, IsReady: true}, s.Binding)
	last := f.notes.last(f.users[0])
	require.Equal(t, model.EventError, last.Type)
	require.Equal(t, "promotion_failed", last.Data.(model.ErrorInfo).Code)

	// The next readiness trigger tries again.
	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))
	require.Len(t, f.launcher.Inits(), 2)
	require.Empty(t, f.acceptees(t, p.ID))
}

func TestPromoteMissingProposal(t *testing.T) {
	f := newFixture(t, 0)
	promoted, err := f.m.Promote(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, promoted)
}

func TestSweepExpiresProposals(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	p := f.propose(t, CreateParams{MinPlayers: 3, MaxPlayers: 3})
	f.accept(t, p.ID, f.users[1])
	require.NoError(t, f.m.Sweep(ctx))
	require.Len(t, f.acceptees(t, p.ID), 2)

	f.clock.advance(time.Hour)
	require.NoError(t, f.m.Sweep(ctx))

	require.ErrorIs(t, f.m.Accept(ctx, f.users[2], p.ID), model.ErrNotFound)
	for _, u := range f.users[:2] {
		_, err := f.session(t, u)
		require.ErrorIs(t, err, model.ErrNotFound)
		require.Nil(t, f.notes.bound(u))
		require.Equal(t, model.EventExpired, f.notes.last(u).Type)
	}
	require.NoError(t, f.m.Sweep(ctx))
}

func TestSweepPromotesReadyQuorumAtDeadline(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	p := f.propose(t, CreateParams{})
	f.accept(t, p.ID, f.users[1])
	require.NoError(t, f.m.SetReady(ctx, f.users[1], p.ID, true))
	f.launcher.FailLaunches(1)
	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))
	require.Len(t, f.acceptees(t, p.ID), 2)

	f.clock.advance(time.Hour)
	require.NoError(t, f.m.Sweep(ctx))

	s, err := f.session(t, f.users[0])
	require.NoError(t, err)
	_, seated := s.Binding.(model.GameSeat)
	require.True(t, seated)
}

func TestRunSweepStopsWithContext(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.RunSweep(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPromotionCarriesRules(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	rules := json.RawMessage(`{"target":3}`)
	p := f.propose(t, CreateParams{Rules: rules})
	f.accept(t, p.ID, f.users[1])
	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))
	require.NoError(t, f.m.SetReady(ctx, f.users[1], p.ID, true))

	init := f.launcher.Inits()[0]
	require.JSONEq(t, string(rules), string(init.Rules))
	require.True(t, init.Fresh())
}

// crashAfterPrepare kills each worker as soon as it is prepared, while the
// promoting transaction is still open.
type crashAfterPrepare struct {
	*supervisor.Supervisor
	workers *workertest.Launcher
}

func (c crashAfterPrepare) Prepare(ctx context.Context, g model.Game) (json.RawMessage, error) {
	snapshot, err := c.Supervisor.Prepare(ctx, g)
	if err == nil {
		c.workers.Crash(g.ID)
	}
	return snapshot, err
}

func TestWorkerDyingBeforePromotionCommitsIsRelaunched(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.m.launcher = crashAfterPrepare{Supervisor: f.sup, workers: f.launcher}
	p := f.propose(t, CreateParams{MinPlayers: 2, MaxPlayers: 2})
	f.accept(t, p.ID, f.users[1])

	require.NoError(t, f.m.SetReady(ctx, f.users[0], p.ID, true))
	require.NoError(t, f.m.SetReady(ctx, f.users[1], p.ID, true))

	inits := f.launcher.Inits()
	require.NotEmpty(t, inits)
	gameID := model.GameID(inits[0].GameID)
	require.Eventually(t, func() bool {
		return len(f.launcher.Inits()) == 2 && f.launcher.Live(gameID)
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.sup.Running(gameID))

	relaunch := f.launcher.Inits()[1]
	require.Equal(t, 0, relaunch.SnapshotPly)
	require.JSONEq(t, `{"total":0,"turn":0}`, string(relaunch.Snapshot))
}
