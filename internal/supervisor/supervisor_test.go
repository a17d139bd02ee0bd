package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"
	"gamehub/internal/worker"
	"gamehub/internal/worker/workertest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*Supervisor, *workertest.Launcher, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	launcher := workertest.NewLauncher()
	cfg := DefaultConfig()
	cfg.RestartBackoff = time.Millisecond
	sup := New(launcher, st, cfg, zap.NewNop())
	t.Cleanup(sup.StopAll)
	return sup, launcher, st
}

func createGame(t *testing.T, st store.Store, snapshot string, ply int) model.Game {
	t.Helper()
	var g model.Game
	err := st.Tx(context.Background(), func(tx store.Tx) error {
		var err error
		g, err = tx.CreateGame(model.Game{
			GameType:    workertest.CounterGame,
			Rules:       json.RawMessage(`{"target":10}`),
			Seed:        99,
			NumPlayers:  2,
			Snapshot:    json.RawMessage(snapshot),
			SnapshotPly: ply,
		})
		return err
	})
	require.NoError(t, err)
	return g
}

func state(t *testing.T, raw json.RawMessage) workertest.CounterState {
	t.Helper()
	var s workertest.CounterState
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func collect(outs *[]worker.Output) func(worker.Output) error {
	return func(out worker.Output) error {
		*outs = append(*outs, out)
		return nil
	}
}

func TestLaunchAndSubmit(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, "null", 0)

	snapshot, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)
	require.Equal(t, workertest.CounterState{}, state(t, snapshot))
	require.True(t, sup.Running(g.ID))

	init := launcher.Inits()[0]
	require.Equal(t, int64(g.ID), init.GameID)
	require.Equal(t, int64(99), init.Seed)
	require.True(t, init.Fresh())

	var outs []worker.Output
	require.NoError(t, sup.Submit(context.Background(), g.ID, 0, json.RawMessage("3"), collect(&outs)))
	require.Len(t, outs, 1)
	require.Equal(t, workertest.CounterState{Total: 3, Turn: 1}, state(t, outs[0].Snapshot))
}

func TestSubmitRejectedAction(t *testing.T) {
	sup, _, st := setup(t)
	g := createGame(t, st, "null", 0)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	var outs []worker.Output
	err = sup.Submit(context.Background(), g.ID, 1, json.RawMessage("3"), collect(&outs))
	require.ErrorIs(t, err, model.ErrInvalidTurn)
	require.Empty(t, outs)
	require.True(t, sup.Running(g.ID))
}

func TestSubmitWithoutWorker(t *testing.T) {
	sup, _, _ := setup(t)
	err := sup.Submit(context.Background(), 404, 0, json.RawMessage("1"), collect(new([]worker.Output)))
	require.ErrorIs(t, err, model.ErrNoSuchWorker)
}

func TestLaunchFailure(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, "null", 0)
	launcher.FailLaunches(1)

	_, err := sup.Launch(context.Background(), g)
	require.ErrorIs(t, err, model.ErrLaunchFailed)
	require.False(t, sup.Running(g.ID))

	g.GameType = "chess"
	_, err = sup.Launch(context.Background(), g)
	require.ErrorIs(t, err, model.ErrLaunchFailed)
	require.ErrorContains(t, err, worker.ErrUnknownGameType.Error())
}

func TestPreparedWorkerIsNotWatchedUntilWatch(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":3,"turn":0}`, 2)
	_, err := sup.Prepare(context.Background(), g)
	require.NoError(t, err)
	require.True(t, sup.Running(g.ID))

	require.True(t, launcher.Crash(g.ID))
	require.Never(t, func() bool { return len(launcher.Inits()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	require.True(t, sup.Running(g.ID))

	sup.Watch(g.ID)
	sup.Watch(g.ID)
	require.Eventually(t, func() bool { return len(launcher.Inits()) == 2 && launcher.Live(g.ID) }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, launcher.Inits()[1].SnapshotPly)
	require.Never(t, func() bool { return len(launcher.Inits()) > 2 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestCrashRelaunchesFromPersistedSnapshot(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":7,"turn":1}`, 5)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	require.True(t, launcher.Crash(g.ID))
	require.Eventually(t, func() bool { return len(launcher.Inits()) == 2 && launcher.Live(g.ID) }, 2*time.Second, 5*time.Millisecond)

	relaunch := launcher.Inits()[1]
	require.Equal(t, 5, relaunch.SnapshotPly)
	require.JSONEq(t, `{"total":7,"turn":1}`, string(relaunch.Snapshot))

	var outs []worker.Output
	require.NoError(t, sup.Submit(context.Background(), g.ID, 1, json.RawMessage("1"), collect(&outs)))
	require.Equal(t, workertest.CounterState{Total: 8, Turn: 0}, state(t, outs[0].Snapshot))
}

func TestCrashDuringSubmitRetriesOnce(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":2,"turn":0}`, 5)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	launcher.CrashOnSubmit(g.ID)
	var outs []worker.Output
	require.NoError(t, sup.Submit(context.Background(), g.ID, 0, json.RawMessage("4"), collect(&outs)))
	require.Len(t, outs, 1)
	require.Equal(t, workertest.CounterState{Total: 6, Turn: 1}, state(t, outs[0].Snapshot))
	require.Len(t, launcher.Inits(), 2)
	require.Equal(t, 5, launcher.Inits()[1].SnapshotPly)
}

func TestRestartBudgetExhausted(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, "null", 0)
	type failure struct {
		id  model.GameID
		err error
	}
	failed := make(chan failure, 1)
	sup.OnFailed(func(id model.GameID, err error) { failed <- failure{id, err} })
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	launcher.FailLaunches(2)
	require.True(t, launcher.Crash(g.ID))

	select {
	case f := <-failed:
		require.Equal(t, g.ID, f.id)
		require.ErrorIs(t, f.err, model.ErrLaunchFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not called")
	}
	require.False(t, sup.Running(g.ID))
	require.Len(t, launcher.Inits(), 3)

	err = sup.Submit(context.Background(), g.ID, 0, json.RawMessage("1"), collect(new([]worker.Output)))
	require.ErrorIs(t, err, model.ErrNoSuchWorker)
}

func TestOneActionInFlightPerGame(t *testing.T) {
	sup, _, st := setup(t)
	g := createGame(t, st, `{"total":0,"turn":0}`, 0)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	var inflight, peak atomic.Int32
	persist := func(worker.Output) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(seat int) {
			defer wg.Done()
			if err := sup.Submit(context.Background(), g.ID, seat, json.RawMessage("1"), persist); err == nil {
				accepted.Add(1)
			}
		}(i % 2)
	}
	wg.Wait()
	require.Equal(t, int32(1), peak.Load())
	require.Positive(t, accepted.Load())
}

func TestCompletionStopsWorker(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":9,"turn":0}`, 3)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	var outs []worker.Output
	require.NoError(t, sup.Submit(context.Background(), g.ID, 0, json.RawMessage("1"), collect(&outs)))
	require.True(t, outs[0].Completed)
	require.Len(t, outs[0].Results, 2)
	require.False(t, sup.Running(g.ID))
	require.Eventually(t, func() bool { return !launcher.Live(g.ID) }, time.Second, 5*time.Millisecond)
	require.Len(t, launcher.Inits(), 1)
}

func TestPersistFailureRestartsFromDurableState(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":0,"turn":0}`, 0)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	boom := errors.New("disk on fire")
	err = sup.Submit(context.Background(), g.ID, 0, json.RawMessage("4"), func(worker.Output) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Len(t, launcher.Inits(), 2)

	// Seat 0 still has the move because the failed turn never became durable.
	var outs []worker.Output
	require.NoError(t, sup.Submit(context.Background(), g.ID, 0, json.RawMessage("1"), collect(&outs)))
	require.Equal(t, workertest.CounterState{Total: 1, Turn: 1}, state(t, outs[0].Snapshot))
}

func TestStopIsQuiet(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, "null", 0)
	_, err := sup.Launch(context.Background(), g)
	require.NoError(t, err)

	sup.Stop(g.ID)
	sup.Stop(g.ID)
	require.False(t, sup.Running(g.ID))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, launcher.Inits(), 1)
}

func TestResumeRetriesWithinBudget(t *testing.T) {
	sup, launcher, st := setup(t)
	g := createGame(t, st, `{"total":3,"turn":1}`, 4)

	launcher.FailLaunches(1)
	require.NoError(t, sup.Resume(context.Background(), g))
	require.True(t, sup.Running(g.ID))
	require.Len(t, launcher.Inits(), 2)

	other := createGame(t, st, "null", 0)
	launcher.FailLaunches(2)
	err := sup.Resume(context.Background(), other)
	require.ErrorIs(t, err, model.ErrLaunchFailed)
	require.False(t, sup.Running(other.ID))
}
