// Package supervisor owns one rules worker per running game. It restarts
// workers that die from the last persisted snapshot and admits at most one
// action per game at a time.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"
	"gamehub/internal/worker"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

type Config struct {
	LaunchTimeout   time.Duration
	SubmitTimeout   time.Duration
	RestartAttempts int
	// RestartBackoff is the first wait between relaunch attempts.
	RestartBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		LaunchTimeout:   10 * time.Second,
		SubmitTimeout:   10 * time.Second,
		RestartAttempts: 2,
		RestartBackoff:  100 * time.Millisecond,
	}
}

// FailureFunc is told about a game whose worker could not be brought back.
type FailureFunc func(id model.GameID, err error)

type Supervisor struct {
	launcher worker.Launcher
	store    store.Store
	cfg      Config
	logger   *zap.Logger

	handles cmap.ConcurrentMap[model.GameID, *handle]

	failMu   sync.RWMutex
	onFailed FailureFunc
}

// handle is the supervisor's view of one game. slot admits one action at a
// time; mu guards the worker pointer, which recovery swaps.
type handle struct {
	id   model.GameID
	slot chan struct{}

	mu      sync.Mutex
	current worker.Worker
	stopped bool
	watched bool
}

func (h *handle) worker() (worker.Worker, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, !h.stopped
}

func (h *handle) isCurrent(w worker.Worker) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped && h.current == w
}

func New(launcher worker.Launcher, st store.Store, cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.RestartAttempts < 1 {
		cfg.RestartAttempts = 1
	}
	return &Supervisor{
		launcher: launcher,
		store:    st,
		cfg:      cfg,
		logger:   logger.Named("supervisor"),
		handles:  cmap.NewStringer[model.GameID, *handle](),
	}
}

// OnFailed sets the callback run when a game's restart budget is spent.
func (s *Supervisor) OnFailed(fn FailureFunc) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.onFailed = fn
}

// InitFor builds the launch parameters for a game from its persisted row.
func InitFor(g model.Game) worker.Init {
	return worker.Init{
		GameID:      int64(g.ID),
		GameType:    g.GameType,
		NumPlayers:  g.NumPlayers,
		Rules:       g.Rules,
		Seed:        g.Seed,
		Snapshot:    g.Snapshot,
		SnapshotPly: g.SnapshotPly,
	}
}

// Launch starts the worker for g, registers it and watches it for
// crashes. It returns the snapshot the worker starts from, which for a
// fresh game is the initial state. g must already be committed.
func (s *Supervisor) Launch(ctx context.Context, g model.Game) (json.RawMessage, error) {
	snapshot, err := s.Prepare(ctx, g)
	if err != nil {
		return nil, err
	}
	s.Watch(g.ID)
	return snapshot, nil
}

// Prepare starts and registers the worker for g without watching it, so
// it is safe inside the transaction that creates g: a crash before commit
// is only noticed once Watch runs, when the row can be reloaded. Prepare
// never touches the store.
func (s *Supervisor) Prepare(ctx context.Context, g model.Game) (json.RawMessage, error) {
	w, snapshot, err := s.start(ctx, g)
	if err != nil {
		return nil, err
	}
	h := &handle{id: g.ID, slot: make(chan struct{}, 1), current: w}
	var previous *handle
	s.handles.Upsert(g.ID, h, func(exist bool, old, fresh *handle) *handle {
		if exist {
			previous = old
		}
		return fresh
	})
	if previous != nil {
		s.logger.Warn("replacing registered worker", zap.Stringer("game_id", g.ID))
		s.stopHandle(previous)
	}
	return snapshot, nil
}

// Watch starts crash monitoring for the registered worker of id. Calling
// it again is a no-op.
func (s *Supervisor) Watch(id model.GameID) {
	h, ok := s.handles.Get(id)
	if !ok {
		return
	}
	h.mu.Lock()
	if h.stopped || h.watched {
		h.mu.Unlock()
		return
	}
	h.watched = true
	w := h.current
	h.mu.Unlock()
	go s.monitor(h, w)
}

// Resume launches the worker of an already running game, for instance
// after a server restart, retrying within the restart budget.
func (s *Supervisor) Resume(ctx context.Context, g model.Game) error {
	policy := backoff.WithMaxRetries(s.restartBackOff(), uint64(s.cfg.RestartAttempts-1))
	return backoff.Retry(func() error {
		_, err := s.Launch(ctx, g)
		if err != nil {
			s.logger.Warn("resuming game failed", zap.Stringer("game_id", g.ID), zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

func (s *Supervisor) restartBackOff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RestartBackoff
	policy.MaxElapsedTime = 0
	return policy
}

func (s *Supervisor) start(ctx context.Context, g model.Game) (worker.Worker, json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LaunchTimeout)
	defer cancel()
	w, snapshot, err := s.launcher.Launch(ctx, InitFor(g))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: game %s: %v", model.ErrLaunchFailed, g.ID, err)
	}
	s.logger.Info("worker launched",
		zap.Stringer("game_id", g.ID),
		zap.String("game_type", g.GameType),
		zap.Int("snapshot_ply", g.SnapshotPly),
		zap.Bool("fresh", InitFor(g).Fresh()),
	)
	return w, snapshot, nil
}

// Running reports whether a worker is registered for id.
func (s *Supervisor) Running(id model.GameID) bool {
	return s.handles.Has(id)
}

// Stop unregisters and stops the worker for id, if any.
func (s *Supervisor) Stop(id model.GameID) {
	h, ok := s.handles.Pop(id)
	if !ok {
		return
	}
	s.stopHandle(h)
}

// StopAll stops every registered worker.
func (s *Supervisor) StopAll() {
	for _, id := range s.handles.Keys() {
		s.Stop(id)
	}
}

func (s *Supervisor) stopHandle(h *handle) {
	h.mu.Lock()
	w := h.current
	h.stopped = true
	h.mu.Unlock()
	if w != nil {
		_ = w.Stop()
	}
}

func (s *Supervisor) unregister(h *handle) {
	s.handles.RemoveCb(h.id, func(_ model.GameID, v *handle, exists bool) bool {
		return exists && v == h
	})
}

// Submit forwards one action to the game's worker and hands the result to
// persist before admitting the next action for the same game, so persist
// runs with the game's action slot held. An action that dies with the
// worker is retried once against the relaunched worker.
func (s *Supervisor) Submit(ctx context.Context, id model.GameID, seat int, action json.RawMessage, persist func(worker.Output) error) error {
	h, ok := s.handles.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNoSuchWorker, id)
	}
	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.slot }()

	logger := s.logger.With(zap.Stringer("game_id", id), zap.Int("seat", seat))
	for attempt := 0; ; attempt++ {
		w, live := h.worker()
		if !live {
			return fmt.Errorf("%w: %s", model.ErrNoSuchWorker, id)
		}

		sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		out, err := w.Submit(sctx, worker.Action{Seat: seat, Action: action})
		cancel()

		if errors.Is(err, model.ErrInvalidTurn) {
			return err
		}
		if err != nil {
			logger.Warn("worker lost during submit", zap.Int("attempt", attempt), zap.Error(err))
			_ = w.Stop()
			if rerr := s.recoverLocked(ctx, h, w); rerr != nil {
				return rerr
			}
			if attempt == 0 {
				continue
			}
			return fmt.Errorf("%w: %s: %v", model.ErrNoSuchWorker, id, err)
		}

		if err := persist(out); err != nil {
			// The worker is now ahead of the durable log; restart it from
			// what was actually stored.
			logger.Error("persisting worker output failed", zap.Error(err))
			_ = w.Stop()
			if rerr := s.recoverLocked(ctx, h, w); rerr != nil {
				logger.Error("relaunch after persist failure failed", zap.Error(rerr))
			}
			return err
		}

		if out.Completed {
			s.unregister(h)
			s.stopHandle(h)
			logger.Info("game completed, worker stopped")
		}
		return nil
	}
}

// monitor waits for w to exit and restarts it unless the exit was asked for
// or somebody else already replaced it.
func (s *Supervisor) monitor(h *handle, w worker.Worker) {
	<-w.Done()
	if !h.isCurrent(w) {
		return
	}
	h.slot <- struct{}{}
	defer func() { <-h.slot }()
	if !h.isCurrent(w) {
		return
	}
	s.logger.Warn("worker exited unexpectedly", zap.Stringer("game_id", h.id))
	_ = s.recoverLocked(context.Background(), h, w)
}

// recoverLocked relaunches h's worker from the game's persisted snapshot.
// The caller holds h.slot. When every attempt fails the game is handed to
// the failure callback and ErrGameFailed is returned.
func (s *Supervisor) recoverLocked(ctx context.Context, h *handle, dead worker.Worker) error {
	logger := s.logger.With(zap.Stringer("game_id", h.id))
	if !h.isCurrent(dead) {
		return nil
	}

	policy := s.restartBackOff()
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RestartAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(policy.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		g, err := s.loadGame(ctx, h.id)
		if err != nil {
			lastErr = err
			logger.Warn("loading game for relaunch failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !g.Active() {
			logger.Info("game no longer active, not relaunching")
			s.unregister(h)
			s.stopHandle(h)
			return fmt.Errorf("%w: %s", model.ErrNoSuchWorker, h.id)
		}
		w, _, err := s.start(ctx, g)
		if err != nil {
			lastErr = err
			logger.Warn("relaunch failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			_ = w.Stop()
			return fmt.Errorf("%w: %s", model.ErrNoSuchWorker, h.id)
		}
		h.current = w
		h.watched = true
		h.mu.Unlock()
		go s.monitor(h, w)
		logger.Info("worker relaunched", zap.Int("attempt", attempt), zap.Int("snapshot_ply", g.SnapshotPly))
		return nil
	}

	logger.Error("giving up on worker", zap.Int("attempts", s.cfg.RestartAttempts), zap.Error(lastErr))
	s.unregister(h)
	s.stopHandle(h)
	s.failMu.RLock()
	onFailed := s.onFailed
	s.failMu.RUnlock()
	if onFailed != nil {
		onFailed(h.id, lastErr)
	}
	return fmt.Errorf("%w: %s: %v", model.ErrGameFailed, h.id, lastErr)
}

func (s *Supervisor) loadGame(ctx context.Context, id model.GameID) (model.Game, error) {
	var g model.Game
	err := s.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		g, err = tx.GetGame(id, false)
		return err
	})
	return g, err
}
