// Package workertest provides in-process workers with failure injection
// for tests of the packages that drive workers.
package workertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"gamehub/internal/games/rps"
	"gamehub/internal/model"
	"gamehub/internal/worker"

	"go.uber.org/zap"
)

const CounterGame = "counter"

// ErrInjected is returned by launches that were told to fail.
var ErrInjected = errors.New("injected launch failure")

// Counter adds each integer action to a total; seats take turns and the
// game completes once the total reaches the "target" rule (default 10).
type Counter struct{}

type CounterState struct {
	Total int `json:"total"`
	Turn  int `json:"turn"`
}

func target(rules json.RawMessage) int {
	var r struct {
		Target int `json:"target"`
	}
	if err := json.Unmarshal(rules, &r); err != nil || r.Target <= 0 {
		return 10
	}
	return r.Target
}

func (Counter) Initial(setup worker.Init) (json.RawMessage, error) {
	if setup.NumPlayers < 1 {
		return nil, errors.New("counter needs a player")
	}
	return json.Marshal(CounterState{})
}

func (Counter) Apply(setup worker.Init, raw json.RawMessage, seat int, action json.RawMessage) (worker.Step, error) {
	var s CounterState
	if err := json.Unmarshal(raw, &s); err != nil {
		return worker.Step{}, err
	}
	var n int
	if err := json.Unmarshal(action, &n); err != nil || n < 0 {
		return worker.Step{}, worker.Reject("not a count: %s", action)
	}
	if seat != s.Turn {
		return worker.Step{}, worker.Reject("seat %d moves next", s.Turn)
	}
	s.Total += n
	s.Turn = (s.Turn + 1) % setup.NumPlayers
	snapshot, err := json.Marshal(s)
	if err != nil {
		return worker.Step{}, err
	}
	delta, err := json.Marshal(map[string]int{"seat": seat, "added": n})
	if err != nil {
		return worker.Step{}, err
	}
	step := worker.Step{Delta: delta, Snapshot: snapshot}
	if s.Total >= target(setup.Rules) {
		step.Completed = true
		for i := 0; i < setup.NumPlayers; i++ {
			position := 1
			if i == seat {
				position = 0
			}
			step.Results = append(step.Results, model.SeatResult{PlayerIndex: i, Position: position, Score: int64(s.Total)})
		}
	}
	return step, nil
}

// Launcher runs Counter and rock-paper-scissors in process and lets tests
// fail launches or crash running workers.
type Launcher struct {
	inner *worker.LocalLauncher

	mu        sync.Mutex
	failNext  int
	crashNext map[model.GameID]bool
	live      map[model.GameID]*Worker
	inits     []worker.Init
}

func NewLauncher() *Launcher {
	engines := map[string]worker.Engine{
		CounterGame:  Counter{},
		rps.GameType: rps.Engine{},
	}
	return &Launcher{
		inner:     worker.NewLocalLauncher(engines, zap.NewNop()),
		crashNext: make(map[model.GameID]bool),
		live:      make(map[model.GameID]*Worker),
	}
}

func (l *Launcher) Launch(ctx context.Context, init worker.Init) (worker.Worker, json.RawMessage, error) {
	l.mu.Lock()
	l.inits = append(l.inits, init)
	if l.failNext > 0 {
		l.failNext--
		l.mu.Unlock()
		return nil, nil, ErrInjected
	}
	l.mu.Unlock()

	inner, snapshot, err := l.inner.Launch(ctx, init)
	if err != nil {
		return nil, nil, err
	}
	w := &Worker{inner: inner, launcher: l, game: model.GameID(init.GameID), done: make(chan struct{})}
	go func() {
		<-inner.Done()
		w.exited()
	}()
	l.mu.Lock()
	l.live[w.game] = w
	l.mu.Unlock()
	return w, snapshot, nil
}

// FailLaunches makes the next n launches fail.
func (l *Launcher) FailLaunches(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = n
}

// CrashOnSubmit makes the next action sent to the game's worker kill it
// before the engine sees the action.
func (l *Launcher) CrashOnSubmit(id model.GameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crashNext[id] = true
}

// Crash kills the game's current worker. It reports false if none runs.
func (l *Launcher) Crash(id model.GameID) bool {
	l.mu.Lock()
	w := l.live[id]
	l.mu.Unlock()
	if w == nil {
		return false
	}
	w.crash()
	return true
}

// Inits returns every launch request seen so far, failed ones included.
func (l *Launcher) Inits() []worker.Init {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]worker.Init(nil), l.inits...)
}

// Live reports whether a worker for the game is running.
func (l *Launcher) Live(id model.GameID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live[id] != nil
}

func (l *Launcher) takeCrash(id model.GameID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	crash := l.crashNext[id]
	delete(l.crashNext, id)
	return crash
}

func (l *Launcher) forget(w *Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[w.game] == w {
		delete(l.live, w.game)
	}
}

type Worker struct {
	inner    worker.Worker
	launcher *Launcher
	game     model.GameID

	done     chan struct{}
	doneOnce sync.Once
}

func (w *Worker) exited() {
	w.doneOnce.Do(func() {
		w.launcher.forget(w)
		close(w.done)
	})
}

func (w *Worker) crash() {
	_ = w.inner.Stop()
	w.exited()
}

func (w *Worker) Submit(ctx context.Context, action worker.Action) (worker.Output, error) {
	select {
	case <-w.done:
		return worker.Output{}, worker.ErrExited
	default:
	}
	if w.launcher.takeCrash(w.game) {
		w.crash()
		return worker.Output{}, worker.ErrExited
	}
	return w.inner.Submit(ctx, action)
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Stop() error {
	err := w.inner.Stop()
	w.exited()
	return err
}
