// Package pipeline is the durability boundary between a game's worker and
// the store: each accepted action becomes exactly one step row before any
// player hears about it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"
	"gamehub/internal/worker"

	"go.uber.org/zap"
)

// Submitter forwards an action to a game's worker and calls persist with
// the result while no other action for the game is admitted.
type Submitter interface {
	Submit(ctx context.Context, id model.GameID, seat int, action json.RawMessage, persist func(worker.Output) error) error
}

// Notifier delivers committed state to connected users.
type Notifier interface {
	Push(users []model.UserID, event model.Event)
	Rebind(user model.UserID, binding model.Binding)
}

type Pipeline struct {
	store    store.Store
	workers  Submitter
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(st store.Store, workers Submitter, notifier Notifier, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:    st,
		workers:  workers,
		notifier: notifier,
		logger:   logger.Named("pipeline"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply submits user's action for seat of game id. It returns once the
// resulting step is committed. Cancelling ctx does not abort an action
// that has been handed to the worker.
func (p *Pipeline) Apply(ctx context.Context, user model.UserID, id model.GameID, seat int, action json.RawMessage) error {
	ctx = context.WithoutCancel(ctx)
	if len(action) == 0 {
		action = json.RawMessage("null")
	}

	if err := p.checkSeat(ctx, user, id, seat); err != nil {
		return err
	}
	return p.workers.Submit(ctx, id, seat, action, func(out worker.Output) error {
		return p.persist(ctx, id, out)
	})
}

func (p *Pipeline) checkSeat(ctx context.Context, user model.UserID, id model.GameID, seat int) error {
	return p.store.Tx(ctx, func(tx store.Tx) error {
		players, err := tx.ListGamePlayers(id)
		if err != nil {
			return err
		}
		for _, player := range players {
			if player.PlayerIndex != seat {
				continue
			}
			switch {
			case player.PlayerID == nil:
				return fmt.Errorf("%w: seat %d of %s", model.ErrSeatVacant, seat, id)
			case *player.PlayerID != user:
				return fmt.Errorf("%w: seat %d of %s", model.ErrWrongSeat, seat, id)
			default:
				return nil
			}
		}
		return fmt.Errorf("%w: seat %d of %s", model.ErrSeatVacant, seat, id)
	})
}

// persist writes out as the game's next ply. On completion the same
// transaction records results and returns every seated player to idle.
func (p *Pipeline) persist(ctx context.Context, id model.GameID, out worker.Output) error {
	return p.store.Tx(ctx, func(tx store.Tx) error {
		g, err := tx.GetGame(id, true)
		if err != nil {
			return err
		}
		if !g.Active() {
			return fmt.Errorf("%w: %s is no longer running", model.ErrNoSuchWorker, id)
		}
		ply := g.SnapshotPly + 1
		now := p.now()
		if err := tx.InsertStep(model.GameStep{GameID: id, Ply: ply, Delta: out.Delta, CreatedAt: now}); err != nil {
			return fmt.Errorf("insert step %d: %w", ply, err)
		}
		if err := tx.UpdateGameSnapshot(id, out.Snapshot, ply, now); err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		players, err := tx.ListGamePlayers(id)
		if err != nil {
			return err
		}

		if out.Completed {
			for _, r := range out.Results {
				if err := tx.SetGamePlayerResult(id, r.PlayerIndex, r.Position, r.Score); err != nil {
					return fmt.Errorf("result for seat %d: %w", r.PlayerIndex, err)
				}
			}
			if err := tx.CompleteGame(id, now); err != nil {
				return err
			}
			if _, err := tx.DeleteSessionsForGame(id); err != nil {
				return err
			}
		}

		tx.OnCommit(func() {
			p.logger.Info("turn persisted", zap.Stringer("game_id", id), zap.Int("ply", ply), zap.Bool("completed", out.Completed))
			p.announce(id, ply, players, out)
		})
		return nil
	})
}

func (p *Pipeline) announce(id model.GameID, ply int, players []model.GamePlayer, out worker.Output) {
	kind := model.EventState
	if out.Completed {
		kind = model.EventCompleted
	}
	for _, player := range players {
		if player.PlayerID == nil {
			continue
		}
		seat := player.PlayerIndex
		p.notifier.Push([]model.UserID{*player.PlayerID}, model.Event{Type: kind, Data: model.GameState{
			GameID:   id.String(),
			Seat:     &seat,
			Ply:      ply,
			Snapshot: out.Snapshot,
			Delta:    out.Delta,
			Results:  out.Results,
		}})
		if out.Completed {
			p.notifier.Rebind(*player.PlayerID, nil)
		}
	}
}
