package matcher

import (
	"context"
	"errors"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"

	"go.uber.org/zap"
)

// Sweep expires every proposal whose deadline has passed. A proposal that
// has a ready quorum at its deadline is promoted instead.
func (m *Matcher) Sweep(ctx context.Context) error {
	var expired []model.GameProposalID
	err := m.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.ListExpiredProposals(m.now())
		return err
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range expired {
		promoted, err := m.Promote(ctx, id)
		if err != nil {
			m.logger.Warn("promotion at deadline failed", zap.Stringer("proposal_id", id), zap.Error(err))
		}
		if promoted {
			continue
		}
		if err := m.expire(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Matcher) expire(ctx context.Context, id model.GameProposalID) error {
	return m.store.Tx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProposal(id, true)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !p.Expired(m.now()) {
			return nil
		}
		users, err := tx.DeleteSessionsForProposal(id)
		if err != nil {
			return err
		}
		if err := tx.DeleteAcceptees(id); err != nil {
			return err
		}
		if err := tx.DeleteProposal(id); err != nil {
			return err
		}
		tx.OnCommit(func() {
			m.logger.Info("proposal expired", zap.Stringer("proposal_id", id), zap.Int("acceptees", len(users)))
			for _, u := range users {
				m.notifier.Rebind(u, nil)
			}
			m.notifier.Push(users, model.Event{Type: model.EventExpired, Data: model.ProposalState{
				ProposalID: id.String(),
				GameType:   p.GameType,
				Acceptees:  len(users),
			}})
		})
		return nil
	})
}

// RunSweep calls Sweep every interval until ctx is done.
func (m *Matcher) RunSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Warn("proposal sweep failed", zap.Error(err))
			}
		}
	}
}
