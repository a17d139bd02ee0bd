package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxConflictRetries = 8

func newConflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// retryConflicts runs attempt until it succeeds, fails with something other
// than ErrConflict, or the retry budget runs out.
func retryConflicts(ctx context.Context, attempt func() error) error {
	op := func() error {
		err := attempt()
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newConflictBackOff(), maxConflictRetries), ctx)
	return backoff.Retry(op, policy)
}
