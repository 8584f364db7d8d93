package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mcclellann/fredBank/pkg/models"
)

// RunInTx runs fn inside a fresh unit of work. The unit commits when fn returns nil and rolls
// back on error or panic. Cancelling ctx before commit rolls the unit back.
func RunInTx(ctx context.Context, s Storage, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RetryPolicy bounds how often a conflicting unit of work is replayed.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries a conflicting unit five times starting at 10ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// Atomically runs fn as one unit of work and replays the whole unit when it fails with
// models.ErrConcurrencyConflict. Every other error ends the loop immediately. onRetry, if not
// nil, is called before each replay.
func Atomically(ctx context.Context, s Storage, policy RetryPolicy, fn func(tx Tx) error, onRetry func(err error, attempt int)) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialBackoff
	if policy.MaxBackoff > 0 {
		eb.MaxInterval = policy.MaxBackoff
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if policy.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(eb, uint64(policy.MaxRetries))
	}

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := RunInTx(ctx, s, fn)
		if err == nil || errors.Is(err, models.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx), func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(err, attempt)
		}
	})
}
