package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/repo"
)

// RetryPolicy bounds how often a contended transaction is re-run.
type RetryPolicy struct {
	MaxAttempts uint
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Budget caps the wall-clock time spent across all attempts.
	Budget time.Duration
}

// DefaultRetryPolicy is used when a zero RetryPolicy is supplied.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseBackoff: 20 * time.Millisecond,
		MaxBackoff:  500 * time.Millisecond,
		Budget:      5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = max(d.MaxBackoff, p.BaseBackoff)
	}
	if p.Budget <= 0 {
		p.Budget = d.Budget
	}
	return p
}

// retryable reports whether a failed transaction lost a race and should be
// run again. A duplicate key means another caller committed the same row
// first; the next attempt reads it.
func retryable(err error) bool {
	return repo.IsContention(err) || repo.IsDuplicate(err)
}

// runTx runs fn until it succeeds, fails permanently, or the policy is
// exhausted. Domain errors pass through untouched; store failures and
// exhaustion are reported as ErrStoreUnavailable.
func (p RetryPolicy) runTx(ctx context.Context, op string, fn func() error) error {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseBackoff
	b.MaxInterval = p.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil || retryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(p.Budget),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.ObserveTxRetry(op)
			log.Ctx(ctx).Debug().Err(err).Str("op", op).Int("attempt", attempt).
				Dur("backoff", next).Msg("transaction contention, retrying")
		}),
	)
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	if retryable(err) {
		return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrStoreUnavailable, op, attempt, err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrIdentityConflict) ||
		errors.Is(err, ErrInvalidIdentity) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
