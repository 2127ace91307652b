package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
)

// Policy bounds retries of transient store and RPC failures
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when no configuration is supplied
var DefaultPolicy = Policy{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Permanent marks err as non-retryable
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op with exponential backoff until it succeeds, returns a permanent error,
// the retry cap is reached or ctx is done. Exhausted retries surface as ErrServiceUnavailable.
//
// Errors that already carry a domain meaning (not found, consistency, duplicate...) are
// never retried.
func Do(ctx context.Context, p Policy, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead
	b.RandomizationFactor = 0.5

	var attemptCount int
	var stopped bool
	operation := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			stopped = true
			return err
		}
		if !retryable(err) {
			stopped = true
			return backoff.Permanent(err)
		}
		return err
	}

	notifyOnError := func(err error, d time.Duration) {
		attemptCount++
		metrics.RetriesTotal.WithLabelValues(name).Inc()
		logger.WarnCtx(ctx, "Operation failed, retrying",
			zap.String("operation", name),
			zap.Error(err),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", d),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx), notifyOnError)
	if err == nil {
		return nil
	}
	if stopped || !retryable(err) {
		return err
	}
	if errors.Is(err, domain.ErrServiceUnavailable) {
		return fmt.Errorf("%s failed after %d retries: %w", name, attemptCount, err)
	}
	return fmt.Errorf("%s failed after %d retries: %w", name, attemptCount, domain.Unavailable(err))
}

// Value is Do for operations that return a result
func Value[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, name, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConsistency),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrDuplicateEvent),
		errors.Is(err, domain.ErrInvalidPassword),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrGiftNotClaimable),
		errors.Is(err, domain.ErrInvalidArgument):
		return false
	}
	return true
}
