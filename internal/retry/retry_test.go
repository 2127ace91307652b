package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/retry"
)

var fastPolicy = retry.Policy{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ExhaustedRetriesAreServiceUnavailable(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, "test", func() error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Equal(t, 3, calls) // first attempt + 2 retries
}

func TestDo_DomainErrorsAreNotRetried(t *testing.T) {
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrConfiguration, &domain.ConsistencyError{Kind: domain.ConsistencyMappingCollision}} {
		calls := 0
		err := retry.Do(context.Background(), fastPolicy, "test", func() error {
			calls++
			return sentinel
		})

		assert.ErrorIs(t, err, sentinel)
		assert.NotErrorIs(t, err, domain.ErrServiceUnavailable)
		assert.Equal(t, 1, calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("bad request")
	err := retry.Do(context.Background(), fastPolicy, "test", func() error {
		calls++
		return retry.Permanent(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := retry.Value(context.Background(), fastPolicy, "test", func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("timeout")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
