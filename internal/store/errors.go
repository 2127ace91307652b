package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// classify maps a driver error onto the domain taxonomy: a missing key becomes
// ErrNotFound, cancellation passes through and everything else is ServiceUnavailable
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, domain.Unavailable(err))
}
