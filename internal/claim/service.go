// Package claim verifies gift claim passwords against the escrow contract's commitment
package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/commitment"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/escrow"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/resolver"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// Service verifies claim attempts
//
//go:generate mockgen -source=service.go -destination=../mocks/claim.go -package=mocks -mock_names=Service=MockClaimService
type Service interface {
	// Verify reports whether the attempt's password unlocks the gift holding its token.
	// A false result always comes with a typed error explaining why.
	Verify(ctx context.Context, attempt domain.ClaimAttempt) (bool, error)
}

// Config holds claim verification configuration
type Config struct {
	// RateLimitPerMinute is the attempt budget per device, 0 disables throttling
	RateLimitPerMinute int
}

type service struct {
	config   Config
	resolver resolver.Resolver
	contract escrow.Contract
	verifier *commitment.Verifier
	limiter  adapter.RedisRateLimiter
	keys     store.Keys
	clock    adapter.Clock
}

// NewService creates the claim service. limiter may be nil when throttling is disabled.
func NewService(
	cfg Config,
	resolver resolver.Resolver,
	contract escrow.Contract,
	verifier *commitment.Verifier,
	limiter adapter.RedisRateLimiter,
	keys store.Keys,
	clock adapter.Clock,
) Service {
	return &service{
		config:   cfg,
		resolver: resolver,
		contract: contract,
		verifier: verifier,
		limiter:  limiter,
		keys:     keys,
		clock:    clock,
	}
}

func (s *service) Verify(ctx context.Context, attempt domain.ClaimAttempt) (bool, error) {
	valid, err := s.verify(ctx, attempt)
	metrics.ClaimVerificationsTotal.WithLabelValues(outcome(err)).Inc()

	if err != nil && !errors.Is(err, domain.ErrInvalidPassword) && !errors.Is(err, domain.ErrNotFound) {
		logger.WarnCtx(ctx, "Claim verification failed",
			zap.Uint64("tokenID", uint64(attempt.TokenID)),
			zap.String("deviceID", attempt.DeviceID),
			zap.Error(err))
	}
	return valid, err
}

func (s *service) verify(ctx context.Context, attempt domain.ClaimAttempt) (bool, error) {
	if s.verifier == nil {
		return false, fmt.Errorf("%w: claim verifier is not configured", domain.ErrConfiguration)
	}

	if err := s.throttle(ctx, attempt.DeviceID); err != nil {
		return false, err
	}

	giftID, err := s.resolver.Resolve(ctx, attempt.TokenID)
	if err != nil {
		return false, err
	}

	// Claim validation always reads the contract, never a cached or degraded copy
	gift, err := s.contract.GetGift(ctx, giftID)
	if err != nil {
		return false, err
	}

	if gift.TokenID != attempt.TokenID || gift.NFTContract != s.contract.NFTAddress() {
		cerr := &domain.ConsistencyError{
			Kind:    domain.ConsistencyOnChainMismatch,
			TokenID: attempt.TokenID,
			GiftID:  giftID,
			Detail:  fmt.Sprintf("gift holds token %d of %s", gift.TokenID, gift.NFTContract.Hex()),
		}
		metrics.ConsistencyErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		logger.ErrorCtx(ctx, cerr)
		return false, cerr
	}

	if gift.Status != domain.GiftStatusActive {
		return false, fmt.Errorf("gift %d is %s: %w", giftID, gift.Status, domain.ErrGiftNotClaimable)
	}
	if gift.Expired(s.clock.Now()) {
		return false, fmt.Errorf("gift %d expired at %s: %w", giftID, gift.ExpirationTime, domain.ErrGiftNotClaimable)
	}

	if !s.verifier.Verify(gift.PasswordHash, attempt.Password, attempt.Salt, giftID) {
		return false, domain.ErrInvalidPassword
	}
	return true, nil
}

func (s *service) throttle(ctx context.Context, deviceID string) error {
	if s.limiter == nil || s.config.RateLimitPerMinute <= 0 {
		return nil
	}
	if deviceID == "" {
		deviceID = "anonymous"
	}

	res, err := s.limiter.Allow(ctx, s.keys.ClaimThrottle(deviceID), redis_rate.PerMinute(s.config.RateLimitPerMinute))
	if err != nil {
		return domain.Unavailable(fmt.Errorf("claim throttle: %w", err))
	}
	if res.Allowed == 0 {
		return fmt.Errorf("device %s: retry after %s: %w", deviceID, res.RetryAfter, domain.ErrRateLimited)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, domain.ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrGiftNotClaimable):
		return "not_claimable"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrConsistency):
		return "inconsistent"
	case errors.Is(err, domain.ErrConfiguration):
		return "misconfigured"
	}
	return "error"
}
