// Package resolver translates between NFT tokenIds and escrow giftIds.
//
// Mappings are read from the store first. A tokenId with no mapping is found by probing
// the escrow contract from its latest gift downward; the highest matching gift wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/escrow"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// Resolver resolves gift identifiers
//
//go:generate mockgen -source=resolver.go -destination=../mocks/resolver.go -package=mocks -mock_names=Resolver=MockResolver
type Resolver interface {
	// Resolve returns the giftId of a tokenId, probing the escrow contract on a mapping miss.
	// While the mapping store is unavailable the probe result is returned unbound.
	Resolve(ctx context.Context, tokenID domain.TokenID) (domain.GiftID, error)

	// ResolveReverse returns the tokenId of a giftId, reading the escrow contract on a mapping miss
	// or while the mapping store is unavailable. An unknown gift is ErrNotFound.
	ResolveReverse(ctx context.Context, giftID domain.GiftID) (domain.TokenID, error)

	// Bind records a tokenId <-> giftId pair. A conflicting pair returns a ConsistencyError.
	Bind(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) error

	// Close stops the probe worker pool
	Close()
}

// Config bounds the probe
type Config struct {
	MaxScanDepth    int
	ScanTimeout     time.Duration
	ScanConcurrency int
	MissTTL         time.Duration
}

type probeResult struct {
	giftID domain.GiftID
	match  bool
	err    error
}

type resolver struct {
	config   Config
	contract escrow.Contract
	mappings store.MappingStore
	misses   store.ProbeMissStore
	pool     pond.ResultPool[probeResult]
	group    singleflight.Group
}

// New creates a resolver. misses may be nil to disable negative caching.
func New(cfg Config, contract escrow.Contract, mappings store.MappingStore, misses store.ProbeMissStore) (Resolver, error) {
	if cfg.MaxScanDepth <= 0 || cfg.ScanConcurrency <= 0 || cfg.ScanTimeout <= 0 {
		return nil, fmt.Errorf("%w: resolver bounds must be positive", domain.ErrConfiguration)
	}

	return &resolver{
		config:   cfg,
		contract: contract,
		mappings: mappings,
		misses:   misses,
		pool:     pond.NewResultPool[probeResult](cfg.ScanConcurrency),
	}, nil
}

func (r *resolver) Close() {
	r.pool.StopAndWait()
}

func (r *resolver) Resolve(ctx context.Context, tokenID domain.TokenID) (domain.GiftID, error) {
	giftID, err := r.mappings.GiftIDForToken(ctx, tokenID)
	if err == nil {
		metrics.ResolverLookupsTotal.WithLabelValues("cache").Inc()
		return giftID, nil
	}
	// With the mapping store down the chain is still authoritative; the probe
	// result is returned without being bound.
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrServiceUnavailable) {
		metrics.ResolverLookupsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	if r.misses != nil {
		missed, err := r.misses.ProbeMissed(ctx, tokenID)
		if err != nil && !errors.Is(err, domain.ErrServiceUnavailable) {
			return 0, err
		}
		if missed {
			metrics.ResolverLookupsTotal.WithLabelValues("miss").Inc()
			return 0, fmt.Errorf("token %d: %w", tokenID, domain.ErrNotFound)
		}
	}

	// Concurrent misses for the same token share one probe. The probe runs on its
	// own context so one caller's cancellation does not fail the others.
	v, err, _ := r.group.Do(tokenID.String(), func() (interface{}, error) {
		return r.probe(context.WithoutCancel(ctx), tokenID)
	})
	if err != nil {
		return 0, err
	}
	return v.(domain.GiftID), nil
}

// probe scans the escrow contract downward from the latest gift in windows of
// ScanConcurrency gifts and binds the highest match
func (r *resolver) probe(ctx context.Context, tokenID domain.TokenID) (domain.GiftID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ScanTimeout)
	defer cancel()

	latest, err := r.contract.LatestGiftID(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, r.miss(ctx, tokenID, 0)
		}
		metrics.ResolverLookupsTotal.WithLabelValues("error").Inc()
		return 0, r.probeError(ctx, err)
	}

	nft := r.contract.NFTAddress()
	depth := 0
	next := uint64(latest)
	for depth < r.config.MaxScanDepth && next > 0 {
		size := min(r.config.ScanConcurrency, r.config.MaxScanDepth-depth)
		if uint64(size) > next {
			size = int(next)
		}

		group := r.pool.NewGroupContext(ctx)
		for i := range size {
			giftID := domain.GiftID(next - uint64(i))
			group.Submit(func() probeResult {
				gift, err := r.contract.GetGift(ctx, giftID)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return probeResult{giftID: giftID}
					}
					return probeResult{giftID: giftID, err: err}
				}
				return probeResult{giftID: giftID, match: gift.TokenID == tokenID && gift.NFTContract == nft}
			})
		}

		results, err := group.Wait()
		if err != nil {
			metrics.ResolverLookupsTotal.WithLabelValues("error").Inc()
			return 0, r.probeError(ctx, err)
		}

		depth += size
		next -= uint64(size)

		// Results come back in submission order, highest gift id first
		for _, res := range results {
			if res.err != nil {
				metrics.ResolverLookupsTotal.WithLabelValues("error").Inc()
				return 0, r.probeError(ctx, res.err)
			}
			if res.match {
				metrics.ResolverProbeDepth.Observe(float64(depth))
				metrics.ResolverLookupsTotal.WithLabelValues("probe").Inc()
				logger.InfoCtx(ctx, "Resolved token by probing the escrow contract",
					zap.Uint64("tokenID", uint64(tokenID)),
					zap.Uint64("giftID", uint64(res.giftID)),
					zap.Int("depth", depth))

				if err := r.bindBestEffort(ctx, tokenID, res.giftID); err != nil {
					return 0, err
				}
				return res.giftID, nil
			}
		}
	}

	return 0, r.miss(ctx, tokenID, depth)
}

func (r *resolver) miss(ctx context.Context, tokenID domain.TokenID, depth int) error {
	metrics.ResolverProbeDepth.Observe(float64(depth))
	metrics.ResolverLookupsTotal.WithLabelValues("miss").Inc()
	logger.InfoCtx(ctx, "Probe exhausted without a match",
		zap.Uint64("tokenID", uint64(tokenID)),
		zap.Int("depth", depth))

	if r.misses != nil {
		if err := r.misses.MarkProbeMiss(ctx, tokenID, r.config.MissTTL); err != nil {
			logger.WarnCtx(ctx, "Failed to record probe miss", zap.Error(err))
		}
	}
	return fmt.Errorf("token %d not found within %d gifts: %w", tokenID, depth, domain.ErrNotFound)
}

// probeError maps a probe deadline onto ServiceUnavailable
func (r *resolver) probeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.Unavailable(fmt.Errorf("probe deadline exceeded: %w", ctx.Err()))
	}
	return err
}

func (r *resolver) ResolveReverse(ctx context.Context, giftID domain.GiftID) (domain.TokenID, error) {
	tokenID, err := r.mappings.TokenIDForGift(ctx, giftID)
	if err == nil {
		metrics.ResolverLookupsTotal.WithLabelValues("cache").Inc()
		return tokenID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrServiceUnavailable) {
		return 0, err
	}

	gift, err := r.contract.GetGift(ctx, giftID)
	if err != nil {
		return 0, err
	}
	if gift.NFTContract != r.contract.NFTAddress() {
		return 0, fmt.Errorf("gift %d holds a token of another contract: %w", giftID, domain.ErrNotFound)
	}

	if err := r.bindBestEffort(ctx, gift.TokenID, giftID); err != nil {
		return 0, err
	}
	metrics.ResolverLookupsTotal.WithLabelValues("chain").Inc()
	return gift.TokenID, nil
}

// bindBestEffort persists a pair read from the chain. An unavailable mapping store
// is logged and tolerated; a conflict is not.
func (r *resolver) bindBestEffort(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) error {
	err := r.Bind(ctx, tokenID, giftID)
	if err != nil && errors.Is(err, domain.ErrServiceUnavailable) {
		logger.WarnCtx(ctx, "Mapping store unavailable, serving unbound chain result",
			zap.Uint64("tokenID", uint64(tokenID)),
			zap.Uint64("giftID", uint64(giftID)),
			zap.Error(err))
		return nil
	}
	return err
}

func (r *resolver) Bind(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) error {
	created, err := r.mappings.Bind(ctx, tokenID, giftID)
	if err != nil {
		if errors.Is(err, domain.ErrConsistency) {
			metrics.MappingConflictsTotal.Inc()
			metrics.ConsistencyErrorsTotal.WithLabelValues(string(domain.ConsistencyMappingCollision)).Inc()
		}
		return err
	}

	if created {
		logger.DebugCtx(ctx, "Bound identifier mapping",
			zap.Uint64("tokenID", uint64(tokenID)),
			zap.Uint64("giftID", uint64(giftID)))
		if r.misses != nil {
			if err := r.misses.ClearProbeMiss(ctx, tokenID); err != nil {
				logger.WarnCtx(ctx, "Failed to clear probe miss", zap.Error(err))
			}
		}
	}
	return nil
}
