package block

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/retry"
)

// headInfo is the cached chain head
type headInfo struct {
	Number    uint64
	FetchedAt time.Time
}

// Provider gives the reconciler the chain head and block timestamps.
// It caches the head for a short TTL and timestamps of confirmed blocks for the
// life of the process, so a reconcile window costs one header call per distinct block.
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=Provider=MockBlockProvider
type Provider interface {
	// LatestBlock returns the latest block number, potentially from cache
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the timestamp of a block, potentially from cache
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the Provider
type Config struct {
	// HeadTTL is how long to cache the head block number
	HeadTTL time.Duration

	// StaleWindow is how long a cached head may still be served when the RPC fails
	StaleWindow time.Duration

	// MaxCachedTimestamps bounds the timestamp cache, 0 means unbounded
	MaxCachedTimestamps int

	Retry retry.Policy
}

type provider struct {
	client adapter.EthClient
	config Config
	clock  adapter.Clock

	mu         sync.RWMutex
	head       *headInfo
	timestamps map[uint64]time.Time
}

// NewProvider creates a header-backed Provider
func NewProvider(client adapter.EthClient, config Config, clock adapter.Clock) Provider {
	return &provider{
		client:     client,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]time.Time),
	}
}

func (p *provider) LatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.FetchedAt) < p.config.HeadTTL {
		logger.DebugCtx(ctx, "Using cached block number", zap.Uint64("block_number", cached.Number))
		return cached.Number, nil
	}

	header, err := retry.Value(ctx, p.config.Retry, "eth.HeaderByNumber", func() (*types.Header, error) {
		return p.client.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		if cached != nil && now.Sub(cached.FetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Using stale block number", zap.Uint64("block_number", cached.Number), zap.Error(err))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block: %w", err)
	}
	if header == nil || header.Number == nil {
		return 0, domain.Unavailable(fmt.Errorf("node returned an empty head"))
	}

	p.mu.Lock()
	p.head = &headInfo{Number: header.Number.Uint64(), FetchedAt: now}
	p.mu.Unlock()

	return header.Number.Uint64(), nil
}

func (p *provider) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	ts, ok := p.timestamps[blockNumber]
	p.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := retry.Value(ctx, p.config.Retry, "eth.HeaderByNumber", func() (*types.Header, error) {
		return p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch header of block %d: %w", blockNumber, err)
	}
	if header == nil {
		return time.Time{}, domain.Unavailable(fmt.Errorf("node returned no header for block %d", blockNumber))
	}

	ts = time.Unix(int64(header.Time), 0).UTC() //nolint:gosec,G115

	p.mu.Lock()
	if p.config.MaxCachedTimestamps > 0 && len(p.timestamps) >= p.config.MaxCachedTimestamps {
		// Windows move forward, so older entries are not read again
		p.timestamps = make(map[uint64]time.Time)
	}
	p.timestamps[blockNumber] = ts
	p.mu.Unlock()

	return ts, nil
}
