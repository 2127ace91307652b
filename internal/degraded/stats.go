package degraded

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
)

// AggregateReader reads campaign aggregates
type AggregateReader interface {
	Aggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error)
}

// StatsCache serves the last known good campaign aggregate while the aggregate store
// is unavailable. It is for analytics reads only.
type StatsCache struct {
	source AggregateReader

	mu   sync.RWMutex
	last map[string]domain.Counters
}

// NewStatsCache creates a cache in front of source
func NewStatsCache(source AggregateReader) *StatsCache {
	return &StatsCache{
		source: source,
		last:   make(map[string]domain.Counters),
	}
}

// Stats returns the campaign counters. stale is true when they come from the cache.
func (c *StatsCache) Stats(ctx context.Context, campaignID string) (counters domain.Counters, stale bool, err error) {
	agg, err := c.source.Aggregate(ctx, campaignID)
	if err == nil {
		counters = agg.Counters()
		c.mu.Lock()
		c.last[campaignID] = counters
		c.mu.Unlock()
		return counters, false, nil
	}
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		return domain.Counters{}, false, err
	}

	c.mu.RLock()
	counters, ok := c.last[campaignID]
	c.mu.RUnlock()
	if !ok {
		return domain.Counters{}, false, err
	}

	metrics.StaleStatsServedTotal.Inc()
	logger.WarnCtx(ctx, "Aggregate store unavailable, serving cached campaign stats",
		zap.String("campaignID", campaignID),
		zap.Time("updatedAt", counters.UpdatedAt))
	return counters, true, nil
}
