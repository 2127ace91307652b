package materializer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// CursorName is the checkpoint holding the last log offset the materializer applied
const CursorName = "materializer"

// Materializer projects the canonical event log into campaign aggregates
//
//go:generate mockgen -source=materializer.go -destination=../mocks/materializer.go -package=mocks -mock_names=Materializer=MockMaterializer
type Materializer interface {
	// Apply folds a single logged event into its campaign aggregate. Callers must apply
	// events in log offset order; see ApplyBatch.
	Apply(ctx context.Context, event domain.CanonicalEvent) error

	// ApplyBatch folds logged events into their campaign aggregates. Order within a batch
	// does not matter, but successive calls must not go back in the log: an event at or
	// below an aggregate's high-water-mark is treated as already applied and skipped.
	// Sync reads the log in order and is the safe way to catch up.
	ApplyBatch(ctx context.Context, events []domain.CanonicalEvent) error

	// Sync applies every event appended since the materializer cursor and returns how many were read
	Sync(ctx context.Context) (int, error)

	// Rebuild replaces a campaign aggregate with a fold of the full log
	Rebuild(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error)

	// Aggregate returns the stored aggregate of a campaign
	Aggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error)
}

// Config holds the materializer configuration
type Config struct {
	PageSize   int
	CASRetries int
}

type materializer struct {
	config      Config
	log         store.EventLog
	aggregates  store.AggregateStore
	checkpoints store.CheckpointStore
	clock       adapter.Clock
}

// New creates a materializer
func New(cfg Config, log store.EventLog, aggregates store.AggregateStore, checkpoints store.CheckpointStore, clock adapter.Clock) Materializer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = 5
	}
	return &materializer{
		config:      cfg,
		log:         log,
		aggregates:  aggregates,
		checkpoints: checkpoints,
		clock:       clock,
	}
}

func (m *materializer) Apply(ctx context.Context, event domain.CanonicalEvent) error {
	return m.ApplyBatch(ctx, []domain.CanonicalEvent{event})
}

func (m *materializer) ApplyBatch(ctx context.Context, events []domain.CanonicalEvent) error {
	byCampaign := make(map[string][]domain.CanonicalEvent)
	for _, e := range events {
		if e.Offset == 0 {
			return fmt.Errorf("event %s has not been appended to the log", e.EventID)
		}
		if e.CampaignID == "" {
			continue
		}
		byCampaign[e.CampaignID] = append(byCampaign[e.CampaignID], e)
	}

	campaigns := make([]string, 0, len(byCampaign))
	for id := range byCampaign {
		campaigns = append(campaigns, id)
	}
	sort.Strings(campaigns)

	for _, id := range campaigns {
		if err := m.applyCampaign(ctx, id, byCampaign[id]); err != nil {
			return err
		}
	}
	return nil
}

// applyCampaign folds events into one aggregate with compare-and-swap, reloading on conflict
func (m *materializer) applyCampaign(ctx context.Context, campaignID string, events []domain.CanonicalEvent) error {
	for attempt := 1; attempt <= m.config.CASRetries; attempt++ {
		agg, err := m.aggregates.LoadAggregate(ctx, campaignID)
		if err != nil {
			return err
		}
		expected := agg.Version

		pending := pendingEvents(events, agg.HighWaterMark)
		if len(pending) == 0 {
			return nil
		}
		sortByChainPosition(pending)

		if err := fold(agg, pending); err != nil {
			return err
		}
		agg.UpdatedAt = m.clock.Now()

		err = m.aggregates.CompareAndSwapAggregate(ctx, agg, expected)
		if err == nil {
			metrics.EventsMaterializedTotal.Add(float64(len(pending)))
			logger.DebugCtx(ctx, "Materialized events",
				zap.String("campaignID", campaignID),
				zap.Int("events", len(pending)),
				zap.Uint64("highWaterMark", agg.HighWaterMark))
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}

		metrics.AggregateCASConflictsTotal.Inc()
		logger.DebugCtx(ctx, "Aggregate version conflict, reloading",
			zap.String("campaignID", campaignID),
			zap.Int("attempt", attempt))
	}

	return domain.Unavailable(fmt.Errorf("campaign %s: %w after %d attempts", campaignID, store.ErrVersionConflict, m.config.CASRetries))
}

// pendingEvents returns the events above the high-water-mark, each offset once
func pendingEvents(events []domain.CanonicalEvent, hwm uint64) []domain.CanonicalEvent {
	seen := make(map[uint64]struct{}, len(events))
	pending := make([]domain.CanonicalEvent, 0, len(events))
	for _, e := range events {
		if e.Offset <= hwm {
			continue
		}
		if _, ok := seen[e.Offset]; ok {
			continue
		}
		seen[e.Offset] = struct{}{}
		pending = append(pending, e)
	}
	return pending
}

func (m *materializer) Sync(ctx context.Context) (int, error) {
	cursor, _, err := m.checkpoints.GetCheckpoint(ctx, CursorName)
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		page, err := m.log.Read(ctx, domain.EventQuery{After: cursor, Limit: m.config.PageSize, Order: domain.OrderAsc})
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		if err := m.ApplyBatch(ctx, page); err != nil {
			return total, err
		}

		last := page[len(page)-1].Offset
		if cursor, err = m.checkpoints.AdvanceCheckpoint(ctx, CursorName, last); err != nil {
			return total, err
		}
		total += len(page)

		if len(page) < m.config.PageSize {
			return total, nil
		}
	}
}

func (m *materializer) Rebuild(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error) {
	for attempt := 1; attempt <= m.config.CASRetries; attempt++ {
		current, err := m.aggregates.LoadAggregate(ctx, campaignID)
		if err != nil {
			return nil, err
		}

		rebuilt, err := m.foldLog(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		rebuilt.UpdatedAt = m.clock.Now()

		err = m.aggregates.CompareAndSwapAggregate(ctx, rebuilt, current.Version)
		if err == nil {
			logger.InfoCtx(ctx, "Rebuilt campaign aggregate",
				zap.String("campaignID", campaignID),
				zap.Int64("totalGifts", rebuilt.TotalGifts),
				zap.Uint64("highWaterMark", rebuilt.HighWaterMark))
			return rebuilt, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.AggregateCASConflictsTotal.Inc()
	}

	return nil, domain.Unavailable(fmt.Errorf("rebuild %s: %w after %d attempts", campaignID, store.ErrVersionConflict, m.config.CASRetries))
}

// foldLog folds every logged event of a campaign into an empty aggregate
func (m *materializer) foldLog(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error) {
	agg := domain.NewCampaignAggregate(campaignID)

	var after uint64
	for {
		page, err := m.log.Read(ctx, domain.EventQuery{After: after, Limit: m.config.PageSize, Order: domain.OrderAsc})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].Offset

		var matching []domain.CanonicalEvent
		for _, e := range page {
			if e.CampaignID == campaignID {
				matching = append(matching, e)
			}
		}
		if err := fold(agg, matching); err != nil {
			return nil, err
		}

		if len(page) < m.config.PageSize {
			break
		}
	}

	return agg, nil
}

func (m *materializer) Aggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error) {
	return m.aggregates.LoadAggregate(ctx, campaignID)
}
