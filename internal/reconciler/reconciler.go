// Package reconciler pulls escrow and NFT logs from the chain into the canonical
// event log and repairs gift records written under the wrong key.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/block"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/escrow"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/materializer"
	"github.com/feral-file/ff-gift-engine/internal/messaging"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/resolver"
	"github.com/feral-file/ff-gift-engine/internal/retry"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// CheckpointName is the checkpoint holding the last fully reconciled block
const CheckpointName = "reconciler"

// Reconciler defines the interface for chain reconciliation and record repair
//
//go:generate mockgen -source=reconciler.go -destination=../mocks/reconciler.go -package=mocks -mock_names=Reconciler=MockReconciler
type Reconciler interface {
	// Reconcile processes confirmed blocks from fromBlock, or from the checkpoint when nil
	Reconcile(ctx context.Context, fromBlock *uint64) (*Result, error)

	// Repair copies data written under a tokenId key onto the gift's canonical key
	Repair(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) (*RepairReport, error)

	// RepairAll repairs every known mapping
	RepairAll(ctx context.Context) ([]RepairReport, error)

	// Run reconciles on every tick until ctx is done
	Run(ctx context.Context) error

	// Close releases the worker pool
	Close()
}

// Config holds the reconciler configuration
type Config struct {
	StartBlock     uint64
	BlockBatchSize uint64
	Confirmations  uint64
	HeaderWorkers  int
	Interval       time.Duration
	RepairOnCycle  bool
	Retry          retry.Policy

	// CampaignFor maps a gift creator to the campaign its gifts roll up into
	CampaignFor func(creator common.Address) string
}

// Deps are the collaborators of a reconciler. Publisher may be nil.
type Deps struct {
	Contract     escrow.Contract
	Client       adapter.EthClient
	Blocks       block.Provider
	Resolver     resolver.Resolver
	Gifts        store.GiftStore
	Mappings     store.MappingStore
	Log          store.EventLog
	Checkpoints  store.CheckpointStore
	Materializer materializer.Materializer
	Publisher    messaging.Publisher
	Clock        adapter.Clock
}

// Result summarizes a reconcile run
type Result struct {
	RunID           string                    `json:"run_id"`
	EventsProcessed int                       `json:"events_processed"`
	Duplicates      int                       `json:"duplicates"`
	Skipped         int                       `json:"skipped"`
	FromBlock       uint64                    `json:"from_block"`
	ToBlock         uint64                    `json:"to_block"`
	Conflicts       []domain.ConsistencyError `json:"conflicts,omitempty"`
}

type blockTime struct {
	number uint64
	time   time.Time
	err    error
}

type reconciler struct {
	config Config
	Deps
	pool pond.ResultPool[blockTime]
}

// NewReconciler creates a reconciler
func NewReconciler(cfg Config, deps Deps) (Reconciler, error) {
	if cfg.BlockBatchSize == 0 {
		return nil, fmt.Errorf("%w: block batch size must be positive", domain.ErrConfiguration)
	}
	if cfg.HeaderWorkers <= 0 {
		cfg.HeaderWorkers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.CampaignFor == nil {
		cfg.CampaignFor = func(common.Address) string { return domain.DEFAULT_CAMPAIGN_ID }
	}

	return &reconciler{
		config: cfg,
		Deps:   deps,
		pool:   pond.NewResultPool[blockTime](cfg.HeaderWorkers),
	}, nil
}

func (r *reconciler) Reconcile(ctx context.Context, fromBlock *uint64) (*Result, error) {
	started := r.Clock.Now()
	result := &Result{RunID: ulid.Make().String()}

	err := r.reconcile(ctx, fromBlock, result)
	metrics.ReconcileDuration.Observe(r.Clock.Since(started).Seconds())
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("failed").Inc()
		logger.ErrorCtx(ctx, fmt.Errorf("reconcile run %s failed: %w", result.RunID, err),
			zap.Uint64("fromBlock", result.FromBlock),
			zap.Uint64("toBlock", result.ToBlock))
		return result, err
	}

	metrics.ReconcileRunsTotal.WithLabelValues("success").Inc()
	logger.InfoCtx(ctx, "Reconcile run finished",
		zap.String("runID", result.RunID),
		zap.Uint64("fromBlock", result.FromBlock),
		zap.Uint64("toBlock", result.ToBlock),
		zap.Int("eventsProcessed", result.EventsProcessed),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("conflicts", len(result.Conflicts)))
	return result, nil
}

func (r *reconciler) reconcile(ctx context.Context, fromBlock *uint64, result *Result) error {
	from, err := r.startBlock(ctx, fromBlock)
	if err != nil {
		return err
	}
	result.FromBlock = from

	head, err := r.Blocks.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if head < r.config.Confirmations || head-r.config.Confirmations < from {
		// ToBlock is the last block covered, here the one before from
		if from > 0 {
			result.ToBlock = from - 1
		}
		logger.DebugCtx(ctx, "No confirmed blocks to reconcile",
			zap.Uint64("from", from),
			zap.Uint64("head", head))
		return nil
	}
	safe := head - r.config.Confirmations

	for lo := from; lo <= safe; {
		hi := min(lo+r.config.BlockBatchSize-1, safe)

		if err := r.processWindow(ctx, lo, hi, result); err != nil {
			return fmt.Errorf("blocks %d-%d: %w", lo, hi, err)
		}

		if _, err := r.Materializer.Sync(ctx); err != nil {
			return fmt.Errorf("materializer sync after block %d: %w", hi, err)
		}

		// Commit point: everything up to hi is logged and projected
		checkpoint, err := r.Checkpoints.AdvanceCheckpoint(ctx, CheckpointName, hi)
		if err != nil {
			return fmt.Errorf("advance checkpoint to %d: %w", hi, err)
		}
		metrics.CheckpointBlock.Set(float64(checkpoint))
		result.ToBlock = hi

		lo = hi + 1
	}

	return nil
}

func (r *reconciler) startBlock(ctx context.Context, fromBlock *uint64) (uint64, error) {
	if fromBlock != nil {
		return *fromBlock, nil
	}

	checkpoint, ok, err := r.Checkpoints.GetCheckpoint(ctx, CheckpointName)
	if err != nil {
		return 0, err
	}
	if !ok {
		return r.config.StartBlock, nil
	}
	return max(checkpoint+1, r.config.StartBlock), nil
}

func (r *reconciler) processWindow(ctx context.Context, lo, hi uint64, result *Result) error {
	query := r.Contract.FilterQuery(lo, hi)
	logs, err := retry.Value(ctx, r.config.Retry, "eth.FilterLogs", func() ([]types.Log, error) {
		return r.Client.FilterLogs(ctx, query)
	})
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]*domain.CanonicalEvent, 0, len(logs))
	for _, vLog := range logs {
		event, err := r.Contract.ParseLog(vLog)
		if err != nil {
			result.Skipped++
			logger.ErrorCtx(ctx, fmt.Errorf("skipping unparsable log: %w", err),
				zap.String("txHash", vLog.TxHash.Hex()),
				zap.Uint("logIndex", vLog.Index))
			continue
		}
		if event == nil {
			continue
		}
		events = append(events, event)
	}

	timestamps, err := r.blockTimes(ctx, events)
	if err != nil {
		return err
	}

	// Gifts created in this window, by token, so a deposit transfer logged before
	// its GiftCreated event still finds its gift
	created := make(map[domain.TokenID]*domain.CanonicalEvent)
	for _, event := range events {
		if event.Type == domain.EventTypeGiftCreated {
			created[event.TokenID] = event
		}
	}

	for _, event := range events {
		event.BlockTimestamp = timestamps[event.BlockNumber]
		event.ProcessedAt = r.Clock.Now()

		keep, err := r.applyEvent(ctx, event, created, result)
		if err != nil {
			return err
		}
		if !keep {
			result.Skipped++
			continue
		}

		if err := r.appendEvent(ctx, event, result); err != nil {
			return err
		}
	}

	return nil
}

// blockTimes fetches the timestamp of every distinct block in events
func (r *reconciler) blockTimes(ctx context.Context, events []*domain.CanonicalEvent) (map[uint64]time.Time, error) {
	numbers := make([]uint64, 0)
	seen := make(map[uint64]bool)
	for _, event := range events {
		if !seen[event.BlockNumber] {
			seen[event.BlockNumber] = true
			numbers = append(numbers, event.BlockNumber)
		}
	}

	group := r.pool.NewGroupContext(ctx)
	for _, n := range numbers {
		group.Submit(func() blockTime {
			ts, err := r.Blocks.BlockTimestamp(ctx, n)
			return blockTime{number: n, time: ts, err: err}
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, domain.Unavailable(fmt.Errorf("fetch block timestamps: %w", err))
	}

	timestamps := make(map[uint64]time.Time, len(results))
	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		timestamps[res.number] = res.time
	}
	return timestamps, nil
}

// applyEvent updates gift state and mappings for an event and fills in its campaign.
// It returns false for events that are not part of any gift's history.
func (r *reconciler) applyEvent(ctx context.Context, event *domain.CanonicalEvent, created map[domain.TokenID]*domain.CanonicalEvent, result *Result) (bool, error) {
	switch event.Type {
	case domain.EventTypeGiftCreated:
		return true, r.applyCreated(ctx, event, result)

	case domain.EventTypeGiftClaimed, domain.EventTypeGiftReturned:
		return true, r.applyStatus(ctx, event)

	case domain.EventTypeNFTTransfer:
		return r.applyTransfer(ctx, event, created)
	}
	return false, nil
}

func (r *reconciler) applyCreated(ctx context.Context, event *domain.CanonicalEvent, result *Result) error {
	var payload domain.GiftCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("invalid gift_created payload: %w", err)
	}

	event.CampaignID = r.config.CampaignFor(common.HexToAddress(payload.Creator))

	gift := domain.Gift{
		GiftID:      event.GiftID,
		Creator:     payload.Creator,
		NFTContract: payload.NFTContract,
		TokenID:     event.TokenID,
		Status:      domain.GiftStatusActive,
		Value:       payload.Value,
		CampaignID:  event.CampaignID,
	}
	if payload.ExpirationTime > 0 {
		gift.ExpirationTime = time.Unix(payload.ExpirationTime, 0).UTC()
	}
	if err := r.Gifts.UpsertCreated(ctx, gift); err != nil {
		return err
	}

	if common.HexToAddress(payload.NFTContract) != r.Contract.NFTAddress() {
		return nil
	}

	if err := r.Resolver.Bind(ctx, event.TokenID, event.GiftID); err != nil {
		var cerr *domain.ConsistencyError
		if errors.As(err, &cerr) {
			logger.ErrorCtx(ctx, cerr, zap.String("eventID", event.EventID))
			result.Conflicts = append(result.Conflicts, *cerr)
			return nil
		}
		return err
	}
	return nil
}

func (r *reconciler) applyStatus(ctx context.Context, event *domain.CanonicalEvent) error {
	status := domain.GiftStatusClaimed
	var claimer string
	if event.Type == domain.EventTypeGiftClaimed {
		var payload domain.GiftClaimedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("invalid gift_claimed payload: %w", err)
		}
		claimer = payload.Recipient
	} else {
		status = domain.GiftStatusReturned
	}

	gift, err := r.Gifts.GetGift(ctx, event.GiftID)
	switch {
	case err == nil && gift.Creator != "":
		event.TokenID = gift.TokenID
		event.CampaignID = gift.CampaignID
	case err == nil || errors.Is(err, domain.ErrNotFound):
		// Created before the start block: read its identity from the contract
		onChain, err := r.Contract.GetGift(ctx, event.GiftID)
		if err != nil {
			return err
		}
		event.TokenID = onChain.TokenID
		event.CampaignID = r.config.CampaignFor(onChain.Creator)
	default:
		return err
	}
	if event.CampaignID == "" {
		event.CampaignID = domain.DEFAULT_CAMPAIGN_ID
	}

	err = r.Gifts.TransitionStatus(ctx, event.GiftID, status, claimer)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// The log keeps the event; the aggregate orders status by chain position
		logger.WarnCtx(ctx, "Ignoring status regression",
			zap.Uint64("giftID", uint64(event.GiftID)),
			zap.String("status", string(status)),
			zap.Error(err))
		return nil
	}
	return err
}

// applyTransfer keeps transfers of gifted tokens and drops the rest
func (r *reconciler) applyTransfer(ctx context.Context, event *domain.CanonicalEvent, created map[domain.TokenID]*domain.CanonicalEvent) (bool, error) {
	if c, ok := created[event.TokenID]; ok {
		event.GiftID = c.GiftID
		event.CampaignID = c.CampaignID
		return true, nil
	}

	giftID, err := r.Mappings.GiftIDForToken(ctx, event.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	event.GiftID = giftID

	gift, err := r.Gifts.GetGift(ctx, giftID)
	switch {
	case err == nil && gift.CampaignID != "":
		event.CampaignID = gift.CampaignID
	case err == nil || errors.Is(err, domain.ErrNotFound):
		event.CampaignID = domain.DEFAULT_CAMPAIGN_ID
	default:
		return false, err
	}
	return true, nil
}

func (r *reconciler) appendEvent(ctx context.Context, event *domain.CanonicalEvent, result *Result) error {
	appended, err := r.Log.Append(ctx, event)
	if err != nil {
		return err
	}

	if !appended {
		result.Duplicates++
		metrics.EventsAppendedTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		return nil
	}

	result.EventsProcessed++
	metrics.EventsAppendedTotal.WithLabelValues(string(event.Type), "appended").Inc()

	if r.Publisher != nil {
		if err := r.Publisher.PublishEvent(ctx, event); err != nil {
			// The log is the source of truth; subscribers can catch up from it
			logger.WarnCtx(ctx, "Failed to publish event",
				zap.String("eventID", event.EventID),
				zap.Error(err))
		}
	}
	return nil
}

func (r *reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		r.cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *reconciler) cycle(ctx context.Context) {
	if _, err := r.Reconcile(ctx, nil); err != nil {
		// Already logged; the next tick resumes from the checkpoint
		return
	}

	if r.config.RepairOnCycle {
		if _, err := r.RepairAll(ctx); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("repair cycle failed: %w", err))
		}
	}
}

func (r *reconciler) Close() {
	r.pool.StopAndWait()
}
