package store

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// buildTestEvent creates a chain event at (block, logIndex)
func buildTestEvent(eventType domain.EventType, giftID domain.GiftID, block uint64, logIndex uint) domain.CanonicalEvent {
	txHash := common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(logIndex)))
	return domain.CanonicalEvent{
		EventID:        domain.NewEventID(txHash, logIndex),
		Type:           eventType,
		GiftID:         giftID,
		TokenID:        domain.TokenID(giftID + 1000),
		CampaignID:     "spring",
		BlockNumber:    block,
		BlockTimestamp: time.Unix(1_700_000_000+int64(block), 0).UTC(),
		TxHash:         txHash.Hex(),
		LogIndex:       logIndex,
		Payload:        []byte(`{"creator":"0x3333333333333333333333333333333333333333"}`),
		ProcessedAt:    time.Unix(1_700_100_000, 0).UTC(),
		Source:         domain.EventSourceEscrow,
	}
}

// runEventLogTests exercises an EventLog implementation. newLog must return an empty log.
func runEventLogTests(t *testing.T, newLog func(t *testing.T) EventLog) {
	t.Run("append assigns increasing offsets", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		var offsets []uint64
		for i := uint(0); i < 3; i++ {
			event := buildTestEvent(domain.EventTypeGiftCreated, domain.GiftID(i+1), 100, i)
			appended, err := log.Append(ctx, &event)
			require.NoError(t, err)
			assert.True(t, appended)
			offsets = append(offsets, event.Offset)
		}

		assert.Less(t, offsets[0], offsets[1])
		assert.Less(t, offsets[1], offsets[2])

		head, err := log.Head(ctx)
		require.NoError(t, err)
		assert.Equal(t, offsets[2], head)
	})

	t.Run("duplicate append is a silent no-op", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		event := buildTestEvent(domain.EventTypeGiftClaimed, 7, 200, 4)
		appended, err := log.Append(ctx, &event)
		require.NoError(t, err)
		require.True(t, appended)
		head, err := log.Head(ctx)
		require.NoError(t, err)

		again := buildTestEvent(domain.EventTypeGiftClaimed, 7, 200, 4)
		appended, err = log.Append(ctx, &again)
		require.NoError(t, err)
		assert.False(t, appended)
		assert.Zero(t, again.Offset)

		after, err := log.Head(ctx)
		require.NoError(t, err)
		assert.Equal(t, head, after)

		events, err := log.Read(ctx, domain.EventQuery{})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("concurrent duplicates append exactly once", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var appendedCount atomic.Int32
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				event := buildTestEvent(domain.EventTypeGiftCreated, 42, 300, 1)
				appended, err := log.Append(ctx, &event)
				assert.NoError(t, err)
				if appended {
					appendedCount.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), appendedCount.Load())
		events, err := log.Read(ctx, domain.EventQuery{})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("read honours range order and limit", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		var offsets []uint64
		for i := uint(0); i < 5; i++ {
			event := buildTestEvent(domain.EventTypeGiftCreated, domain.GiftID(i+1), 400+uint64(i), 0)
			_, err := log.Append(ctx, &event)
			require.NoError(t, err)
			offsets = append(offsets, event.Offset)
		}

		forward, err := log.Read(ctx, domain.EventQuery{After: offsets[0], Limit: 2, Order: domain.OrderAsc})
		require.NoError(t, err)
		require.Len(t, forward, 2)
		assert.Equal(t, offsets[1], forward[0].Offset)
		assert.Equal(t, offsets[2], forward[1].Offset)

		reverse, err := log.Read(ctx, domain.EventQuery{Before: offsets[4], Limit: 10, Order: domain.OrderDesc})
		require.NoError(t, err)
		require.Len(t, reverse, 4)
		assert.Equal(t, offsets[3], reverse[0].Offset)
		assert.Equal(t, offsets[0], reverse[3].Offset)

		// Fields survive the round trip
		got := forward[0]
		want := buildTestEvent(domain.EventTypeGiftCreated, 2, 401, 0)
		assert.Equal(t, want.EventID, got.EventID)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.GiftID, got.GiftID)
		assert.Equal(t, want.TokenID, got.TokenID)
		assert.Equal(t, want.CampaignID, got.CampaignID)
		assert.Equal(t, want.BlockNumber, got.BlockNumber)
		assert.True(t, want.BlockTimestamp.Equal(got.BlockTimestamp))
		assert.Equal(t, want.LogIndex, got.LogIndex)
		assert.JSONEq(t, string(want.Payload), string(got.Payload))
		assert.Equal(t, want.Source, got.Source)
	})

	t.Run("empty log", func(t *testing.T) {
		log := newLog(t)
		head, err := log.Head(context.Background())
		require.NoError(t, err)
		assert.Zero(t, head)

		events, err := log.Read(context.Background(), domain.EventQuery{After: 10})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

// runCheckpointTests exercises a CheckpointStore implementation with a unique name per call
func runCheckpointTests(t *testing.T, cs CheckpointStore) {
	ctx := context.Background()
	name := fmt.Sprintf("test-%d", time.Now().UnixNano())

	_, found, err := cs.GetCheckpoint(ctx, name)
	require.NoError(t, err)
	assert.False(t, found)

	v, err := cs.AdvanceCheckpoint(ctx, name, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	// Never moves backwards
	v, err = cs.AdvanceCheckpoint(ctx, name, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	v, err = cs.AdvanceCheckpoint(ctx, name, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), v)

	got, found, err := cs.GetCheckpoint(ctx, name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(150), got)
}
