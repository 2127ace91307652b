package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// newTestRedis starts a miniredis server scoped to the test
func newTestRedis(t *testing.T) (*miniredis.Miniredis, adapter.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := adapter.WrapRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestRedisEventLog(t *testing.T) {
	runEventLogTests(t, func(t *testing.T) EventLog {
		_, client := newTestRedis(t)
		return NewRedisEventLog(client, NewKeys("test"))
	})
}

func TestRedisCheckpointStore(t *testing.T) {
	_, client := newTestRedis(t)
	runCheckpointTests(t, NewRedisCheckpointStore(client, NewKeys("")))
}

func TestKeys(t *testing.T) {
	plain := NewKeys("")
	assert.Equal(t, "gift:209", plain.Gift(209))
	assert.Equal(t, "gift:email_hmac:abcd", plain.EmailIndex("ABCD"))
	assert.Equal(t, "mapping:token:186", plain.TokenMapping(186))
	assert.Equal(t, "mapping:gift:209", plain.GiftMapping(209))
	assert.Equal(t, "campaign:spring:aggregate", plain.Aggregate("spring"))

	prefixed := NewKeys("staging:")
	assert.Equal(t, "staging:gift:209", prefixed.Gift(209))
	assert.Equal(t, "staging:mapping:token:*", prefixed.TokenMappingPattern())
}

func TestRedisGiftStore(t *testing.T) {
	ctx := context.Background()
	expiry := time.Unix(1_800_000_000, 0).UTC()

	newGift := func() domain.Gift {
		return domain.Gift{
			GiftID:         209,
			TokenID:        186,
			Creator:        "0x3333333333333333333333333333333333333333",
			NFTContract:    "0x2222222222222222222222222222222222222222",
			ExpirationTime: expiry,
			PasswordHash:   "0xabc",
			Value:          "1000",
			CampaignID:     "spring",
		}
	}

	t.Run("upsert created starts active", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))

		require.NoError(t, gs.UpsertCreated(ctx, newGift()))

		gift, err := gs.GetGift(ctx, 209)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenID(186), gift.TokenID)
		assert.Equal(t, domain.GiftStatusActive, gift.Status)
		assert.Equal(t, expiry, gift.ExpirationTime)
		assert.Equal(t, "spring", gift.CampaignID)
		assert.True(t, gift.Annotations.Empty())
	})

	t.Run("missing gift is not found", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))

		_, err := gs.GetGift(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		fields, err := gs.RawFields(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("status only moves forward", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		require.NoError(t, gs.UpsertCreated(ctx, newGift()))

		require.NoError(t, gs.TransitionStatus(ctx, 209, domain.GiftStatusClaimed, "0x4444444444444444444444444444444444444444"))
		// Replaying the same transition is fine
		require.NoError(t, gs.TransitionStatus(ctx, 209, domain.GiftStatusClaimed, ""))

		err := gs.TransitionStatus(ctx, 209, domain.GiftStatusActive, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		err = gs.TransitionStatus(ctx, 209, domain.GiftStatusReturned, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		// A late creation replay does not reset the status
		require.NoError(t, gs.UpsertCreated(ctx, newGift()))

		gift, err := gs.GetGift(ctx, 209)
		require.NoError(t, err)
		assert.Equal(t, domain.GiftStatusClaimed, gift.Status)
		assert.Equal(t, "0x4444444444444444444444444444444444444444", gift.Claimer)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		err := gs.TransitionStatus(ctx, 209, domain.GiftStatus("burned"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("annotations merge field by field", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		require.NoError(t, gs.UpsertCreated(ctx, newGift()))

		first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)

		_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{
			EmailCiphertext: strPtr("cipher"),
			EmailHMAC:       strPtr("AA11"),
		}, first)
		require.NoError(t, err)

		got, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{
			EducationScore: intPtr(7),
		}, second)
		require.NoError(t, err)

		require.NotNil(t, got.EmailCiphertext)
		assert.Equal(t, "cipher", *got.EmailCiphertext)
		require.NotNil(t, got.EmailHMAC)
		assert.Equal(t, "aa11", *got.EmailHMAC)
		assert.True(t, first.Equal(*got.EmailCapturedAt))
		require.NotNil(t, got.EducationScore)
		assert.Equal(t, 7, *got.EducationScore)
		assert.True(t, second.Equal(*got.EducationScoreCapturedAt))
		assert.Nil(t, got.Appointment)

		// Identity is untouched
		gift, err := gs.GetGift(ctx, 209)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenID(186), gift.TokenID)
	})

	t.Run("appointment round trips", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		appt := &domain.Appointment{ScheduledAt: at.Add(48 * time.Hour), Timezone: "Asia/Taipei", Location: "Gallery"}

		_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{Appointment: appt}, at)
		require.NoError(t, err)

		got, err := gs.GetAnnotations(ctx, 209)
		require.NoError(t, err)
		require.NotNil(t, got.Appointment)
		assert.True(t, appt.ScheduledAt.Equal(got.Appointment.ScheduledAt))
		assert.Equal(t, "Gallery", got.Appointment.Location)
	})

	t.Run("email hmac index follows rewrites", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		at := time.Now().UTC()

		_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{EmailHMAC: strPtr("aa")}, at)
		require.NoError(t, err)
		_, err = gs.MergeAnnotations(ctx, 7, domain.AnnotationPatch{EmailHMAC: strPtr("aa")}, at)
		require.NoError(t, err)

		ids, err := gs.FindByEmailHMAC(ctx, "AA")
		require.NoError(t, err)
		assert.Equal(t, []domain.GiftID{7, 209}, ids)

		_, err = gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{EmailHMAC: strPtr("bb")}, at)
		require.NoError(t, err)

		ids, err = gs.FindByEmailHMAC(ctx, "aa")
		require.NoError(t, err)
		assert.Equal(t, []domain.GiftID{7}, ids)

		ids, err = gs.FindByEmailHMAC(ctx, "bb")
		require.NoError(t, err)
		assert.Equal(t, []domain.GiftID{209}, ids)
	})

	t.Run("concurrent patches to different fields both land", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		at := time.Now().UTC()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{EmailCiphertext: strPtr("c")}, at)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{EducationScore: intPtr(3)}, at)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := gs.GetAnnotations(ctx, 209)
		require.NoError(t, err)
		assert.NotNil(t, got.EmailCiphertext)
		assert.NotNil(t, got.EducationScore)
	})

	t.Run("set missing fields never overwrites", func(t *testing.T) {
		_, client := newTestRedis(t)
		gs := NewRedisGiftStore(client, NewKeys(""))
		_, err := gs.MergeAnnotations(ctx, 209, domain.AnnotationPatch{EducationScore: intPtr(9)}, time.Now().UTC())
		require.NoError(t, err)

		written, err := gs.SetMissingFields(ctx, 209, map[string]string{
			FieldEducationScore: "1",
			FieldEmailHMAC:      "cc",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{FieldEmailHMAC}, written)

		fields, err := gs.RawFields(ctx, 209)
		require.NoError(t, err)
		assert.Equal(t, "9", fields[FieldEducationScore])

		ids, err := gs.FindByEmailHMAC(ctx, "cc")
		require.NoError(t, err)
		assert.Equal(t, []domain.GiftID{209}, ids)

		written, err = gs.SetMissingFields(ctx, 209, map[string]string{FieldEducationScore: "2"})
		require.NoError(t, err)
		assert.Empty(t, written)
	})
}

func TestRedisMappingStore(t *testing.T) {
	ctx := context.Background()

	t.Run("bind is idempotent", func(t *testing.T) {
		_, client := newTestRedis(t)
		ms := NewRedisMappingStore(client, NewKeys(""))

		created, err := ms.Bind(ctx, 186, 209)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = ms.Bind(ctx, 186, 209)
		require.NoError(t, err)
		assert.False(t, created)

		giftID, err := ms.GiftIDForToken(ctx, 186)
		require.NoError(t, err)
		assert.Equal(t, domain.GiftID(209), giftID)

		tokenID, err := ms.TokenIDForGift(ctx, 209)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenID(186), tokenID)
	})

	t.Run("conflicting binds are consistency errors", func(t *testing.T) {
		_, client := newTestRedis(t)
		ms := NewRedisMappingStore(client, NewKeys(""))
		_, err := ms.Bind(ctx, 186, 209)
		require.NoError(t, err)

		_, err = ms.Bind(ctx, 186, 210)
		require.ErrorIs(t, err, domain.ErrConsistency)
		var cerr *domain.ConsistencyError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, domain.ConsistencyMappingCollision, cerr.Kind)
		assert.Contains(t, cerr.Detail, "209")

		_, err = ms.Bind(ctx, 187, 209)
		require.ErrorIs(t, err, domain.ErrConsistency)

		// Neither failed bind left a partial write
		_, err = ms.TokenIDForGift(ctx, 210)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = ms.GiftIDForToken(ctx, 187)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list mappings", func(t *testing.T) {
		_, client := newTestRedis(t)
		ms := NewRedisMappingStore(client, NewKeys("p"))
		for i := 1; i <= 5; i++ {
			_, err := ms.Bind(ctx, domain.TokenID(100+i), domain.GiftID(i))
			require.NoError(t, err)
		}

		got := map[domain.TokenID]domain.GiftID{}
		err := ms.ListMappings(ctx, func(tokenID domain.TokenID, giftID domain.GiftID) error {
			got[tokenID] = giftID
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, got, 5)
		assert.Equal(t, domain.GiftID(3), got[103])
	})
}

func TestRedisAggregateStore(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	as := NewRedisAggregateStore(client, NewKeys(""))

	agg, err := as.LoadAggregate(ctx, "spring")
	require.NoError(t, err)
	assert.Zero(t, agg.Version)

	agg.TotalGifts = 1
	agg.TotalValue = decimal.NewFromInt(1000)
	agg.Gifts[209] = &domain.GiftProjection{Created: true, Value: decimal.NewFromInt(1000)}
	require.NoError(t, as.CompareAndSwapAggregate(ctx, agg, 0))
	assert.Equal(t, uint64(1), agg.Version)

	// A writer holding the old version loses
	stale := domain.NewCampaignAggregate("spring")
	stale.TotalGifts = 99
	err = as.CompareAndSwapAggregate(ctx, stale, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	loaded, err := as.LoadAggregate(ctx, "spring")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.TotalGifts)
	assert.Equal(t, uint64(1), loaded.Version)
	assert.True(t, decimal.NewFromInt(1000).Equal(loaded.TotalValue))
	require.Contains(t, loaded.Gifts, domain.GiftID(209))

	_, err = as.LoadAggregate(ctx, "autumn")
	require.NoError(t, err)

	campaigns, err := as.ListCampaigns(ctx)
	require.NoError(t, err)
	sort.Strings(campaigns)
	assert.Equal(t, []string{"spring"}, campaigns)
}

func TestProbeRedis(t *testing.T) {
	ctx := context.Background()

	t.Run("stamps an empty store", func(t *testing.T) {
		mr, client := newTestRedis(t)
		keys := NewKeys("")
		require.NoError(t, ProbeRedis(ctx, client, keys))
		v, err := mr.Get(keys.SchemaVersion())
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, v)

		require.NoError(t, ProbeRedis(ctx, client, keys))
	})

	t.Run("rejects another layout", func(t *testing.T) {
		mr, client := newTestRedis(t)
		keys := NewKeys("")
		require.NoError(t, mr.Set(keys.SchemaVersion(), "0"))
		err := ProbeRedis(ctx, client, keys)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("unreachable store is unavailable", func(t *testing.T) {
		mr, client := newTestRedis(t)
		mr.Close()
		err := ProbeRedis(ctx, client, NewKeys(""))
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})
}

func TestRedisOutageIsUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	keys := NewKeys("")
	gs := NewRedisGiftStore(client, keys)
	ms := NewRedisMappingStore(client, keys)
	log := NewRedisEventLog(client, keys)
	mr.Close()

	_, err := gs.GetGift(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	_, err = ms.GiftIDForToken(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	event := buildTestEvent(domain.EventTypeGiftCreated, 1, 1, 0)
	_, err = log.Append(ctx, &event)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestRedisProbeMissStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	ps := NewRedisProbeMissStore(client, NewKeys(""))

	missed, err := ps.ProbeMissed(ctx, 186)
	require.NoError(t, err)
	assert.False(t, missed)

	require.NoError(t, ps.MarkProbeMiss(ctx, 186, time.Minute))
	missed, err = ps.ProbeMissed(ctx, 186)
	require.NoError(t, err)
	assert.True(t, missed)

	mr.FastForward(2 * time.Minute)
	missed, err = ps.ProbeMissed(ctx, 186)
	require.NoError(t, err)
	assert.False(t, missed)

	require.NoError(t, ps.MarkProbeMiss(ctx, 187, time.Minute))
	require.NoError(t, ps.ClearProbeMiss(ctx, 187))
	missed, err = ps.ProbeMissed(ctx, 187)
	require.NoError(t, err)
	assert.False(t, missed)

	// A zero ttl disables the marker
	require.NoError(t, ps.MarkProbeMiss(ctx, 188, 0))
	missed, err = ps.ProbeMissed(ctx, 188)
	require.NoError(t, err)
	assert.False(t, missed)
}
