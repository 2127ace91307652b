// Package degraded keeps annotation writes and analytics reads available while the
// primary store is unreachable.
//
// Buffered annotation writes live in process memory only. They are NOT flushed to the
// primary store when it recovers, and once the primary answers again reads are served
// from it, so a buffered write can be missing from a post-recovery read. Operators can
// inspect the buffer through Buffered and replay it by hand.
package degraded

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// BufferedRecord is an annotation record held in memory during an outage
type BufferedRecord struct {
	Key         string             `json:"key"`
	GiftID      domain.GiftID      `json:"gift_id"`
	Annotations domain.Annotations `json:"annotations"`
	BufferedAt  time.Time          `json:"buffered_at"`
}

// Store wraps an annotation store with an in-memory write buffer
type Store struct {
	primary store.AnnotationStore
	keys    store.Keys

	mu     sync.Mutex
	buffer map[string]*BufferedRecord
}

var _ store.AnnotationStore = (*Store)(nil)

// New wraps primary. Buffer keys follow the primary layout (gift:<giftId>).
func New(primary store.AnnotationStore, keys store.Keys) *Store {
	return &Store{
		primary: primary,
		keys:    keys,
		buffer:  make(map[string]*BufferedRecord),
	}
}

// MergeAnnotations writes to the primary store, buffering the merge in memory when
// the primary is unavailable
func (s *Store) MergeAnnotations(ctx context.Context, giftID domain.GiftID, patch domain.AnnotationPatch, at time.Time) (domain.Annotations, error) {
	annotations, err := s.primary.MergeAnnotations(ctx, giftID, patch, at)
	if err == nil || !errors.Is(err, domain.ErrServiceUnavailable) {
		return annotations, err
	}

	key := s.keys.Gift(uint64(giftID))

	s.mu.Lock()
	rec, ok := s.buffer[key]
	if !ok {
		rec = &BufferedRecord{Key: key, GiftID: giftID}
		s.buffer[key] = rec
	}
	rec.Annotations = rec.Annotations.Merge(patch, at)
	rec.BufferedAt = at
	merged := rec.Annotations
	size := len(s.buffer)
	s.mu.Unlock()

	metrics.DegradedWritesTotal.Inc()
	metrics.DegradedBufferSize.Set(float64(size))
	logger.WarnCtx(ctx, "Primary store unavailable, annotation write buffered in memory",
		zap.Uint64("giftID", uint64(giftID)),
		zap.String("key", key),
		zap.Error(err))

	return merged, nil
}

// GetAnnotations reads from the primary store and falls back to the buffer only
// when the primary is unavailable
func (s *Store) GetAnnotations(ctx context.Context, giftID domain.GiftID) (domain.Annotations, error) {
	annotations, err := s.primary.GetAnnotations(ctx, giftID)
	if err == nil || !errors.Is(err, domain.ErrServiceUnavailable) {
		return annotations, err
	}

	s.mu.Lock()
	rec, ok := s.buffer[s.keys.Gift(uint64(giftID))]
	var buffered domain.Annotations
	if ok {
		buffered = rec.Annotations
	}
	s.mu.Unlock()

	if !ok {
		return domain.Annotations{}, err
	}

	metrics.DegradedReadsTotal.Inc()
	logger.WarnCtx(ctx, "Primary store unavailable, serving buffered annotations",
		zap.Uint64("giftID", uint64(giftID)))
	return buffered, nil
}

// Buffered returns a snapshot of the buffer ordered by key
func (s *Store) Buffered() []BufferedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BufferedRecord, 0, len(s.buffer))
	for _, rec := range s.buffer {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
