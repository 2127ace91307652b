package store

import (
	"context"
	"errors"
	"time"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// ErrVersionConflict is returned when a compare-and-swap write loses against a concurrent writer
var ErrVersionConflict = errors.New("aggregate version conflict")

// EventLog is the append-only, deduplicated canonical event log
type EventLog interface {
	// Append adds an event if its EventID is not yet in the log.
	// A duplicate is a no-op that returns appended=false and no error.
	// On success the assigned offset is written back to event.Offset.
	Append(ctx context.Context, event *domain.CanonicalEvent) (appended bool, err error)

	// Read returns events whose offsets fall in (After, Before) in the requested order
	Read(ctx context.Context, query domain.EventQuery) ([]domain.CanonicalEvent, error)

	// Head returns the highest assigned offset, 0 for an empty log
	Head(ctx context.Context) (uint64, error)
}

// CheckpointStore persists named progress markers that only move forward
type CheckpointStore interface {
	// GetCheckpoint returns the stored value and whether one exists
	GetCheckpoint(ctx context.Context, name string) (uint64, bool, error)

	// AdvanceCheckpoint stores max(current, value) and returns the resulting value
	AdvanceCheckpoint(ctx context.Context, name string, value uint64) (uint64, error)
}

// AnnotationStore is the write path for post-creation gift data
type AnnotationStore interface {
	// MergeAnnotations applies a field-level patch to the gift's canonical record
	MergeAnnotations(ctx context.Context, giftID domain.GiftID, patch domain.AnnotationPatch, at time.Time) (domain.Annotations, error)

	// GetAnnotations reads the annotations of a gift's canonical record
	GetAnnotations(ctx context.Context, giftID domain.GiftID) (domain.Annotations, error)
}

// GiftStore holds the canonical off-chain gift records
type GiftStore interface {
	AnnotationStore

	// GetGift reads the canonical record of a gift
	GetGift(ctx context.Context, giftID domain.GiftID) (*domain.Gift, error)

	// UpsertCreated records the on-chain identity of a newly created gift. Existing annotation
	// fields and a status that already moved forward are preserved.
	UpsertCreated(ctx context.Context, gift domain.Gift) error

	// TransitionStatus moves a gift forward to status. A backwards move returns ErrInvalidTransition.
	TransitionStatus(ctx context.Context, giftID domain.GiftID, status domain.GiftStatus, claimer string) error

	// FindByEmailHMAC returns the gift ids whose email HMAC equals hmac
	FindByEmailHMAC(ctx context.Context, hmac string) ([]domain.GiftID, error)

	// RawFields returns every field stored under gift:<id>, the canonical key for a gift id
	// and the legacy mirror key for a token id. A missing key returns an empty map.
	RawFields(ctx context.Context, id uint64) (map[string]string, error)

	// SetMissingFields copies fields onto gift:<giftId> without overwriting existing ones
	// and returns the names of the fields that were written
	SetMissingFields(ctx context.Context, giftID domain.GiftID, fields map[string]string) ([]string, error)
}

// MappingStore holds the bidirectional tokenId <-> giftId mapping
type MappingStore interface {
	// GiftIDForToken returns the mapped gift id or ErrNotFound
	GiftIDForToken(ctx context.Context, tokenID domain.TokenID) (domain.GiftID, error)

	// TokenIDForGift returns the mapped token id or ErrNotFound
	TokenIDForGift(ctx context.Context, giftID domain.GiftID) (domain.TokenID, error)

	// Bind writes both directions atomically. Rebinding the same pair is a no-op;
	// a different counterpart for either side returns a *domain.ConsistencyError.
	Bind(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) (created bool, err error)

	// ListMappings iterates every bound pair
	ListMappings(ctx context.Context, fn func(tokenID domain.TokenID, giftID domain.GiftID) error) error
}

// AggregateStore persists campaign roll-ups with optimistic concurrency
type AggregateStore interface {
	// LoadAggregate returns the stored aggregate or an empty one at version 0
	LoadAggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error)

	// CompareAndSwapAggregate writes agg if the stored version still equals expected.
	// On success agg.Version is expected+1; otherwise ErrVersionConflict is returned.
	CompareAndSwapAggregate(ctx context.Context, agg *domain.CampaignAggregate, expected uint64) error

	// ListCampaigns returns every campaign that has an aggregate
	ListCampaigns(ctx context.Context) ([]string, error)
}

// ProbeMissStore remembers tokenIds whose probe came back empty for a short while
type ProbeMissStore interface {
	MarkProbeMiss(ctx context.Context, tokenID domain.TokenID, ttl time.Duration) error
	ProbeMissed(ctx context.Context, tokenID domain.TokenID) (bool, error)
	ClearProbeMiss(ctx context.Context, tokenID domain.TokenID) error
}
