package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a gift, mapping or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidPassword is returned when a claim password does not match the on-chain commitment
	ErrInvalidPassword = errors.New("invalid password")

	// ErrConfiguration is returned when contract or chain parameters are missing or malformed
	ErrConfiguration = errors.New("configuration error")

	// ErrConsistency is returned for mapping collisions and cross-key divergence
	ErrConsistency = errors.New("consistency error")

	// ErrServiceUnavailable is returned when the store or the chain RPC fails transiently
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrDuplicateEvent is returned internally when an event id is already in the log.
	// EventLog.Append swallows it.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrGiftNotClaimable is returned when a gift is no longer active or has expired
	ErrGiftNotClaimable = errors.New("gift not claimable")

	// ErrRateLimited is returned when a device exceeds its claim attempt budget
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidTransition is returned when a status change would move a gift backwards
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidArgument is returned when a request fails boundary validation
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConsistencyKind classifies a consistency error
type ConsistencyKind string

const (
	// ConsistencyMappingCollision means a tokenId or giftId is already mapped to a different counterpart
	ConsistencyMappingCollision ConsistencyKind = "mapping_collision"
	// ConsistencyFieldDivergence means the canonical and mirror keys disagree on a field
	ConsistencyFieldDivergence ConsistencyKind = "field_divergence"
	// ConsistencyAmbiguousMirror means the mirror key is itself the canonical record of another gift
	ConsistencyAmbiguousMirror ConsistencyKind = "ambiguous_mirror"
	// ConsistencyOnChainMismatch means the supplied pair does not match the escrow contract
	ConsistencyOnChainMismatch ConsistencyKind = "on_chain_mismatch"
)

// ConsistencyError carries the details of a consistency violation.
// It matches ErrConsistency with errors.Is.
type ConsistencyError struct {
	Kind    ConsistencyKind `json:"kind"`
	TokenID TokenID         `json:"token_id"`
	GiftID  GiftID          `json:"gift_id"`
	Field   string          `json:"field,omitempty"`
	Detail  string          `json:"detail"`
}

func (e *ConsistencyError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("consistency error (%s): token %d / gift %d field %q: %s", e.Kind, e.TokenID, e.GiftID, e.Field, e.Detail)
	}
	return fmt.Sprintf("consistency error (%s): token %d / gift %d: %s", e.Kind, e.TokenID, e.GiftID, e.Detail)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}

// Unavailable wraps err so that it matches ErrServiceUnavailable
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}
