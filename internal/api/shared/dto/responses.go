package dto

import (
	"time"

	"github.com/feral-file/ff-gift-engine/internal/degraded"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/reconciler"
)

// ClaimVerifyResponse is the only body the claim endpoint ever returns.
// Error is set for a genuine password mismatch and nothing else.
type ClaimVerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// AnnotationResponse is returned after an annotation write
type AnnotationResponse struct {
	GiftID      domain.GiftID      `json:"giftId"`
	Annotations domain.Annotations `json:"annotations"`
}

// GiftResponse represents a gift record
type GiftResponse struct {
	GiftID         domain.GiftID      `json:"giftId"`
	TokenID        domain.TokenID     `json:"tokenId"`
	Creator        string             `json:"creator,omitempty"`
	NFTContract    string             `json:"nftContract,omitempty"`
	Status         domain.GiftStatus  `json:"status,omitempty"`
	Claimer        string             `json:"claimer,omitempty"`
	Value          string             `json:"value,omitempty"`
	CampaignID     string             `json:"campaignId,omitempty"`
	ExpirationTime *time.Time         `json:"expirationTime,omitempty"`
	Annotations    domain.Annotations `json:"annotations"`
}

// MapGiftToDTO maps a gift record to its response
func MapGiftToDTO(g *domain.Gift) GiftResponse {
	resp := GiftResponse{
		GiftID:      g.GiftID,
		TokenID:     g.TokenID,
		Creator:     g.Creator,
		NFTContract: g.NFTContract,
		Status:      g.Status,
		Claimer:     g.Claimer,
		Value:       g.Value,
		CampaignID:  g.CampaignID,
		Annotations: g.Annotations,
	}
	if !g.ExpirationTime.IsZero() {
		t := g.ExpirationTime
		resp.ExpirationTime = &t
	}
	return resp
}

// EmailLookupResponse lists the gifts sharing an email HMAC
type EmailLookupResponse struct {
	GiftIDs []domain.GiftID `json:"giftIds"`
}

// RecordViewResponse reports whether the view was logged
type RecordViewResponse struct {
	Recorded bool `json:"recorded"`
}

// ReconcileResponse is returned by POST /reconcile
type ReconcileResponse struct {
	RunID           string                    `json:"runId"`
	EventsProcessed int                       `json:"eventsProcessed"`
	Duplicates      int                       `json:"duplicates"`
	FromBlock       uint64                    `json:"fromBlock"`
	ToBlock         uint64                    `json:"toBlock"`
	Conflicts       []domain.ConsistencyError `json:"conflicts,omitempty"`
}

// MapReconcileResult maps a reconcile result to its response
func MapReconcileResult(r *reconciler.Result) ReconcileResponse {
	return ReconcileResponse{
		RunID:           r.RunID,
		EventsProcessed: r.EventsProcessed,
		Duplicates:      r.Duplicates,
		FromBlock:       r.FromBlock,
		ToBlock:         r.ToBlock,
		Conflicts:       r.Conflicts,
	}
}

// RepairAllResponse lists the repairs that found something
type RepairAllResponse struct {
	Reports []reconciler.RepairReport `json:"reports"`
}

// CampaignStatsResponse carries campaign counters. Stale is set when the aggregate
// store was unreachable and the last known good counters were served.
type CampaignStatsResponse struct {
	domain.Counters
	Stale bool `json:"stale"`
}

// EventListResponse is a page of the canonical event log
type EventListResponse struct {
	Events []domain.CanonicalEvent `json:"events"`
	// NextAfter is the offset to pass as after for the next ascending page
	NextAfter *uint64 `json:"nextAfter,omitempty"`
	Head      uint64  `json:"head"`
}

// DegradedBufferResponse lists annotation writes held in memory during an outage
type DegradedBufferResponse struct {
	Records []degraded.BufferedRecord `json:"records"`
}
