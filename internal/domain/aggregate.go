package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignAggregate is a derived roll-up over the canonical event log.
// It is never an independent source of truth.
type CampaignAggregate struct {
	CampaignID string          `json:"campaign_id"`
	TotalGifts int64           `json:"total_gifts"`
	Claimed    int64           `json:"claimed"`
	Viewed     int64           `json:"viewed"`
	Expired    int64           `json:"expired"`
	TotalValue decimal.Decimal `json:"total_value"`

	// HighWaterMark is the offset of the last applied event
	HighWaterMark uint64 `json:"high_water_mark"`
	LastEventID   string `json:"last_event_id,omitempty"`
	// Version increases on every successful write and guards compare-and-swap
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	Gifts map[GiftID]*GiftProjection `json:"gifts"`
}

// GiftProjection is the per-gift state folded into an aggregate
type GiftProjection struct {
	Created bool            `json:"created"`
	Value   decimal.Decimal `json:"value"`
	// Status is a last-writer-wins register keyed by chain position
	Status         GiftStatus     `json:"status,omitempty"`
	StatusPosition *ChainPosition `json:"status_position,omitempty"`
}

// NewCampaignAggregate returns an empty aggregate
func NewCampaignAggregate(campaignID string) *CampaignAggregate {
	return &CampaignAggregate{
		CampaignID: campaignID,
		TotalValue: decimal.Zero,
		Gifts:      make(map[GiftID]*GiftProjection),
	}
}

// Counters is the public view of an aggregate without per-gift state
type Counters struct {
	CampaignID    string          `json:"campaign_id"`
	TotalGifts    int64           `json:"total_gifts"`
	Claimed       int64           `json:"claimed"`
	Viewed        int64           `json:"viewed"`
	Expired       int64           `json:"expired"`
	TotalValue    decimal.Decimal `json:"total_value"`
	HighWaterMark uint64          `json:"high_water_mark"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Counters returns the counters of a
func (a *CampaignAggregate) Counters() Counters {
	return Counters{
		CampaignID:    a.CampaignID,
		TotalGifts:    a.TotalGifts,
		Claimed:       a.Claimed,
		Viewed:        a.Viewed,
		Expired:       a.Expired,
		TotalValue:    a.TotalValue,
		HighWaterMark: a.HighWaterMark,
		UpdatedAt:     a.UpdatedAt,
	}
}
