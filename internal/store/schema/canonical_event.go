package schema

import (
	"time"

	"gorm.io/datatypes"
)

// CanonicalEvent is a row of the canonical event log. LogOffset is the global
// order; EventID deduplicates re-delivered chain logs.
type CanonicalEvent struct {
	LogOffset      uint64         `gorm:"column:log_offset;primaryKey;autoIncrement"`
	EventID        string         `gorm:"column:event_id;type:text;not null;uniqueIndex"`
	Type           string         `gorm:"column:type;type:text;not null"`
	GiftID         uint64         `gorm:"column:gift_id;not null;index"`
	TokenID        uint64         `gorm:"column:token_id;not null"`
	CampaignID     string         `gorm:"column:campaign_id;type:text;not null"`
	BlockNumber    uint64         `gorm:"column:block_number;not null"`
	BlockTimestamp time.Time      `gorm:"column:block_timestamp"`
	TxHash         string         `gorm:"column:tx_hash;type:text"`
	LogIndex       uint           `gorm:"column:log_index;not null"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb"`
	ProcessedAt    time.Time      `gorm:"column:processed_at;not null"`
	Source         string         `gorm:"column:source;type:text;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (CanonicalEvent) TableName() string {
	return "canonical_events"
}
