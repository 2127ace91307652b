package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventType represents the type of a canonical event
type EventType string

const (
	EventTypeGiftCreated  EventType = "gift_created"
	EventTypeGiftClaimed  EventType = "gift_claimed"
	EventTypeGiftReturned EventType = "gift_returned"
	EventTypeNFTTransfer  EventType = "nft_transfer"
	EventTypeGiftViewed   EventType = "gift_viewed"
)

// EventSource identifies the code path that produced an event
type EventSource string

const (
	EventSourceEscrow EventSource = "escrow"
	EventSourceNFT    EventSource = "nft"
	EventSourceAPI    EventSource = "api"
)

// CanonicalEvent is an immutable entry of the canonical event log
type CanonicalEvent struct {
	// Offset is the position in the global log, assigned on append
	Offset         uint64          `json:"offset"`
	EventID        string          `json:"event_id"`
	Type           EventType       `json:"type"`
	GiftID         GiftID          `json:"gift_id"`
	TokenID        TokenID         `json:"token_id"`
	CampaignID     string          `json:"campaign_id"`
	BlockNumber    uint64          `json:"block_number"`
	BlockTimestamp time.Time       `json:"block_timestamp"`
	TxHash         string          `json:"tx_hash"`
	LogIndex       uint            `json:"log_index"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ProcessedAt    time.Time       `json:"processed_at"`
	Source         EventSource     `json:"source"`
}

// Position returns the event's chain position
func (e *CanonicalEvent) Position() ChainPosition {
	return ChainPosition{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// ChainPosition orders events by (blockNumber, logIndex)
type ChainPosition struct {
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint   `json:"log_index"`
}

// Less reports whether p comes strictly before o on chain
func (p ChainPosition) Less(o ChainPosition) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

// NewEventID derives the dedup key of a chain event: keccak256(txHash || uint256(logIndex))
func NewEventID(txHash common.Hash, logIndex uint) string {
	idx := math.U256Bytes(new(big.Int).SetUint64(uint64(logIndex)))
	return crypto.Keccak256Hash(txHash.Bytes(), idx).Hex()
}

// NewViewEventID derives the dedup key of a view so each viewer counts once per gift
func NewViewEventID(giftID GiftID, viewerID string) string {
	return crypto.Keccak256Hash(
		[]byte(EventTypeGiftViewed),
		math.U256Bytes(giftID.BigInt()),
		[]byte(viewerID),
	).Hex()
}

// GiftCreatedPayload is the payload of a gift_created event
type GiftCreatedPayload struct {
	Creator        string `json:"creator"`
	NFTContract    string `json:"nft_contract"`
	ExpirationTime int64  `json:"expiration_time"`
	Value          string `json:"value"`
}

// GiftClaimedPayload is the payload of a gift_claimed event
type GiftClaimedPayload struct {
	Recipient string `json:"recipient"`
}

// GiftReturnedPayload is the payload of a gift_returned event
type GiftReturnedPayload struct {
	Creator string `json:"creator"`
}

// NFTTransferPayload is the payload of an nft_transfer event
type NFTTransferPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GiftViewedPayload is the payload of a gift_viewed event
type GiftViewedPayload struct {
	ViewerID string `json:"viewer_id"`
}

// Order is the iteration order of a log read
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// EventQuery selects a range of the log: After < offset < Before.
// A zero Before means unbounded.
type EventQuery struct {
	After  uint64
	Before uint64
	Limit  int
	Order  Order
}
