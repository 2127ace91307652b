package store

import (
	"strconv"
	"strings"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// Keys builds the Redis key layout. Gift records for gift ids and the legacy
// token-id mirror share the gift:<n> namespace.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder; an empty prefix leaves keys unprefixed
func NewKeys(prefix string) Keys {
	return Keys{prefix: strings.TrimSuffix(prefix, ":")}
}

func (k Keys) key(parts ...string) string {
	s := strings.Join(parts, ":")
	if k.prefix == "" {
		return s
	}
	return k.prefix + ":" + s
}

func (k Keys) Gift(id uint64) string {
	return k.key("gift", strconv.FormatUint(id, 10))
}

func (k Keys) EmailIndex(hmac string) string {
	return k.key("gift", "email_hmac", strings.ToLower(hmac))
}

func (k Keys) TokenMapping(tokenID domain.TokenID) string {
	return k.key("mapping", "token", tokenID.String())
}

func (k Keys) GiftMapping(giftID domain.GiftID) string {
	return k.key("mapping", "gift", giftID.String())
}

// TokenMappingPattern matches every token mapping for SCAN
func (k Keys) TokenMappingPattern() string {
	return k.key("mapping", "token", "*")
}

func (k Keys) EventLog() string {
	return k.key("events", "log")
}

func (k Keys) EventData() string {
	return k.key("events", "data")
}

func (k Keys) EventSeq() string {
	return k.key("events", "seq")
}

func (k Keys) EventDedup(eventID string) string {
	return k.key("events", "id", strings.ToLower(eventID))
}

func (k Keys) Aggregate(campaignID string) string {
	return k.key("campaign", campaignID, "aggregate")
}

func (k Keys) Campaigns() string {
	return k.key("campaigns")
}

func (k Keys) Checkpoint(name string) string {
	return k.key("checkpoint", name)
}

func (k Keys) SchemaVersion() string {
	return k.key("schema", "version")
}

func (k Keys) ProbeMiss(tokenID domain.TokenID) string {
	return k.key("resolver", "probe", tokenID.String())
}

func (k Keys) ClaimThrottle(deviceID string) string {
	return k.key("claim", "device", deviceID)
}
