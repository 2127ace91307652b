package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GiftStatus represents the lifecycle state of a gift
type GiftStatus string

const (
	GiftStatusActive   GiftStatus = "active"
	GiftStatusClaimed  GiftStatus = "claimed"
	GiftStatusReturned GiftStatus = "returned"
)

// GiftStatusFromChain maps the escrow contract's status enum
func GiftStatusFromChain(v uint8) (GiftStatus, bool) {
	switch v {
	case 0:
		return GiftStatusActive, true
	case 1:
		return GiftStatusClaimed, true
	case 2:
		return GiftStatusReturned, true
	default:
		return "", false
	}
}

// Valid reports whether s is a known status
func (s GiftStatus) Valid() bool {
	return s == GiftStatusActive || s == GiftStatusClaimed || s == GiftStatusReturned
}

// Terminal reports whether no further transition is possible
func (s GiftStatus) Terminal() bool {
	return s == GiftStatusClaimed || s == GiftStatusReturned
}

// CanTransitionTo reports whether moving from s to next is a forward (or no-op) transition.
// An empty status is treated as not yet known and may move anywhere.
func (s GiftStatus) CanTransitionTo(next GiftStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == "" || s == next {
		return true
	}
	return s == GiftStatusActive && next.Terminal()
}

// OnChainGift is the escrow contract's view of a gift as returned by getGift
type OnChainGift struct {
	GiftID         GiftID
	Creator        common.Address
	ExpirationTime time.Time
	NFTContract    common.Address
	TokenID        TokenID
	PasswordHash   common.Hash
	Status         GiftStatus
}

// Expired reports whether the gift can no longer be claimed at now
func (g *OnChainGift) Expired(now time.Time) bool {
	return !g.ExpirationTime.IsZero() && !now.Before(g.ExpirationTime)
}

// Gift is the single physical off-chain record of a gift, keyed by GiftID
type Gift struct {
	GiftID         GiftID      `json:"gift_id"`
	Creator        string      `json:"creator"`
	NFTContract    string      `json:"nft_contract"`
	TokenID        TokenID     `json:"token_id"`
	ExpirationTime time.Time   `json:"expiration_time"`
	PasswordHash   string      `json:"-"`
	Status         GiftStatus  `json:"status"`
	Claimer        string      `json:"claimer,omitempty"`
	Value          string      `json:"value,omitempty"`
	CampaignID     string      `json:"campaign_id,omitempty"`
	Annotations    Annotations `json:"annotations"`
}

// Appointment is the scheduling annotation captured after a gift is created
type Appointment struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Timezone    string    `json:"timezone,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// Annotations holds post-creation data attached to a gift.
// Each group carries the time it was captured.
type Annotations struct {
	EmailCiphertext          *string      `json:"email_ciphertext,omitempty"`
	EmailHMAC                *string      `json:"email_hmac,omitempty"`
	EmailCapturedAt          *time.Time   `json:"email_captured_at,omitempty"`
	Appointment              *Appointment `json:"appointment,omitempty"`
	AppointmentCapturedAt    *time.Time   `json:"appointment_captured_at,omitempty"`
	EducationScore           *int         `json:"education_score,omitempty"`
	EducationScoreCapturedAt *time.Time   `json:"education_score_captured_at,omitempty"`
}

// Empty reports whether no annotation is set
func (a Annotations) Empty() bool {
	return a.EmailCiphertext == nil && a.EmailHMAC == nil && a.Appointment == nil && a.EducationScore == nil
}

// AnnotationPatch is a partial annotation write. Nil fields are left untouched.
type AnnotationPatch struct {
	EmailCiphertext *string
	EmailHMAC       *string
	Appointment     *Appointment
	EducationScore  *int
}

// Empty reports whether the patch carries no field
func (p AnnotationPatch) Empty() bool {
	return p.EmailCiphertext == nil && p.EmailHMAC == nil && p.Appointment == nil && p.EducationScore == nil
}

// Merge applies the patch onto a copy of a, stamping capture times with at
func (a Annotations) Merge(p AnnotationPatch, at time.Time) Annotations {
	out := a
	if p.EmailCiphertext != nil || p.EmailHMAC != nil {
		if p.EmailCiphertext != nil {
			v := *p.EmailCiphertext
			out.EmailCiphertext = &v
		}
		if p.EmailHMAC != nil {
			v := strings.ToLower(*p.EmailHMAC)
			out.EmailHMAC = &v
		}
		t := at
		out.EmailCapturedAt = &t
	}
	if p.Appointment != nil {
		v := *p.Appointment
		out.Appointment = &v
		t := at
		out.AppointmentCapturedAt = &t
	}
	if p.EducationScore != nil {
		v := *p.EducationScore
		out.EducationScore = &v
		t := at
		out.EducationScoreCapturedAt = &t
	}
	return out
}

// GiftRef identifies a gift by exactly one of its identifiers, as supplied by a client
type GiftRef struct {
	GiftID  *GiftID
	TokenID *TokenID
}

// ClaimAttempt is an ephemeral claim request. It is never persisted.
type ClaimAttempt struct {
	TokenID   TokenID
	Password  string
	Salt      string
	DeviceID  string
	Timestamp time.Time
}
