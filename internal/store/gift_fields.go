package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// Hash fields of a gift:<n> record
const (
	FieldGiftID         = "gift_id"
	FieldTokenID        = "token_id"
	FieldCreator        = "creator"
	FieldNFTContract    = "nft_contract"
	FieldExpirationTime = "expiration_time"
	FieldPasswordHash   = "password_hash"
	FieldStatus         = "status"
	FieldClaimer        = "claimer"
	FieldValue          = "value"
	FieldCampaignID     = "campaign_id"

	FieldEmailCiphertext          = "email_ciphertext"
	FieldEmailHMAC                = "email_hmac"
	FieldEmailCapturedAt          = "email_captured_at"
	FieldAppointment              = "appointment"
	FieldAppointmentCapturedAt    = "appointment_captured_at"
	FieldEducationScore           = "education_score"
	FieldEducationScoreCapturedAt = "education_score_captured_at"
)

// IdentityFields are the on-chain identity of a record. A mirror whose identity
// names another gift is that gift's canonical record, not a mirror.
var IdentityFields = []string{FieldGiftID, FieldTokenID, FieldCreator, FieldNFTContract}

// AnnotationFields are the post-creation fields written by the annotation path
var AnnotationFields = []string{
	FieldEmailCiphertext,
	FieldEmailHMAC,
	FieldEmailCapturedAt,
	FieldAppointment,
	FieldAppointmentCapturedAt,
	FieldEducationScore,
	FieldEducationScoreCapturedAt,
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, s string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return &t, nil
}

// annotationPatchFields renders the fields a patch writes, capture times included
func annotationPatchFields(patch domain.AnnotationPatch, at time.Time) (map[string]interface{}, error) {
	merged := domain.Annotations{}.Merge(patch, at)
	fields := make(map[string]interface{})

	if merged.EmailCapturedAt != nil {
		if merged.EmailCiphertext != nil {
			fields[FieldEmailCiphertext] = *merged.EmailCiphertext
		}
		if merged.EmailHMAC != nil {
			fields[FieldEmailHMAC] = *merged.EmailHMAC
		}
		fields[FieldEmailCapturedAt] = formatTime(*merged.EmailCapturedAt)
	}
	if merged.Appointment != nil {
		raw, err := json.Marshal(merged.Appointment)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal appointment: %w", err)
		}
		fields[FieldAppointment] = string(raw)
		fields[FieldAppointmentCapturedAt] = formatTime(*merged.AppointmentCapturedAt)
	}
	if merged.EducationScore != nil {
		fields[FieldEducationScore] = strconv.Itoa(*merged.EducationScore)
		fields[FieldEducationScoreCapturedAt] = formatTime(*merged.EducationScoreCapturedAt)
	}

	return fields, nil
}

func decodeAnnotations(fields map[string]string) (domain.Annotations, error) {
	var a domain.Annotations
	var err error

	if v, ok := fields[FieldEmailCiphertext]; ok {
		a.EmailCiphertext = &v
	}
	if v, ok := fields[FieldEmailHMAC]; ok {
		a.EmailHMAC = &v
	}
	if v, ok := fields[FieldEmailCapturedAt]; ok {
		if a.EmailCapturedAt, err = parseTime(FieldEmailCapturedAt, v); err != nil {
			return a, err
		}
	}
	if v, ok := fields[FieldAppointment]; ok {
		var appt domain.Appointment
		if err := json.Unmarshal([]byte(v), &appt); err != nil {
			return a, fmt.Errorf("invalid appointment: %w", err)
		}
		a.Appointment = &appt
	}
	if v, ok := fields[FieldAppointmentCapturedAt]; ok {
		if a.AppointmentCapturedAt, err = parseTime(FieldAppointmentCapturedAt, v); err != nil {
			return a, err
		}
	}
	if v, ok := fields[FieldEducationScore]; ok {
		score, err := strconv.Atoi(v)
		if err != nil {
			return a, fmt.Errorf("invalid education score %q: %w", v, err)
		}
		a.EducationScore = &score
	}
	if v, ok := fields[FieldEducationScoreCapturedAt]; ok {
		if a.EducationScoreCapturedAt, err = parseTime(FieldEducationScoreCapturedAt, v); err != nil {
			return a, err
		}
	}

	return a, nil
}

func decodeGift(giftID domain.GiftID, fields map[string]string) (*domain.Gift, error) {
	gift := &domain.Gift{
		GiftID:       giftID,
		Creator:      fields[FieldCreator],
		NFTContract:  fields[FieldNFTContract],
		PasswordHash: fields[FieldPasswordHash],
		Status:       domain.GiftStatus(fields[FieldStatus]),
		Claimer:      fields[FieldClaimer],
		Value:        fields[FieldValue],
		CampaignID:   fields[FieldCampaignID],
	}

	if v, ok := fields[FieldTokenID]; ok {
		tokenID, err := domain.ParseTokenID(v)
		if err != nil {
			return nil, err
		}
		gift.TokenID = tokenID
	}
	if v, ok := fields[FieldExpirationTime]; ok {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration time %q: %w", v, err)
		}
		if sec > 0 {
			gift.ExpirationTime = time.Unix(sec, 0).UTC()
		}
	}

	annotations, err := decodeAnnotations(fields)
	if err != nil {
		return nil, err
	}
	gift.Annotations = annotations

	return gift, nil
}

// createdFields renders the on-chain identity of a gift
func createdFields(g domain.Gift) map[string]interface{} {
	fields := map[string]interface{}{
		FieldGiftID:      g.GiftID.String(),
		FieldTokenID:     g.TokenID.String(),
		FieldCreator:     g.Creator,
		FieldNFTContract: g.NFTContract,
	}
	if !g.ExpirationTime.IsZero() {
		fields[FieldExpirationTime] = strconv.FormatInt(g.ExpirationTime.Unix(), 10)
	}
	if g.PasswordHash != "" {
		fields[FieldPasswordHash] = g.PasswordHash
	}
	if g.Value != "" {
		fields[FieldValue] = g.Value
	}
	if g.CampaignID != "" {
		fields[FieldCampaignID] = g.CampaignID
	}
	return fields
}
