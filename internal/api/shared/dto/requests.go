package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/feral-file/ff-gift-engine/internal/api/shared/constants"
	apierrors "github.com/feral-file/ff-gift-engine/internal/api/shared/errors"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// ID is a gift or token identifier. Clients send it as a JSON number or a decimal string.
type ID uint64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid identifier %s", data)
	}
	*id = ID(v)
	return nil
}

// ClaimVerifyRequest represents the request body for POST /claims/verify
type ClaimVerifyRequest struct {
	TokenID  *ID    `json:"tokenId"`
	Password string `json:"password"`
	Salt     string `json:"salt"`
	DeviceID string `json:"deviceId"`
}

// Validate validates the request body
func (r *ClaimVerifyRequest) Validate() error {
	if r.TokenID == nil {
		return apierrors.NewValidationError("tokenId is required")
	}
	if r.Password == "" {
		return apierrors.NewValidationError("password is required")
	}
	if r.DeviceID == "" || len(r.DeviceID) > constants.MAX_DEVICE_ID_LENGTH {
		return apierrors.NewValidationError("deviceId is required")
	}
	return nil
}

// Attempt converts the request into a claim attempt
func (r *ClaimVerifyRequest) Attempt(at time.Time) domain.ClaimAttempt {
	return domain.ClaimAttempt{
		TokenID:   domain.TokenID(*r.TokenID),
		Password:  r.Password,
		Salt:      r.Salt,
		DeviceID:  r.DeviceID,
		Timestamp: at,
	}
}

// AppointmentRequest is the appointment part of an annotation write
type AppointmentRequest struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	Timezone    string    `json:"timezone,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// AnnotationRequest represents the request body for POST /gifts/annotations.
// Exactly one of TokenID and GiftID identifies the gift.
type AnnotationRequest struct {
	TokenID         *ID                 `json:"tokenId,omitempty"`
	GiftID          *ID                 `json:"giftId,omitempty"`
	EmailCiphertext *string             `json:"emailCiphertext,omitempty"`
	EmailHMAC       *string             `json:"emailHmac,omitempty"`
	Appointment     *AppointmentRequest `json:"appointment,omitempty"`
	EducationScore  *int                `json:"educationScore,omitempty"`
}

// DecodeAnnotationRequest decodes body, rejecting fields the API does not know
func DecodeAnnotationRequest(body []byte) (*AnnotationRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var req AnnotationRequest
	if err := dec.Decode(&req); err != nil {
		return nil, apierrors.NewBadRequestError("Invalid request body", err.Error())
	}
	if dec.More() {
		return nil, apierrors.NewBadRequestError("Invalid request body", "unexpected data after the JSON object")
	}
	return &req, nil
}

// Ref returns the gift reference of the request
func (r *AnnotationRequest) Ref() domain.GiftRef {
	var ref domain.GiftRef
	if r.GiftID != nil {
		id := domain.GiftID(*r.GiftID)
		ref.GiftID = &id
	}
	if r.TokenID != nil {
		id := domain.TokenID(*r.TokenID)
		ref.TokenID = &id
	}
	return ref
}

// Patch returns the annotation fields of the request
func (r *AnnotationRequest) Patch() domain.AnnotationPatch {
	patch := domain.AnnotationPatch{
		EmailCiphertext: r.EmailCiphertext,
		EmailHMAC:       r.EmailHMAC,
		EducationScore:  r.EducationScore,
	}
	if r.Appointment != nil {
		patch.Appointment = &domain.Appointment{
			ScheduledAt: r.Appointment.ScheduledAt,
			Timezone:    r.Appointment.Timezone,
			Location:    r.Appointment.Location,
		}
	}
	return patch
}

// ReconcileRequest represents the request body for POST /reconcile
type ReconcileRequest struct {
	FromBlock *uint64 `json:"fromBlock,omitempty"`
}

// RepairRequest represents the request body for POST /repair
type RepairRequest struct {
	TokenID *ID `json:"tokenId"`
	GiftID  *ID `json:"giftId"`
}

// Validate validates the request body
func (r *RepairRequest) Validate() error {
	if r.TokenID == nil || r.GiftID == nil {
		return apierrors.NewValidationError("tokenId and giftId are required")
	}
	return nil
}

// RecordViewRequest represents the request body for POST /gifts/:gift_id/views
type RecordViewRequest struct {
	ViewerID string `json:"viewerId"`
}

// Validate validates the request body
func (r *RecordViewRequest) Validate() error {
	if r.ViewerID == "" {
		return apierrors.NewValidationError("viewerId is required")
	}
	if len(r.ViewerID) > constants.MAX_VIEWER_ID_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("viewerId must be at most %d characters", constants.MAX_VIEWER_ID_LENGTH))
	}
	return nil
}
