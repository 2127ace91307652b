// Package annotation handles post-creation gift data. Every write is keyed by the
// canonical giftId; a tokenId is translated before anything is written.
package annotation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/resolver"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

const maxEducationScore = 100

// Service reads and writes gift annotations
//
//go:generate mockgen -source=service.go -destination=../mocks/annotation.go -package=mocks -mock_names=Service=MockAnnotationService
type Service interface {
	// Annotate merges patch into the gift identified by ref and returns its giftId
	Annotate(ctx context.Context, ref domain.GiftRef, patch domain.AnnotationPatch) (domain.GiftID, domain.Annotations, error)

	// Get returns a gift record. While the primary store is unavailable only the
	// buffered annotations are returned.
	Get(ctx context.Context, giftID domain.GiftID) (*domain.Gift, error)

	// FindByEmailHMAC returns the gifts whose email HMAC matches
	FindByEmailHMAC(ctx context.Context, hmac string) ([]domain.GiftID, error)

	// RecordView logs that viewerID viewed a gift. Repeated views by the same viewer are not logged again.
	RecordView(ctx context.Context, giftID domain.GiftID, viewerID string) (bool, error)
}

type service struct {
	resolver    resolver.Resolver
	annotations store.AnnotationStore
	gifts       store.GiftStore
	log         store.EventLog
	jcs         adapter.JCS
	clock       adapter.Clock
}

// NewService creates the annotation service. annotations is normally the degraded-mode
// wrapper around gifts.
func NewService(
	resolver resolver.Resolver,
	annotations store.AnnotationStore,
	gifts store.GiftStore,
	log store.EventLog,
	jcs adapter.JCS,
	clock adapter.Clock,
) Service {
	return &service{
		resolver:    resolver,
		annotations: annotations,
		gifts:       gifts,
		log:         log,
		jcs:         jcs,
		clock:       clock,
	}
}

func (s *service) Annotate(ctx context.Context, ref domain.GiftRef, patch domain.AnnotationPatch) (domain.GiftID, domain.Annotations, error) {
	if err := validatePatch(patch); err != nil {
		return 0, domain.Annotations{}, err
	}

	giftID, err := s.canonicalID(ctx, ref)
	if err != nil {
		return 0, domain.Annotations{}, err
	}

	annotations, err := s.annotations.MergeAnnotations(ctx, giftID, patch, s.clock.Now())
	if err != nil {
		return giftID, domain.Annotations{}, err
	}

	logger.InfoCtx(ctx, "Annotated gift", zap.Uint64("giftID", uint64(giftID)))
	return giftID, annotations, nil
}

// canonicalID turns a reference into the giftId every write must use
func (s *service) canonicalID(ctx context.Context, ref domain.GiftRef) (domain.GiftID, error) {
	switch {
	case ref.GiftID != nil && ref.TokenID != nil:
		return 0, fmt.Errorf("%w: give either giftId or tokenId, not both", domain.ErrInvalidArgument)
	case ref.GiftID != nil:
		// A giftId that no mapping or escrow gift backs would open a second record
		if _, err := s.resolver.ResolveReverse(ctx, *ref.GiftID); err != nil {
			return 0, err
		}
		return *ref.GiftID, nil
	case ref.TokenID != nil:
		return s.resolver.Resolve(ctx, *ref.TokenID)
	}
	return 0, fmt.Errorf("%w: giftId or tokenId is required", domain.ErrInvalidArgument)
}

func validatePatch(p domain.AnnotationPatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: no annotation fields", domain.ErrInvalidArgument)
	}
	if p.EmailHMAC != nil {
		if _, err := hex.DecodeString(strings.TrimPrefix(*p.EmailHMAC, "0x")); err != nil || *p.EmailHMAC == "" {
			return fmt.Errorf("%w: emailHmac must be hex", domain.ErrInvalidArgument)
		}
	}
	if p.EmailCiphertext != nil && *p.EmailCiphertext == "" {
		return fmt.Errorf("%w: emailCiphertext is empty", domain.ErrInvalidArgument)
	}
	if p.Appointment != nil && p.Appointment.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: appointment.scheduledAt is required", domain.ErrInvalidArgument)
	}
	if p.EducationScore != nil && (*p.EducationScore < 0 || *p.EducationScore > maxEducationScore) {
		return fmt.Errorf("%w: educationScore must be between 0 and %d", domain.ErrInvalidArgument, maxEducationScore)
	}
	return nil
}

func (s *service) Get(ctx context.Context, giftID domain.GiftID) (*domain.Gift, error) {
	gift, err := s.gifts.GetGift(ctx, giftID)
	if err == nil || !errors.Is(err, domain.ErrServiceUnavailable) {
		return gift, err
	}

	annotations, aerr := s.annotations.GetAnnotations(ctx, giftID)
	if aerr != nil {
		return nil, err
	}
	return &domain.Gift{GiftID: giftID, Annotations: annotations}, nil
}

func (s *service) FindByEmailHMAC(ctx context.Context, hmac string) ([]domain.GiftID, error) {
	if _, err := hex.DecodeString(strings.TrimPrefix(hmac, "0x")); err != nil || hmac == "" {
		return nil, fmt.Errorf("%w: hmac must be hex", domain.ErrInvalidArgument)
	}
	return s.gifts.FindByEmailHMAC(ctx, hmac)
}

func (s *service) RecordView(ctx context.Context, giftID domain.GiftID, viewerID string) (bool, error) {
	if viewerID == "" {
		return false, fmt.Errorf("%w: viewerId is required", domain.ErrInvalidArgument)
	}

	gift, err := s.gifts.GetGift(ctx, giftID)
	if err != nil {
		return false, err
	}

	payload, err := adapter.CanonicalJSON(s.jcs, domain.GiftViewedPayload{ViewerID: viewerID})
	if err != nil {
		return false, err
	}

	campaignID := gift.CampaignID
	if campaignID == "" {
		campaignID = domain.DEFAULT_CAMPAIGN_ID
	}

	event := domain.CanonicalEvent{
		EventID:     domain.NewViewEventID(giftID, viewerID),
		Type:        domain.EventTypeGiftViewed,
		GiftID:      giftID,
		TokenID:     gift.TokenID,
		CampaignID:  campaignID,
		Payload:     payload,
		ProcessedAt: s.clock.Now(),
		Source:      domain.EventSourceAPI,
	}

	appended, err := s.log.Append(ctx, &event)
	if err != nil {
		return false, err
	}

	result := "duplicate"
	if appended {
		result = "appended"
	}
	metrics.EventsAppendedTotal.WithLabelValues(string(event.Type), result).Inc()
	return appended, nil
}
