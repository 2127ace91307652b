package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/metrics"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// RepairReport describes what a repair found and changed
type RepairReport struct {
	ReportID string         `json:"report_id"`
	TokenID  domain.TokenID `json:"token_id"`
	GiftID   domain.GiftID  `json:"gift_id"`
	// Copied lists fields copied from the mirror key onto the canonical key
	Copied []string `json:"copied"`
	// Divergences lists fields present on both keys with different values
	Divergences []domain.ConsistencyError `json:"divergences,omitempty"`
	// Refused is set when the mirror key belongs to another gift and nothing was copied
	Refused bool `json:"refused"`
}

func (r *reconciler) Repair(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) (*RepairReport, error) {
	report := &RepairReport{
		ReportID: ulid.Make().String(),
		TokenID:  tokenID,
		GiftID:   giftID,
		Copied:   []string{},
	}

	if err := r.validatePair(ctx, tokenID, giftID); err != nil {
		return nil, err
	}

	// Same number, same key: there is no mirror
	if uint64(tokenID) == uint64(giftID) {
		return report, nil
	}

	mirror, err := r.Gifts.RawFields(ctx, uint64(tokenID))
	if err != nil {
		return nil, err
	}
	if len(mirror) == 0 {
		return report, nil
	}

	if reason, ambiguous, err := r.foreignMirror(ctx, tokenID, giftID, mirror); err != nil {
		return nil, err
	} else if ambiguous {
		cerr := domain.ConsistencyError{
			Kind:    domain.ConsistencyAmbiguousMirror,
			TokenID: tokenID,
			GiftID:  giftID,
			Detail:  reason,
		}
		metrics.ConsistencyErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		logger.ErrorCtx(ctx, &cerr)
		report.Refused = true
		report.Divergences = append(report.Divergences, cerr)
		return report, nil
	}

	canonical, err := r.Gifts.RawFields(ctx, uint64(giftID))
	if err != nil {
		return nil, err
	}

	missing := make(map[string]string)
	for _, field := range sortedKeys(mirror) {
		if isIdentityField(field) {
			continue
		}
		value := mirror[field]
		existing, ok := canonical[field]
		if !ok {
			missing[field] = value
			continue
		}
		if existing != value {
			cerr := domain.ConsistencyError{
				Kind:    domain.ConsistencyFieldDivergence,
				TokenID: tokenID,
				GiftID:  giftID,
				Field:   field,
				Detail:  fmt.Sprintf("canonical %q, mirror %q", existing, value),
			}
			metrics.ConsistencyErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
			logger.WarnCtx(ctx, cerr.Error())
			report.Divergences = append(report.Divergences, cerr)
		}
	}

	written, err := r.Gifts.SetMissingFields(ctx, giftID, missing)
	if err != nil {
		return nil, err
	}
	if written != nil {
		sort.Strings(written)
		report.Copied = written
	}

	logger.InfoCtx(ctx, "Repaired gift record",
		zap.String("reportID", report.ReportID),
		zap.Uint64("tokenID", uint64(tokenID)),
		zap.Uint64("giftID", uint64(giftID)),
		zap.Strings("copied", report.Copied),
		zap.Int("divergences", len(report.Divergences)))
	return report, nil
}

// validatePair checks the pair against the mapping, or against the contract when unmapped
func (r *reconciler) validatePair(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) error {
	mapped, err := r.Mappings.GiftIDForToken(ctx, tokenID)
	if err == nil {
		if mapped != giftID {
			return &domain.ConsistencyError{
				Kind:    domain.ConsistencyMappingCollision,
				TokenID: tokenID,
				GiftID:  giftID,
				Detail:  fmt.Sprintf("token is mapped to gift %d", mapped),
			}
		}
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	onChain, err := r.Contract.GetGift(ctx, giftID)
	if err != nil {
		return err
	}
	if onChain.TokenID != tokenID || onChain.NFTContract != r.Contract.NFTAddress() {
		cerr := &domain.ConsistencyError{
			Kind:    domain.ConsistencyOnChainMismatch,
			TokenID: tokenID,
			GiftID:  giftID,
			Detail:  fmt.Sprintf("gift holds token %d of %s", onChain.TokenID, onChain.NFTContract.Hex()),
		}
		metrics.ConsistencyErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		return cerr
	}

	return r.Resolver.Bind(ctx, tokenID, giftID)
}

// foreignMirror reports whether gift:<tokenId> is the canonical record of some other gift
func (r *reconciler) foreignMirror(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID, mirror map[string]string) (string, bool, error) {
	if v, ok := mirror[store.FieldGiftID]; ok && v != giftID.String() {
		return fmt.Sprintf("mirror key is the record of gift %s", v), true, nil
	}
	if v, ok := mirror[store.FieldTokenID]; ok && v != tokenID.String() {
		return fmt.Sprintf("mirror key holds token %s", v), true, nil
	}

	// A gift numbered like the token owns that key even if its record carries no id yet
	other, err := r.Mappings.TokenIDForGift(ctx, domain.GiftID(tokenID))
	if err == nil {
		return fmt.Sprintf("gift %d exists and is mapped to token %d", tokenID, other), true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}
	return "", false, nil
}

func (r *reconciler) RepairAll(ctx context.Context) ([]RepairReport, error) {
	type pair struct {
		tokenID domain.TokenID
		giftID  domain.GiftID
	}

	var pairs []pair
	err := r.Mappings.ListMappings(ctx, func(tokenID domain.TokenID, giftID domain.GiftID) error {
		pairs = append(pairs, pair{tokenID: tokenID, giftID: giftID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].tokenID < pairs[j].tokenID })

	reports := make([]RepairReport, 0, len(pairs))
	for _, p := range pairs {
		report, err := r.Repair(ctx, p.tokenID, p.giftID)
		if err != nil {
			if errors.Is(err, domain.ErrConsistency) {
				logger.ErrorCtx(ctx, err)
				continue
			}
			return reports, err
		}
		if len(report.Copied) > 0 || len(report.Divergences) > 0 {
			reports = append(reports, *report)
		}
	}

	logger.InfoCtx(ctx, "Repair pass finished",
		zap.Int("mappings", len(pairs)),
		zap.Int("reports", len(reports)))
	return reports, nil
}

func isIdentityField(field string) bool {
	for _, f := range store.IdentityFields {
		if f == field {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
