package reconciler_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/reconciler"
)

const appointmentJSON = `{"scheduled_at":"2026-07-01T15:00:00Z","timezone":"Europe/Berlin","location":"Gallery"}`

func seedGift(t *testing.T, tr *testReconciler, giftID domain.GiftID, tokenID domain.TokenID) {
	t.Helper()
	require.NoError(t, tr.gifts.UpsertCreated(context.Background(), domain.Gift{
		GiftID:      giftID,
		TokenID:     tokenID,
		Creator:     creator.Hex(),
		NFTContract: nftAddress.Hex(),
		Status:      domain.GiftStatusActive,
		Value:       "1000",
		CampaignID:  "spring",
	}))
}

func TestRepair_CopiesMirrorFields(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	seedGift(t, tr, 209, 186)
	_, err := tr.mappings.Bind(ctx, 186, 209)
	require.NoError(t, err)

	// A client wrote the appointment under the token number
	require.NoError(t, tr.rdb.HSet(ctx, "gift:186",
		"appointment", appointmentJSON,
		"appointment_captured_at", "2026-06-01T10:00:00Z").Err())

	report, err := tr.reconciler.Repair(ctx, 186, 209)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ReportID)
	assert.False(t, report.Refused)
	assert.Equal(t, []string{"appointment", "appointment_captured_at"}, report.Copied)
	assert.Empty(t, report.Divergences)

	gift, err := tr.gifts.GetGift(ctx, 209)
	require.NoError(t, err)
	require.NotNil(t, gift.Annotations.Appointment)
	assert.Equal(t, "Gallery", gift.Annotations.Appointment.Location)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), gift.Annotations.AppointmentCapturedAt.UTC())

	// Mirror is left in place
	mirror, err := tr.gifts.RawFields(ctx, 186)
	require.NoError(t, err)
	assert.Contains(t, mirror, "appointment")

	// Second run has nothing to copy
	report, err = tr.reconciler.Repair(ctx, 186, 209)
	require.NoError(t, err)
	assert.Empty(t, report.Copied)
	assert.Empty(t, report.Divergences)
}

func TestRepair_ReportsDivergence(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	seedGift(t, tr, 209, 186)
	_, err := tr.mappings.Bind(ctx, 186, 209)
	require.NoError(t, err)

	require.NoError(t, tr.rdb.HSet(ctx, "gift:209", "email_hmac", "aaaa").Err())
	require.NoError(t, tr.rdb.HSet(ctx, "gift:186",
		"email_hmac", "bbbb",
		"education_score", "80").Err())

	report, err := tr.reconciler.Repair(ctx, 186, 209)
	require.NoError(t, err)
	assert.Equal(t, []string{"education_score"}, report.Copied)
	require.Len(t, report.Divergences, 1)
	assert.Equal(t, domain.ConsistencyFieldDivergence, report.Divergences[0].Kind)
	assert.Equal(t, "email_hmac", report.Divergences[0].Field)

	canonical, err := tr.gifts.RawFields(ctx, 209)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", canonical["email_hmac"], "canonical value wins")
}

func TestRepair_RefusesForeignMirror(t *testing.T) {
	tests := []struct {
		name   string
		mirror []interface{}
		setup  func(t *testing.T, tr *testReconciler)
	}{
		{
			name:   "mirror records another gift",
			mirror: []interface{}{"gift_id", "186", "education_score", "50"},
		},
		{
			name:   "mirror holds another token",
			mirror: []interface{}{"token_id", "77", "education_score", "50"},
		},
		{
			name:   "gift numbered like the token is mapped",
			mirror: []interface{}{"education_score", "50"},
			setup: func(t *testing.T, tr *testReconciler) {
				_, err := tr.mappings.Bind(context.Background(), 77, 186)
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
			ctx := context.Background()

			seedGift(t, tr, 209, 186)
			_, err := tr.mappings.Bind(ctx, 186, 209)
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, tr)
			}
			require.NoError(t, tr.rdb.HSet(ctx, "gift:186", tt.mirror...).Err())

			report, err := tr.reconciler.Repair(ctx, 186, 209)
			require.NoError(t, err)
			assert.True(t, report.Refused)
			assert.Empty(t, report.Copied)
			require.Len(t, report.Divergences, 1)
			assert.Equal(t, domain.ConsistencyAmbiguousMirror, report.Divergences[0].Kind)

			canonical, err := tr.gifts.RawFields(ctx, 209)
			require.NoError(t, err)
			assert.NotContains(t, canonical, "education_score")
		})
	}
}

func TestRepair_MappingCollision(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	_, err := tr.mappings.Bind(ctx, 186, 300)
	require.NoError(t, err)

	_, err = tr.reconciler.Repair(ctx, 186, 209)
	assert.ErrorIs(t, err, domain.ErrConsistency)
}

func TestRepair_UnmappedPairIsCheckedOnChain(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	tr.client.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Any()).Return(getGiftResponse(t, creator, 186), nil)

	require.NoError(t, tr.rdb.HSet(ctx, "gift:186", "education_score", "64").Err())

	report, err := tr.reconciler.Repair(ctx, 186, 209)
	require.NoError(t, err)
	assert.Equal(t, []string{"education_score"}, report.Copied)

	giftID, err := tr.mappings.GiftIDForToken(ctx, 186)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftID(209), giftID)
}

func TestRepair_OnChainMismatch(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	tr.client.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Any()).Return(getGiftResponse(t, creator, 55), nil)

	_, err := tr.reconciler.Repair(ctx, 186, 209)
	require.ErrorIs(t, err, domain.ErrConsistency)

	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.ConsistencyOnChainMismatch, cerr.Kind)

	_, err = tr.mappings.GiftIDForToken(ctx, 186)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepair_SameNumberHasNoMirror(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	seedGift(t, tr, 7, 7)
	_, err := tr.mappings.Bind(ctx, 7, 7)
	require.NoError(t, err)

	report, err := tr.reconciler.Repair(ctx, 7, 7)
	require.NoError(t, err)
	assert.Empty(t, report.Copied)
	assert.False(t, report.Refused)
}

func TestRepairAll(t *testing.T) {
	tr := setupTestReconciler(t, reconciler.Config{BlockBatchSize: 10})
	ctx := context.Background()

	seedGift(t, tr, 209, 186)
	seedGift(t, tr, 210, 187)
	seedGift(t, tr, 211, 188)
	for token, gift := range map[domain.TokenID]domain.GiftID{186: 209, 187: 210, 188: 211} {
		_, err := tr.mappings.Bind(ctx, token, gift)
		require.NoError(t, err)
	}

	require.NoError(t, tr.rdb.HSet(ctx, "gift:188", "education_score", "91").Err())
	require.NoError(t, tr.rdb.HSet(ctx, "gift:186", "education_score", "12").Err())

	reports, err := tr.reconciler.RepairAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, domain.TokenID(186), reports[0].TokenID)
	assert.Equal(t, domain.TokenID(188), reports[1].TokenID)

	gift, err := tr.gifts.GetGift(ctx, 211)
	require.NoError(t, err)
	require.NotNil(t, gift.Annotations.EducationScore)
	assert.Equal(t, 91, *gift.Annotations.EducationScore)

	// Nothing left to do
	reports, err = tr.reconciler.RepairAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
