package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/api/middleware"
	"github.com/feral-file/ff-gift-engine/internal/api/rest"
	"github.com/feral-file/ff-gift-engine/internal/api/shared/dto"
	"github.com/feral-file/ff-gift-engine/internal/degraded"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/mocks"
	"github.com/feral-file/ff-gift-engine/internal/reconciler"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

const testAPIKey = "operator-key"

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)

	code := m.Run()
	os.Exit(code)
}

type testHandlerMocks struct {
	claims       *mocks.MockClaimService
	annotations  *mocks.MockAnnotationService
	reconciler   *mocks.MockReconciler
	materializer *mocks.MockMaterializer
	log          store.EventLog
	router       *gin.Engine
}

func setupTestHandler(t *testing.T) *testHandlerMocks {
	t.Helper()
	ctrl := gomock.NewController(t)

	mr := miniredis.RunT(t)
	client := adapter.WrapRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	keys := store.NewKeys("")

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(now).AnyTimes()

	tm := &testHandlerMocks{
		claims:       mocks.NewMockClaimService(ctrl),
		annotations:  mocks.NewMockAnnotationService(ctrl),
		reconciler:   mocks.NewMockReconciler(ctrl),
		materializer: mocks.NewMockMaterializer(ctrl),
		log:          store.NewRedisEventLog(client, keys),
	}

	h := rest.NewHandler(false, rest.Deps{
		Claims:       tm.claims,
		Annotations:  tm.annotations,
		Reconciler:   tm.reconciler,
		Materializer: tm.materializer,
		Stats:        degraded.NewStatsCache(tm.materializer),
		Buffer:       degraded.New(store.NewRedisGiftStore(client, keys), keys),
		Log:          tm.log,
		Clock:        clock,
	})

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{APIKeys: []string{testAPIKey}})
	require.NoError(t, err)

	tm.router = gin.New()
	rest.SetupRoutes(tm.router, h, auth)
	return tm
}

func (tm *testHandlerMocks) do(method, path, body string, operator bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if operator {
		req.Header.Set(middleware.API_KEY_HEADER, testAPIKey)
	}
	w := httptest.NewRecorder()
	tm.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestVerifyClaim(t *testing.T) {
	tests := []struct {
		name       string
		valid      bool
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "valid", valid: true, wantStatus: http.StatusOK, wantBody: `{"valid":true}`},
		{name: "wrong password", err: domain.ErrInvalidPassword, wantStatus: http.StatusOK, wantBody: `{"valid":false,"error":"invalid_password"}`},
		{name: "unknown token", err: domain.ErrNotFound, wantStatus: http.StatusOK, wantBody: `{"valid":false}`},
		{name: "store outage", err: domain.Unavailable(errors.New("redis down")), wantStatus: http.StatusOK, wantBody: `{"valid":false}`},
		{name: "mapping conflict", err: &domain.ConsistencyError{Kind: domain.ConsistencyOnChainMismatch}, wantStatus: http.StatusOK, wantBody: `{"valid":false}`},
		{name: "already claimed", err: domain.ErrGiftNotClaimable, wantStatus: http.StatusOK, wantBody: `{"valid":false}`},
		{name: "throttled", err: domain.ErrRateLimited, wantStatus: http.StatusTooManyRequests, wantBody: `{"valid":false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestHandler(t)

			tm.claims.EXPECT().Verify(gomock.Any(), domain.ClaimAttempt{
				TokenID:   186,
				Password:  "hunter2",
				Salt:      "pepper",
				DeviceID:  "device-1",
				Timestamp: now,
			}).Return(tt.valid, tt.err)

			w := tm.do(http.MethodPost, "/api/v1/claims/verify",
				`{"tokenId":"186","password":"hunter2","salt":"pepper","deviceId":"device-1"}`, false)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestVerifyClaim_MalformedRequest(t *testing.T) {
	tm := setupTestHandler(t)

	for _, body := range []string{`{`, `{"tokenId":186}`, `{"tokenId":-1,"password":"x","deviceId":"d"}`} {
		w := tm.do(http.MethodPost, "/api/v1/claims/verify", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"valid":false}`, w.Body.String())
	}
}

func TestAnnotate(t *testing.T) {
	tm := setupTestHandler(t)
	score := 88

	tm.annotations.EXPECT().Annotate(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ref domain.GiftRef, patch domain.AnnotationPatch) (domain.GiftID, domain.Annotations, error) {
			require.NotNil(t, ref.TokenID)
			assert.Nil(t, ref.GiftID)
			assert.Equal(t, domain.TokenID(186), *ref.TokenID)
			require.NotNil(t, patch.Appointment)
			assert.Equal(t, "Europe/Berlin", patch.Appointment.Timezone)
			assert.Equal(t, 88, *patch.EducationScore)
			return 209, domain.Annotations{EducationScore: &score}, nil
		})

	w := tm.do(http.MethodPost, "/api/v1/gifts/annotations",
		`{"tokenId":186,"educationScore":88,"appointment":{"scheduledAt":"2026-07-01T15:00:00Z","timezone":"Europe/Berlin"}}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[dto.AnnotationResponse](t, w)
	assert.Equal(t, domain.GiftID(209), resp.GiftID)
	assert.Equal(t, 88, *resp.Annotations.EducationScore)
}

func TestAnnotate_RejectsUnknownFields(t *testing.T) {
	tm := setupTestHandler(t)

	w := tm.do(http.MethodPost, "/api/v1/gifts/annotations", `{"giftId":209,"email":"a@b.c"}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad_request")
}

func TestAnnotate_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid", err: domain.ErrInvalidArgument, wantStatus: http.StatusUnprocessableEntity},
		{name: "unresolved token", err: domain.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "conflict", err: &domain.ConsistencyError{Kind: domain.ConsistencyMappingCollision}, wantStatus: http.StatusConflict},
		{name: "unavailable", err: domain.Unavailable(errors.New("timeout")), wantStatus: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestHandler(t)
			tm.annotations.EXPECT().Annotate(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.GiftID(0), domain.Annotations{}, tt.err)

			w := tm.do(http.MethodPost, "/api/v1/gifts/annotations", `{"giftId":209,"emailHmac":"abcd"}`, false)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestGetGift(t *testing.T) {
	tm := setupTestHandler(t)

	tm.annotations.EXPECT().Get(gomock.Any(), domain.GiftID(209)).Return(&domain.Gift{
		GiftID:     209,
		TokenID:    186,
		Status:     domain.GiftStatusClaimed,
		CampaignID: "spring",
	}, nil)
	tm.annotations.EXPECT().Get(gomock.Any(), domain.GiftID(5)).Return(nil, domain.ErrNotFound)

	w := tm.do(http.MethodGet, "/api/v1/gifts/209", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.GiftResponse](t, w)
	assert.Equal(t, domain.TokenID(186), resp.TokenID)
	assert.Equal(t, domain.GiftStatusClaimed, resp.Status)

	w = tm.do(http.MethodGet, "/api/v1/gifts/5", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = tm.do(http.MethodGet, "/api/v1/gifts/abc", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordView(t *testing.T) {
	tm := setupTestHandler(t)

	gomock.InOrder(
		tm.annotations.EXPECT().RecordView(gomock.Any(), domain.GiftID(209), "viewer-1").Return(true, nil),
		tm.annotations.EXPECT().RecordView(gomock.Any(), domain.GiftID(209), "viewer-1").Return(false, nil),
	)

	w := tm.do(http.MethodPost, "/api/v1/gifts/209/views", `{"viewerId":"viewer-1"}`, false)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = tm.do(http.MethodPost, "/api/v1/gifts/209/views", `{"viewerId":"viewer-1"}`, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"recorded":false}`, w.Body.String())

	w = tm.do(http.MethodPost, "/api/v1/gifts/209/views", `{}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetCampaignStats_ServesStaleDuringOutage(t *testing.T) {
	tm := setupTestHandler(t)

	gomock.InOrder(
		tm.materializer.EXPECT().Aggregate(gomock.Any(), "spring").Return(&domain.CampaignAggregate{
			CampaignID: "spring",
			TotalGifts: 3,
			Claimed:    1,
			TotalValue: decimal.NewFromInt(30),
		}, nil),
		tm.materializer.EXPECT().Aggregate(gomock.Any(), "spring").Return(nil, domain.Unavailable(errors.New("redis down"))),
	)

	w := tm.do(http.MethodGet, "/api/v1/campaigns/spring/stats", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode[dto.CampaignStatsResponse](t, w)
	assert.False(t, fresh.Stale)
	assert.Equal(t, int64(3), fresh.TotalGifts)

	w = tm.do(http.MethodGet, "/api/v1/campaigns/spring/stats", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	stale := decode[dto.CampaignStatsResponse](t, w)
	assert.True(t, stale.Stale)
	assert.Equal(t, int64(1), stale.Claimed)
}

func TestOperatorEndpoints_RequireAuth(t *testing.T) {
	tm := setupTestHandler(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/reconcile"},
		{http.MethodPost, "/api/v1/repair"},
		{http.MethodPost, "/api/v1/repair/all"},
		{http.MethodGet, "/api/v1/events"},
		{http.MethodGet, "/api/v1/admin/degraded"},
		{http.MethodGet, "/api/v1/gifts?email_hmac=ab"},
		{http.MethodPost, "/api/v1/campaigns/spring/rebuild"},
	} {
		w := tm.do(route.method, route.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
	}
}

func TestReconcile(t *testing.T) {
	tm := setupTestHandler(t)

	from := uint64(100)
	tm.reconciler.EXPECT().Reconcile(gomock.Any(), &from).Return(&reconciler.Result{
		RunID:           "01J",
		EventsProcessed: 4,
		FromBlock:       100,
		ToBlock:         195,
	}, nil)
	tm.reconciler.EXPECT().Reconcile(gomock.Any(), (*uint64)(nil)).Return(nil, domain.Unavailable(errors.New("rpc down")))

	w := tm.do(http.MethodPost, "/api/v1/reconcile", `{"fromBlock":100}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.ReconcileResponse](t, w)
	assert.Equal(t, 4, resp.EventsProcessed)
	assert.Equal(t, uint64(195), resp.ToBlock)

	w = tm.do(http.MethodPost, "/api/v1/reconcile", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRepair(t *testing.T) {
	tm := setupTestHandler(t)

	tm.reconciler.EXPECT().Repair(gomock.Any(), domain.TokenID(186), domain.GiftID(209)).Return(&reconciler.RepairReport{
		ReportID: "01K",
		TokenID:  186,
		GiftID:   209,
		Copied:   []string{"appointment"},
	}, nil)
	tm.reconciler.EXPECT().Repair(gomock.Any(), domain.TokenID(186), domain.GiftID(300)).Return(nil,
		&domain.ConsistencyError{Kind: domain.ConsistencyMappingCollision, TokenID: 186, GiftID: 300})

	w := tm.do(http.MethodPost, "/api/v1/repair", `{"tokenId":186,"giftId":209}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[reconciler.RepairReport](t, w)
	assert.Equal(t, []string{"appointment"}, report.Copied)

	w = tm.do(http.MethodPost, "/api/v1/repair", `{"tokenId":186,"giftId":300}`, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = tm.do(http.MethodPost, "/api/v1/repair", `{"tokenId":186}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRepairAll(t *testing.T) {
	tm := setupTestHandler(t)

	tm.reconciler.EXPECT().RepairAll(gomock.Any()).Return(nil, nil)

	w := tm.do(http.MethodPost, "/api/v1/repair/all", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reports":[]}`, w.Body.String())
}

func TestListEvents(t *testing.T) {
	tm := setupTestHandler(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := tm.log.Append(ctx, &domain.CanonicalEvent{
			EventID:    domain.NewViewEventID(209, string(rune('a'+i))),
			Type:       domain.EventTypeGiftViewed,
			GiftID:     209,
			CampaignID: "spring",
			Payload:    json.RawMessage(`{}`),
			Source:     domain.EventSourceAPI,
		})
		require.NoError(t, err)
	}

	w := tm.do(http.MethodGet, "/api/v1/events?limit=2", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.EventListResponse](t, w)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint64(3), page.Head)
	require.NotNil(t, page.NextAfter)
	assert.Equal(t, uint64(2), *page.NextAfter)

	w = tm.do(http.MethodGet, "/api/v1/events?after=2", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[dto.EventListResponse](t, w)
	require.Len(t, page.Events, 1)
	assert.Nil(t, page.NextAfter)

	w = tm.do(http.MethodGet, "/api/v1/events?order=sideways", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetDegradedBuffer(t *testing.T) {
	tm := setupTestHandler(t)

	w := tm.do(http.MethodGet, "/api/v1/admin/degraded", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records":[]}`, w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	tm := setupTestHandler(t)

	w := tm.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
