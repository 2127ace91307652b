package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/annotation"
	"github.com/feral-file/ff-gift-engine/internal/api/shared/constants"
	"github.com/feral-file/ff-gift-engine/internal/api/shared/dto"
	"github.com/feral-file/ff-gift-engine/internal/claim"
	"github.com/feral-file/ff-gift-engine/internal/degraded"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/materializer"
	"github.com/feral-file/ff-gift-engine/internal/reconciler"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 64 << 10

// Handler defines the interface for REST API handlers
type Handler interface {
	// VerifyClaim checks a claim password without revealing why a claim fails
	// POST /api/v1/claims/verify
	VerifyClaim(c *gin.Context)

	// Annotate merges annotation fields into a gift addressed by tokenId or giftId
	// POST /api/v1/gifts/annotations
	Annotate(c *gin.Context)

	// GetGift returns a gift record
	// GET /api/v1/gifts/:gift_id
	GetGift(c *gin.Context)

	// FindGiftsByEmail lists the gifts whose email HMAC matches (requires authentication)
	// GET /api/v1/gifts?email_hmac=<hex>
	FindGiftsByEmail(c *gin.Context)

	// RecordView logs a gift view
	// POST /api/v1/gifts/:gift_id/views
	RecordView(c *gin.Context)

	// GetCampaignStats returns campaign counters, stale during an aggregate store outage
	// GET /api/v1/campaigns/:campaign_id/stats
	GetCampaignStats(c *gin.Context)

	// RebuildCampaign replaces a campaign aggregate with a fold of the full log (requires authentication)
	// POST /api/v1/campaigns/:campaign_id/rebuild
	RebuildCampaign(c *gin.Context)

	// Reconcile runs the reconciler once (requires authentication)
	// POST /api/v1/reconcile
	Reconcile(c *gin.Context)

	// Repair copies mirror-key data for one mapping (requires authentication)
	// POST /api/v1/repair
	Repair(c *gin.Context)

	// RepairAll repairs every mapping (requires authentication)
	// POST /api/v1/repair/all
	RepairAll(c *gin.Context)

	// ListEvents pages the canonical event log (requires authentication)
	// GET /api/v1/events?after=<offset>&before=<offset>&limit=<limit>&order=<order>
	ListEvents(c *gin.Context)

	// GetDegradedBuffer lists annotation writes buffered during an outage (requires authentication)
	// GET /api/v1/admin/degraded
	GetDegradedBuffer(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// StatsReader serves campaign counters
type StatsReader interface {
	Stats(ctx context.Context, campaignID string) (domain.Counters, bool, error)
}

// BufferReader lists buffered degraded-mode writes
type BufferReader interface {
	Buffered() []degraded.BufferedRecord
}

// Deps are the services behind the handlers
type Deps struct {
	Claims       claim.Service
	Annotations  annotation.Service
	Reconciler   reconciler.Reconciler
	Materializer materializer.Materializer
	Stats        StatsReader
	Buffer       BufferReader
	Log          store.EventLog
	Clock        adapter.Clock
}

type handler struct {
	debug bool
	Deps
}

// NewHandler creates a new REST API handler
func NewHandler(debug bool, deps Deps) Handler {
	return &handler{
		debug: debug,
		Deps:  deps,
	}
}

func (h *handler) VerifyClaim(c *gin.Context) {
	var req dto.ClaimVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ClaimVerifyResponse{Valid: false})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ClaimVerifyResponse{Valid: false})
		return
	}

	valid, err := h.Claims.Verify(c.Request.Context(), req.Attempt(h.Clock.Now()))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.ClaimVerifyResponse{Valid: valid})
	case errors.Is(err, domain.ErrInvalidPassword):
		c.JSON(http.StatusOK, dto.ClaimVerifyResponse{Valid: false, Error: "invalid_password"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, dto.ClaimVerifyResponse{Valid: false})
	default:
		// Every other outcome looks the same to the caller; the service has logged the reason
		c.JSON(http.StatusOK, dto.ClaimVerifyResponse{Valid: false})
	}
}

func (h *handler) Annotate(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	req, err := dto.DecodeAnnotationRequest(body)
	if err != nil {
		respondValidationError(c, err)
		return
	}

	giftID, annotations, err := h.Annotations.Annotate(c.Request.Context(), req.Ref(), req.Patch())
	if err != nil {
		respondError(c, err, "Failed to annotate gift")
		return
	}

	c.JSON(http.StatusOK, dto.AnnotationResponse{GiftID: giftID, Annotations: annotations})
}

func (h *handler) GetGift(c *gin.Context) {
	giftID, err := domain.ParseGiftID(c.Param("gift_id"))
	if err != nil {
		respondBadRequest(c, "Invalid gift id", err.Error())
		return
	}

	gift, err := h.Annotations.Get(c.Request.Context(), giftID)
	if err != nil {
		respondError(c, err, "Failed to get gift", zap.Uint64("giftID", uint64(giftID)))
		return
	}

	c.JSON(http.StatusOK, dto.MapGiftToDTO(gift))
}

func (h *handler) FindGiftsByEmail(c *gin.Context) {
	hmac := strings.TrimSpace(c.Query("email_hmac"))
	if hmac == "" {
		respondBadRequest(c, "email_hmac is required")
		return
	}

	ids, err := h.Annotations.FindByEmailHMAC(c.Request.Context(), hmac)
	if err != nil {
		respondError(c, err, "Failed to look up gifts")
		return
	}

	c.JSON(http.StatusOK, dto.EmailLookupResponse{GiftIDs: ids})
}

func (h *handler) RecordView(c *gin.Context) {
	giftID, err := domain.ParseGiftID(c.Param("gift_id"))
	if err != nil {
		respondBadRequest(c, "Invalid gift id", err.Error())
		return
	}

	var req dto.RecordViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	recorded, err := h.Annotations.RecordView(c.Request.Context(), giftID, req.ViewerID)
	if err != nil {
		respondError(c, err, "Failed to record view", zap.Uint64("giftID", uint64(giftID)))
		return
	}

	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	c.JSON(status, dto.RecordViewResponse{Recorded: recorded})
}

func (h *handler) GetCampaignStats(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	counters, stale, err := h.Stats.Stats(c.Request.Context(), campaignID)
	if err != nil {
		respondError(c, err, "Failed to get campaign stats", zap.String("campaignID", campaignID))
		return
	}

	c.JSON(http.StatusOK, dto.CampaignStatsResponse{Counters: counters, Stale: stale})
}

func (h *handler) RebuildCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	agg, err := h.Materializer.Rebuild(c.Request.Context(), campaignID)
	if err != nil {
		respondError(c, err, "Failed to rebuild campaign", zap.String("campaignID", campaignID))
		return
	}

	c.JSON(http.StatusOK, dto.CampaignStatsResponse{Counters: agg.Counters()})
}

func (h *handler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "Invalid request body", err.Error())
			return
		}
	}

	result, err := h.Reconciler.Reconcile(c.Request.Context(), req.FromBlock)
	if err != nil {
		respondError(c, err, "Failed to reconcile")
		return
	}

	c.JSON(http.StatusOK, dto.MapReconcileResult(result))
}

func (h *handler) Repair(c *gin.Context) {
	var req dto.RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	report, err := h.Reconciler.Repair(c.Request.Context(), domain.TokenID(*req.TokenID), domain.GiftID(*req.GiftID))
	if err != nil {
		respondError(c, err, "Failed to repair gift record")
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *handler) RepairAll(c *gin.Context) {
	reports, err := h.Reconciler.RepairAll(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to repair gift records")
		return
	}
	if reports == nil {
		reports = []reconciler.RepairReport{}
	}

	c.JSON(http.StatusOK, dto.RepairAllResponse{Reports: reports})
}

func (h *handler) ListEvents(c *gin.Context) {
	params, err := ParseListEventsQuery(c)
	if err != nil {
		respondValidationError(c, err)
		return
	}

	ctx := c.Request.Context()
	events, err := h.Log.Read(ctx, params.Query())
	if err != nil {
		respondError(c, err, "Failed to read events")
		return
	}
	head, err := h.Log.Head(ctx)
	if err != nil {
		respondError(c, err, "Failed to read log head")
		return
	}

	resp := dto.EventListResponse{Events: events, Head: head}
	if params.Order == domain.OrderAsc && len(events) == params.Limit {
		next := events[len(events)-1].Offset
		resp.NextAfter = &next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) GetDegradedBuffer(c *gin.Context) {
	records := h.Buffer.Buffered()
	if records == nil {
		records = []degraded.BufferedRecord{}
	}
	c.JSON(http.StatusOK, dto.DegradedBufferResponse{Records: records})
}

func (h *handler) HealthCheck(c *gin.Context) {
	logger.DebugCtx(c.Request.Context(), "Health check")
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": constants.SERVICE_NAME,
	})
}
