package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feral-file/ff-gift-engine/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, auth *middleware.Authenticator) {
	// Probes (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Public UI endpoints
		v1.POST("/claims/verify", handler.VerifyClaim)
		v1.POST("/gifts/annotations", handler.Annotate)
		v1.GET("/gifts/:gift_id", handler.GetGift)
		v1.POST("/gifts/:gift_id/views", handler.RecordView)
		v1.GET("/campaigns/:campaign_id/stats", handler.GetCampaignStats)

		// Operator endpoints
		operator := v1.Group("", middleware.Auth(auth))
		operator.GET("/gifts", handler.FindGiftsByEmail)
		operator.POST("/campaigns/:campaign_id/rebuild", handler.RebuildCampaign)
		operator.POST("/reconcile", handler.Reconcile)
		operator.POST("/repair", handler.Repair)
		operator.POST("/repair/all", handler.RepairAll)
		operator.GET("/events", handler.ListEvents)
		operator.GET("/admin/degraded", handler.GetDegradedBuffer)
	}
}
