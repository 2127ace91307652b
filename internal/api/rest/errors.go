package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-gift-engine/internal/api/shared/errors"
	"github.com/feral-file/ff-gift-engine/internal/logger"
)

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, err error) {
	status, apiErr := apierrors.FromDomainError(err, "Validation failed")
	c.JSON(status, apiErr)
}

// respondError maps a service error to its status. Server-side failures are logged.
func respondError(c *gin.Context, err error, message string, fields ...zap.Field) {
	status, apiErr := apierrors.FromDomainError(err, message)
	if status >= http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), err, fields...)
	} else {
		logger.DebugCtx(c.Request.Context(), message, append(fields, zap.Error(err))...)
	}
	c.JSON(status, apiErr)
}
