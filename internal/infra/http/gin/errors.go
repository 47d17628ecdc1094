package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	domainmessaging "exodrive/internal/domain/messaging"
)

const (
	kindValidation       = "validation_error"
	kindInvalidOperation = "invalid_operation"
	kindNotFound         = "not_found"
	kindUnauthorized     = "unauthorized"
	kindRateLimited      = "rate_limited"
	kindTransient        = "transient_infra"
)

func respondMessagingError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	var fieldErr *domainmessaging.FieldError
	switch {
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": fieldErr.Error(), "kind": kindValidation, "field": fieldErr.Field})
	case errors.Is(err, domainmessaging.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": kindValidation})
	case errors.Is(err, domainmessaging.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": kindInvalidOperation})
	case errors.Is(err, domainmessaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": kindNotFound})
	case errors.Is(err, domainmessaging.ErrUnavailable):
		logError(logger, err, action, attrs...)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable", "kind": kindTransient})
	default:
		logError(logger, err, action, attrs...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": kindTransient})
	}
}

func logError(logger *slog.Logger, err error, action string, attrs ...any) {
	if logger != nil {
		logger.Error("messaging call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
}
