package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/logging"
)

const providerRetryAfter = "5"

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// writeDomainError maps service errors onto HTTP statuses.
func writeDomainError(c *gin.Context, err error) {
	var (
		validation *domain.ValidationError
		stock      *domain.StockError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_failed", Details: gin.H{"field": validation.Field}})
	case errors.As(err, &stock):
		code := "insufficient_stock"
		if errors.Is(err, domain.ErrOutOfStock) {
			code = "out_of_stock"
		}
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: code, Details: gin.H{"shortages": stock.Shortages}})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_failed"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "version_conflict"})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrPendingSessionExists):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, domain.ErrSessionExpired):
		c.JSON(http.StatusGone, errorBody{Error: err.Error(), Code: "session_expired"})
	case errors.Is(err, domain.ErrUnrecognizedProviderStatus):
		c.JSON(http.StatusBadGateway, errorBody{Error: err.Error(), Code: "unrecognized_provider_status"})
	case errors.Is(err, domain.ErrProviderUnavailable):
		c.Header("Retry-After", providerRetryAfter)
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "provider_unavailable"})
	default:
		logging.FromContext(c.Request.Context()).Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
	}
}

func badRequest(c *gin.Context, field, reason string) {
	writeDomainError(c, domain.NewValidationError(field, reason))
}
