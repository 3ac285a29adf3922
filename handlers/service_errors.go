package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// statusByType maps domain error types to HTTP status codes
var statusByType = map[services.ErrorType]int{
	services.ErrorTypeValidation:    http.StatusBadRequest,
	services.ErrorTypeUnauthorized:  http.StatusUnauthorized,
	services.ErrorTypeForbidden:     http.StatusForbidden,
	services.ErrorTypeNotFound:      http.StatusNotFound,
	services.ErrorTypeBudget:        http.StatusTooManyRequests,
	services.ErrorTypeUnprocessable: http.StatusUnprocessableEntity,
	services.ErrorTypeExternal:      http.StatusBadGateway,
	services.ErrorTypeUnavailable:   http.StatusServiceUnavailable,
	services.ErrorTypeTimeout:       http.StatusGatewayTimeout,
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	err = services.Classify(err)
	errType := services.GetErrorType(err)
	details := services.GetErrorDetails(err)

	status, ok := statusByType[errType]
	if !ok {
		// Log internal errors but return generic message
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(errType)))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	if errType == services.ErrorTypeBudget {
		// Budget refusals clear at the next period boundary
		w.Header().Set("Retry-After", "3600")
	}

	if err := utils.WriteError(w, status, err.Error(), details); err != nil {
		logger.Error("failed to write error response",
			zap.Int("status", status),
			zap.Error(err))
	}

	logger.Debug("handled service error",
		zap.String("type", string(errType)),
		zap.Int("status", status),
		zap.Any("details", details))
}
