package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/middleware"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// maxRequestBytes bounds the dispatch request body
const maxRequestBytes = 1 << 20

// DispatchService defines the interface for dispatch operations
type DispatchService interface {
	Dispatch(ctx context.Context, req *routing.Request) (*routing.Response, error)
}

// DispatchHandler handles completion requests
type DispatchHandler struct {
	service DispatchService
	logger  *zap.Logger
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(service DispatchService, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		service: service,
		logger:  logger,
	}
}

// HandleDispatch handles POST /api/v1/dispatch
func (h *DispatchHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req routing.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("invalid request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	// An authenticated caller is always charged to its own budget
	if caller := middleware.GetCallerIDFromContext(ctx); caller != "" {
		req.CallerID = caller
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	resp, err := h.service.Dispatch(ctx, &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write dispatch response",
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	}
}
