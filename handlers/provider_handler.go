package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// ProviderService exposes provider configuration and breaker administration
type ProviderService interface {
	Strategy() routing.Strategy
	Providers() []providers.ProviderConfig
	Breakers() []circuitbreaker.Snapshot
	Breaker(name string) (circuitbreaker.Snapshot, error)
	ResetBreaker(name string) error
}

// ProviderView is the public description of a provider. Credentials are never exposed.
type ProviderView struct {
	Name               string                  `json:"name"`
	Kind               providers.Kind          `json:"kind"`
	Model              string                  `json:"model"`
	InputCostPerToken  float64                 `json:"input_cost_per_token"`
	OutputCostPerToken float64                 `json:"output_cost_per_token"`
	TypicalLatencyMs   int64                   `json:"typical_latency_ms"`
	TimeoutMs          int64                   `json:"timeout_ms"`
	Breaker            circuitbreaker.Snapshot `json:"breaker"`
}

// ProvidersResponse lists every provider with the default strategy
type ProvidersResponse struct {
	Strategy  routing.Strategy `json:"strategy"`
	Providers []ProviderView   `json:"providers"`
}

// ProviderHandler handles provider listing and breaker administration
type ProviderHandler struct {
	service ProviderService
	logger  *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(service ProviderService, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /api/v1/providers
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshots := make(map[string]circuitbreaker.Snapshot)
	for _, s := range h.service.Breakers() {
		snapshots[s.Name] = s
	}

	configs := h.service.Providers()
	views := make([]ProviderView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, ProviderView{
			Name:               cfg.Name,
			Kind:               cfg.Kind,
			Model:              cfg.Model,
			InputCostPerToken:  cfg.InputCostPerToken,
			OutputCostPerToken: cfg.OutputCostPerToken,
			TypicalLatencyMs:   cfg.TypicalLatency.Milliseconds(),
			TimeoutMs:          cfg.Timeout.Milliseconds(),
			Breaker:            snapshots[cfg.Name],
		})
	}

	_ = utils.WriteOK(w, ProvidersResponse{
		Strategy:  h.service.Strategy(),
		Providers: views,
	})
}

// HandleGetBreaker handles GET /api/v1/providers/{name}/breaker
func (h *ProviderHandler) HandleGetBreaker(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Breaker(chi.URLParam(r, "name"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, snap)
}

// HandleResetBreaker handles POST /api/v1/admin/providers/{name}/reset
func (h *ProviderHandler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.ResetBreaker(name); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	snap, err := h.service.Breaker(name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, snap)
}
