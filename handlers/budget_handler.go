package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
	"github.com/ScientiaCapital/sales-agent-sub004/repositories"
	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// BudgetService is the read side of the cost ledger
type BudgetService interface {
	Check(callerID string) budget.Status
	Status(period budget.Period, callerID string) budget.Status
	Totals() budget.Totals
	History(period budget.Period, periodKey, callerID string) (budget.Counter, bool)
	HistoryKeys(period budget.Period) []string
}

// HistoryResponse is the spend of one scope in one closed period
type HistoryResponse struct {
	Period    budget.Period `json:"period"`
	PeriodKey string        `json:"period_key"`
	CallerID  string        `json:"caller_id,omitempty"`
	CostUSD   float64       `json:"cost_usd"`
	Requests  int64         `json:"requests"`
	Source    string        `json:"source"`
}

// BudgetHandler serves budget status and spend history
type BudgetHandler struct {
	ledger BudgetService
	costs  repositories.CostRepository
	logger *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler. costs may be nil when no database is configured.
func NewBudgetHandler(ledger BudgetService, costs repositories.CostRepository, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		ledger: ledger,
		costs:  costs,
		logger: logger,
	}
}

func parsePeriod(r *http.Request) (budget.Period, bool) {
	p := budget.Period(r.URL.Query().Get("period"))
	if p == "" {
		return "", true
	}
	return p, p.Valid()
}

// HandleStatus handles GET /api/v1/budget
// Without a period the most constrained of the daily and monthly views is returned.
func (h *BudgetHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok {
		_ = utils.WriteBadRequest(w, "period must be daily or monthly", nil)
		return
	}
	callerID := r.URL.Query().Get("caller_id")

	var status budget.Status
	if period == "" {
		status = h.ledger.Check(callerID)
	} else {
		status = h.ledger.Status(period, callerID)
	}

	_ = utils.WriteOK(w, status)
}

// HandleTotals handles GET /api/v1/budget/totals
func (h *BudgetHandler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.ledger.Totals())
}

// HandleHistory handles GET /api/v1/budget/history
// Without a key the retained period keys are listed. Keys no longer held in
// memory are looked up in the database when one is configured.
func (h *BudgetHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok || period == "" {
		_ = utils.WriteBadRequest(w, "period must be daily or monthly", nil)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		_ = utils.WriteOK(w, map[string]interface{}{
			"period": period,
			"keys":   h.ledger.HistoryKeys(period),
		})
		return
	}

	callerID := r.URL.Query().Get("caller_id")
	resp := HistoryResponse{Period: period, PeriodKey: key, CallerID: callerID}

	if counter, found := h.ledger.History(period, key, callerID); found {
		resp.CostUSD = counter.CostUSD
		resp.Requests = counter.Requests
		resp.Source = "memory"
		_ = utils.WriteOK(w, resp)
		return
	}

	if h.costs == nil {
		_ = utils.WriteNotFound(w, "No history for period "+key)
		return
	}

	total, err := h.costs.ScopeTotal(r.Context(), models.ScopeKey(callerID), key)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	resp.CostUSD = total.TotalCost
	resp.Requests = total.Requests
	resp.Source = "database"
	_ = utils.WriteOK(w, resp)
}

// HandleGetRecord handles GET /api/v1/budget/records/{requestID}
func (h *BudgetHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	if h.costs == nil {
		_ = utils.WriteNotFound(w, "Cost records are not persisted")
		return
	}

	record, err := h.costs.GetByRequestID(r.Context(), chi.URLParam(r, "requestID"))
	if errors.Is(err, repositories.ErrNotFound) {
		_ = utils.WriteNotFound(w, "Cost record not found")
		return
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}
