package models

import (
	"time"

	"github.com/google/uuid"
)

// CostRecord is one successful dispatch as handed to the persistence sink
type CostRecord struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RequestID    string    `json:"request_id" db:"request_id"`
	CallerID     string    `json:"caller_id,omitempty" db:"caller_id"`
	TaskType     string    `json:"task_type" db:"task_type"`
	Provider     string    `json:"provider" db:"provider"`
	Model        string    `json:"model" db:"model"`
	InputTokens  int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens int       `json:"output_tokens" db:"output_tokens"`
	CostUSD      float64   `json:"cost_usd" db:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	FallbackUsed bool      `json:"fallback_used" db:"fallback_used"`
	DailyKey     string    `json:"daily_key" db:"daily_key"`
	MonthlyKey   string    `json:"monthly_key" db:"monthly_key"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the CostRecord model
func (CostRecord) TableName() string {
	return "cost_records"
}

// NewCostRecord creates a new CostRecord with a fresh ID
func NewCostRecord(provider, model string, inputTokens, outputTokens int, costUSD float64) *CostRecord {
	return &CostRecord{
		ID:           uuid.New(),
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      costUSD,
		Timestamp:    time.Now().UTC(),
	}
}

// TotalTokens returns input plus output tokens
func (r *CostRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// GlobalScope is the scope key of process-wide totals
const GlobalScope = "global"

// ScopeKey returns the totals scope of a caller; the empty caller is the global scope
func ScopeKey(callerID string) string {
	if callerID == "" {
		return GlobalScope
	}
	return "caller:" + callerID
}

// PeriodTotal is an aggregated spend row for one scope and period key
type PeriodTotal struct {
	ScopeKey  string    `json:"scope_key" db:"scope_key"`
	PeriodKey string    `json:"period_key" db:"period_key"`
	TotalCost float64   `json:"total_cost" db:"total_cost"`
	Requests  int64     `json:"requests" db:"requests"`
	Currency  string    `json:"currency" db:"currency"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
