package routing

import (
	"fmt"
	"strings"
)

// Strategy defines how candidates are ordered
type Strategy string

const (
	// StrategyCostOptimized orders providers by ascending per-token cost
	StrategyCostOptimized Strategy = "cost_optimized"

	// StrategyLatencyOptimized orders providers by the static latency score table
	StrategyLatencyOptimized Strategy = "latency_optimized"

	// StrategyQualityOptimized orders providers by the static quality score table
	StrategyQualityOptimized Strategy = "quality_optimized"

	// StrategyBalanced picks the primary by weighted random selection per request
	StrategyBalanced Strategy = "balanced"
)

// ValidStrategies contains all valid strategy values
var ValidStrategies = []Strategy{
	StrategyCostOptimized,
	StrategyLatencyOptimized,
	StrategyQualityOptimized,
	StrategyBalanced,
}

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	for _, valid := range ValidStrategies {
		if s == valid {
			return true
		}
	}
	return false
}

// ParseStrategy converts a string to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown routing strategy %q (valid: %v)", s, ValidStrategies)
	}
	return strategy, nil
}

// TaskType labels the kind of work a request performs
type TaskType string

const (
	TaskQualification TaskType = "qualification"
	TaskResearch      TaskType = "research"
	TaskEnrichment    TaskType = "enrichment"
	TaskOutreach      TaskType = "outreach"
	TaskConversation  TaskType = "conversation"
	TaskSynthesis     TaskType = "synthesis"
	TaskAnalysis      TaskType = "analysis"
	TaskOther         TaskType = "other"
)

// Constraints are hard limits a candidate must satisfy
type Constraints struct {
	// MaxLatencyMs excludes providers with a slower declared latency and bounds the whole cascade
	MaxLatencyMs int64 `json:"max_latency_ms,omitempty" validate:"gte=0"`

	// MaxCostUSD excludes providers whose estimated cost exceeds it
	MaxCostUSD float64 `json:"max_cost_usd,omitempty" validate:"gte=0"`
}

// Request is a single dispatch request
type Request struct {
	RequestID    string       `json:"request_id,omitempty"`
	TaskType     TaskType     `json:"task_type" validate:"omitempty,oneof=qualification research enrichment outreach conversation synthesis analysis other"`
	Prompt       string       `json:"prompt" validate:"required"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	Temperature  float64      `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int          `json:"max_tokens" validate:"gte=0"`
	Constraints  *Constraints `json:"constraints,omitempty"`
	CallerID     string       `json:"caller_id,omitempty" validate:"max=128"`
	Strategy     Strategy     `json:"strategy,omitempty" validate:"omitempty,oneof=cost_optimized latency_optimized quality_optimized balanced"`
}

// Response is the normalized result of a dispatch
type Response struct {
	RequestID    string   `json:"request_id"`
	Text         string   `json:"text"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Strategy     Strategy `json:"strategy"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      float64  `json:"cost_usd"`
	LatencyMs    int64    `json:"latency_ms"`
	FallbackUsed bool     `json:"fallback_used"`
	CacheHit     bool     `json:"cache_hit"`
	Attempted    []string `json:"attempted,omitempty"`
}
