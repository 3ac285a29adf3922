package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

// Period represents the time period for budget tracking
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Valid reports whether p is a known period
func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// Action is the recommendation derived from budget utilization
type Action string

const (
	ActionContinue  Action = "continue"
	ActionDowngrade Action = "downgrade"
	ActionBlock     Action = "block"
)

const (
	// DowngradeThreshold is the utilization percent at which cheaper routing is recommended
	DowngradeThreshold = 80.0
	// BlockThreshold is the utilization percent at which requests are refused
	BlockThreshold = 100.0
)

const (
	defaultDailyRetention   = 92
	defaultMonthlyRetention = 24
)

// ErrInvalidCost is returned for negative or non-finite costs
var ErrInvalidCost = errors.New("cost must be a finite, non-negative amount")

// Limits are the configured budgets in USD. Zero means unlimited.
type Limits struct {
	DailyUSD         float64
	MonthlyUSD       float64
	CallerDailyUSD   float64
	CallerMonthlyUSD float64
}

func (l Limits) global(period Period) float64 {
	if period == PeriodMonthly {
		return l.MonthlyUSD
	}
	return l.DailyUSD
}

func (l Limits) caller(period Period) float64 {
	if period == PeriodMonthly {
		return l.CallerMonthlyUSD
	}
	return l.CallerDailyUSD
}

// Entry is one successful dispatch to be charged
type Entry struct {
	RequestID    string
	CallerID     string
	TaskType     string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	FallbackUsed bool
	Timestamp    time.Time
}

// Counter is the accumulated spend of one scope in one period
type Counter struct {
	CostUSD  float64 `json:"cost_usd"`
	Requests int64   `json:"requests"`
}

// Status is the budget view for one period and scope
type Status struct {
	Period             Period  `json:"period"`
	PeriodKey          string  `json:"period_key"`
	CallerID           string  `json:"caller_id,omitempty"`
	CurrentSpendUSD    float64 `json:"current_spend_usd"`
	BudgetLimitUSD     float64 `json:"budget_limit_usd"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Requests           int64   `json:"requests"`
	RecommendedAction  Action  `json:"recommended_action"`
}

// Totals is a snapshot of the active counters
type Totals struct {
	DailyKey   string             `json:"daily_key"`
	MonthlyKey string             `json:"monthly_key"`
	Daily      map[string]Counter `json:"daily"`
	Monthly    map[string]Counter `json:"monthly"`
}

// window holds the counters of one period key; the empty caller is the global scope
type window struct {
	key      string
	counters map[string]Counter
}

func newWindow(key string) *window {
	return &window{key: key, counters: make(map[string]Counter)}
}

// Recorder receives cost records for persistence
type Recorder interface {
	Enqueue(record *models.CostRecord) error
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithRecorder forwards every recorded entry, typically to a Flusher
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		l.recorder = r
	}
}

// WithRetention bounds how many closed period keys are kept in memory
func WithRetention(daily, monthly int) Option {
	return func(l *Ledger) {
		if daily > 0 {
			l.retention[PeriodDaily] = daily
		}
		if monthly > 0 {
			l.retention[PeriodMonthly] = monthly
		}
	}
}

// Ledger tracks spend per period and caller, in memory
type Ledger struct {
	limits   Limits
	logger   *zap.Logger
	now      func() time.Time
	recorder Recorder

	mu        sync.Mutex
	current   map[Period]*window
	history   map[Period][]*window
	retention map[Period]int
}

// NewLedger creates a new Ledger
func NewLedger(limits Limits, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		limits:  limits,
		logger:  logger,
		now:     time.Now,
		current: make(map[Period]*window),
		history: make(map[Period][]*window),
		retention: map[Period]int{
			PeriodDaily:   defaultDailyRetention,
			PeriodMonthly: defaultMonthlyRetention,
		},
	}
	for _, opt := range opts {
		opt(l)
	}

	now := l.now()
	l.current[PeriodDaily] = newWindow(PeriodKey(now, PeriodDaily))
	l.current[PeriodMonthly] = newWindow(PeriodKey(now, PeriodMonthly))
	return l
}

// PeriodKey returns a unique key for a time period
func PeriodKey(t time.Time, period Period) string {
	t = t.UTC()
	switch period {
	case PeriodMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Limits returns the configured limits
func (l *Ledger) Limits() Limits {
	return l.limits
}

// Record charges an entry to the global scope and to its caller
func (l *Ledger) Record(ctx context.Context, entry Entry) error {
	if entry.CostUSD < 0 || math.IsNaN(entry.CostUSD) || math.IsInf(entry.CostUSD, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidCost, entry.CostUSD)
	}

	l.mu.Lock()
	now := l.now()
	l.rolloverLocked(now)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	for _, period := range []Period{PeriodDaily, PeriodMonthly} {
		w := l.current[period]
		add(w, "", entry.CostUSD)
		if entry.CallerID != "" {
			add(w, entry.CallerID, entry.CostUSD)
		}
	}
	dailyKey := l.current[PeriodDaily].key
	monthlyKey := l.current[PeriodMonthly].key
	l.mu.Unlock()

	if l.recorder == nil {
		return nil
	}

	record := models.NewCostRecord(entry.Provider, entry.Model, entry.InputTokens, entry.OutputTokens, entry.CostUSD)
	record.RequestID = entry.RequestID
	record.CallerID = entry.CallerID
	record.TaskType = entry.TaskType
	record.LatencyMs = entry.LatencyMs
	record.FallbackUsed = entry.FallbackUsed
	record.DailyKey = dailyKey
	record.MonthlyKey = monthlyKey
	record.Timestamp = entry.Timestamp.UTC()

	if err := l.recorder.Enqueue(record); err != nil {
		// The in-memory counters already include the entry
		l.logger.Warn("failed to forward cost record",
			zap.String("request_id", entry.RequestID),
			zap.Float64("cost_usd", entry.CostUSD),
			zap.Error(err))
	}
	return nil
}

func add(w *window, caller string, cost float64) {
	c := w.counters[caller]
	c.CostUSD += cost
	c.Requests++
	w.counters[caller] = c
}

// Status returns the budget view of a period. A caller without its own
// configured limit is evaluated against the global scope.
func (l *Ledger) Status(period Period, callerID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.now())
	return l.statusLocked(period, callerID)
}

func (l *Ledger) statusLocked(period Period, callerID string) Status {
	if !period.Valid() {
		period = PeriodDaily
	}
	w := l.current[period]

	limit := l.limits.global(period)
	scope := ""
	if callerID != "" && l.limits.caller(period) > 0 {
		limit = l.limits.caller(period)
		scope = callerID
	}

	counter := w.counters[scope]
	return newStatus(period, w.key, callerID, counter, limit)
}

func newStatus(period Period, key, callerID string, counter Counter, limit float64) Status {
	s := Status{
		Period:            period,
		PeriodKey:         key,
		CallerID:          callerID,
		CurrentSpendUSD:   counter.CostUSD,
		BudgetLimitUSD:    limit,
		Requests:          counter.Requests,
		RecommendedAction: ActionContinue,
	}
	if limit <= 0 {
		return s
	}

	s.UtilizationPercent = counter.CostUSD * 100 / limit
	switch {
	case s.UtilizationPercent >= BlockThreshold:
		s.RecommendedAction = ActionBlock
	case s.UtilizationPercent >= DowngradeThreshold:
		s.RecommendedAction = ActionDowngrade
	}
	return s
}

// Check returns the most constrained status across periods and scopes
func (l *Ledger) Check(callerID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.now())

	candidates := []Status{
		l.statusLocked(PeriodDaily, ""),
		l.statusLocked(PeriodMonthly, ""),
	}
	if callerID != "" {
		candidates = append(candidates,
			l.statusLocked(PeriodDaily, callerID),
			l.statusLocked(PeriodMonthly, callerID),
		)
	}

	worst := candidates[0]
	for _, s := range candidates[1:] {
		if s.UtilizationPercent > worst.UtilizationPercent {
			worst = s
		}
	}
	if callerID != "" {
		worst.CallerID = callerID
	}
	return worst
}

// History returns the closed-period counter of a scope
func (l *Ledger) History(period Period, periodKey, callerID string) (Counter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.now())
	for _, w := range l.history[period] {
		if w.key == periodKey {
			c, ok := w.counters[callerID]
			return c, ok
		}
	}
	return Counter{}, false
}

// HistoryKeys lists the retained closed period keys, oldest first
func (l *Ledger) HistoryKeys(period Period) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.history[period]))
	for _, w := range l.history[period] {
		keys = append(keys, w.key)
	}
	return keys
}

// Totals returns a copy of the active counters
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.now())
	return Totals{
		DailyKey:   l.current[PeriodDaily].key,
		MonthlyKey: l.current[PeriodMonthly].key,
		Daily:      copyCounters(l.current[PeriodDaily].counters),
		Monthly:    copyCounters(l.current[PeriodMonthly].counters),
	}
}

// Callers returns the caller IDs with spend in the active daily period
func (l *Ledger) Callers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	callers := make([]string, 0, len(l.current[PeriodDaily].counters))
	for caller := range l.current[PeriodDaily].counters {
		if caller != "" {
			callers = append(callers, caller)
		}
	}
	sort.Strings(callers)
	return callers
}

// Rollover closes any period whose boundary has passed and returns the closed keys
func (l *Ledger) Rollover() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rolloverLocked(l.now())
}

func (l *Ledger) rolloverLocked(now time.Time) []string {
	var closed []string
	for _, period := range []Period{PeriodDaily, PeriodMonthly} {
		key := PeriodKey(now, period)
		w := l.current[period]
		if w.key == key {
			continue
		}

		l.history[period] = append(l.history[period], w)
		if keep := l.retention[period]; len(l.history[period]) > keep {
			l.history[period] = l.history[period][len(l.history[period])-keep:]
		}
		l.current[period] = newWindow(key)
		closed = append(closed, w.key)

		global := w.counters[""]
		l.logger.Info("budget period rolled over",
			zap.String("period", string(period)),
			zap.String("closed_key", w.key),
			zap.String("new_key", key),
			zap.Float64("closed_spend_usd", global.CostUSD),
			zap.Int64("closed_requests", global.Requests))
	}
	return closed
}

func copyCounters(in map[string]Counter) map[string]Counter {
	out := make(map[string]Counter, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StartRolloverWorker periodically closes finished periods so history and
// metrics advance even without traffic. It blocks until ctx is done.
func (l *Ledger) StartRolloverWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started budget rollover worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			l.Rollover()
		case <-ctx.Done():
			l.logger.Info("stopping budget rollover worker")
			return
		}
	}
}
