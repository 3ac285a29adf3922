package budget

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

// fakeClock is a settable clock shared by a test and its ledger
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestLedger(t *testing.T, limits Limits, opts ...Option) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewLedger(limits, zap.NewNop(), opts...), clock
}

func TestPeriodKey(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	t.Run("daily period", func(t *testing.T) {
		assert.Equal(t, "2024-01-15", PeriodKey(now, PeriodDaily))
	})

	t.Run("monthly period", func(t *testing.T) {
		assert.Equal(t, "2024-01", PeriodKey(now, PeriodMonthly))
	})

	t.Run("keys are UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC-5", -5*3600)
		local := time.Date(2024, 1, 31, 22, 0, 0, 0, loc)
		assert.Equal(t, "2024-02-01", PeriodKey(local, PeriodDaily))
		assert.Equal(t, "2024-02", PeriodKey(local, PeriodMonthly))
	})
}

func TestLedger_StatusThresholds(t *testing.T) {
	tests := []struct {
		name       string
		spend      float64
		limit      float64
		wantAction Action
		wantUtil   float64
	}{
		{name: "below downgrade", spend: 7.99, limit: 10, wantAction: ActionContinue, wantUtil: 79.9},
		{name: "at downgrade", spend: 8, limit: 10, wantAction: ActionDowngrade, wantUtil: 80},
		{name: "just under block", spend: 9.99, limit: 10, wantAction: ActionDowngrade, wantUtil: 99.9},
		{name: "at block", spend: 10, limit: 10, wantAction: ActionBlock, wantUtil: 100},
		{name: "over block", spend: 12, limit: 10, wantAction: ActionBlock, wantUtil: 120},
		{name: "unlimited", spend: 1000, limit: 0, wantAction: ActionContinue, wantUtil: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _ := newTestLedger(t, Limits{DailyUSD: tt.limit})
			require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: tt.spend, Provider: "cerebras"}))

			status := ledger.Status(PeriodDaily, "")
			assert.Equal(t, tt.wantAction, status.RecommendedAction)
			assert.InDelta(t, tt.wantUtil, status.UtilizationPercent, 1e-9)
			assert.Equal(t, "2024-01-15", status.PeriodKey)
			assert.Equal(t, int64(1), status.Requests)
		})
	}
}

func TestLedger_RecordChargesGlobalAndCaller(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{DailyUSD: 100, CallerDailyUSD: 1})
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, Entry{CostUSD: 0.5, CallerID: "acme"}))
	require.NoError(t, ledger.Record(ctx, Entry{CostUSD: 0.25, CallerID: "acme"}))
	require.NoError(t, ledger.Record(ctx, Entry{CostUSD: 2}))

	global := ledger.Status(PeriodDaily, "")
	assert.InDelta(t, 2.75, global.CurrentSpendUSD, 1e-9)
	assert.Equal(t, int64(3), global.Requests)

	caller := ledger.Status(PeriodDaily, "acme")
	assert.InDelta(t, 0.75, caller.CurrentSpendUSD, 1e-9)
	assert.Equal(t, 1.0, caller.BudgetLimitUSD)
	assert.Equal(t, ActionContinue, caller.RecommendedAction)

	monthly := ledger.Status(PeriodMonthly, "")
	assert.InDelta(t, 2.75, monthly.CurrentSpendUSD, 1e-9)

	assert.Equal(t, []string{"acme"}, ledger.Callers())
}

func TestLedger_CallerWithoutLimitUsesGlobalScope(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{DailyUSD: 10})
	require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: 9, CallerID: "other"}))

	status := ledger.Status(PeriodDaily, "acme")
	assert.Equal(t, "acme", status.CallerID)
	assert.Equal(t, 9.0, status.CurrentSpendUSD)
	assert.Equal(t, 10.0, status.BudgetLimitUSD)
	assert.Equal(t, ActionDowngrade, status.RecommendedAction)
}

func TestLedger_CheckReturnsMostConstrained(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{DailyUSD: 100, MonthlyUSD: 10, CallerDailyUSD: 50})
	require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: 8.5, CallerID: "acme"}))

	status := ledger.Check("acme")
	assert.Equal(t, PeriodMonthly, status.Period)
	assert.Equal(t, ActionDowngrade, status.RecommendedAction)
	assert.Equal(t, "acme", status.CallerID)

	require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: 2}))
	assert.Equal(t, ActionBlock, ledger.Check("").RecommendedAction)
}

func TestLedger_CheckUnlimited(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{})
	require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: 1e6}))

	status := ledger.Check("acme")
	assert.Equal(t, ActionContinue, status.RecommendedAction)
}

func TestLedger_RejectsInvalidCost(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{})

	for _, cost := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		err := ledger.Record(context.Background(), Entry{CostUSD: cost})
		assert.ErrorIs(t, err, ErrInvalidCost)
	}
	assert.Zero(t, ledger.Status(PeriodDaily, "").Requests)
}

func TestLedger_RolloverCutover(t *testing.T) {
	ledger, clock := newTestLedger(t, Limits{DailyUSD: 10, MonthlyUSD: 100})
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, Entry{CostUSD: 9.5, CallerID: "acme"}))
	assert.Equal(t, ActionDowngrade, ledger.Status(PeriodDaily, "").RecommendedAction)

	clock.Set(time.Date(2024, 1, 16, 0, 0, 1, 0, time.UTC))

	daily := ledger.Status(PeriodDaily, "")
	assert.Equal(t, "2024-01-16", daily.PeriodKey)
	assert.Zero(t, daily.CurrentSpendUSD)
	assert.Equal(t, ActionContinue, daily.RecommendedAction)

	monthly := ledger.Status(PeriodMonthly, "")
	assert.Equal(t, 9.5, monthly.CurrentSpendUSD, "monthly counter continues within the month")

	closed, ok := ledger.History(PeriodDaily, "2024-01-15", "")
	require.True(t, ok)
	assert.Equal(t, Counter{CostUSD: 9.5, Requests: 1}, closed)

	closedCaller, ok := ledger.History(PeriodDaily, "2024-01-15", "acme")
	require.True(t, ok)
	assert.Equal(t, 9.5, closedCaller.CostUSD)

	_, ok = ledger.History(PeriodDaily, "2024-01-14", "")
	assert.False(t, ok)

	clock.Set(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	closedKeys := ledger.Rollover()
	assert.ElementsMatch(t, []string{"2024-01-16", "2024-01"}, closedKeys)
	assert.Equal(t, []string{"2024-01"}, ledger.HistoryKeys(PeriodMonthly))
}

func TestLedger_HistoryRetention(t *testing.T) {
	ledger, clock := newTestLedger(t, Limits{}, WithRetention(2, 0))
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	for day := 0; day < 5; day++ {
		clock.Set(start.AddDate(0, 0, day))
		require.NoError(t, ledger.Record(context.Background(), Entry{CostUSD: 1}))
	}

	assert.Equal(t, []string{"2024-01-17", "2024-01-18"}, ledger.HistoryKeys(PeriodDaily))
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	ledger, _ := newTestLedger(t, Limits{DailyUSD: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = ledger.Record(context.Background(), Entry{CostUSD: 0.01, CallerID: "acme"})
			}
		}()
	}
	wg.Wait()

	totals := ledger.Totals()
	assert.Equal(t, int64(1000), totals.Daily[""].Requests)
	assert.InDelta(t, 10.0, totals.Daily[""].CostUSD, 1e-6)
	assert.Equal(t, int64(1000), totals.Monthly["acme"].Requests)
	assert.Equal(t, "2024-01-15", totals.DailyKey)
	assert.Equal(t, "2024-01", totals.MonthlyKey)
}

type recorderFunc func(*models.CostRecord) error

func (f recorderFunc) Enqueue(r *models.CostRecord) error { return f(r) }

func TestLedger_ForwardsRecords(t *testing.T) {
	var got []*models.CostRecord
	ledger, _ := newTestLedger(t, Limits{}, WithRecorder(recorderFunc(func(r *models.CostRecord) error {
		got = append(got, r)
		return ErrBufferFull
	})))

	err := ledger.Record(context.Background(), Entry{
		RequestID:    "req-1",
		CallerID:     "acme",
		TaskType:     "research",
		Provider:     "anthropic",
		Model:        "claude-3-5-haiku-latest",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.0003,
	})
	require.NoError(t, err, "a full buffer must not fail the charge")

	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, "2024-01-15", got[0].DailyKey)
	assert.Equal(t, "2024-01", got[0].MonthlyKey)
	assert.Equal(t, 150, got[0].TotalTokens())
	assert.Equal(t, 1, int(ledger.Status(PeriodDaily, "").Requests))
}
