package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

func newMockRepository(t *testing.T) (*CostRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewCostRepository(Wrap(sqlDB, zap.NewNop()), zap.NewNop()), mock
}

func sampleRecord() *models.CostRecord {
	rec := models.NewCostRecord("cerebras", "llama3.1-8b", 120, 300, 0.000042)
	rec.RequestID = "req-1"
	rec.CallerID = "acme"
	rec.TaskType = "research"
	rec.LatencyMs = 230
	rec.DailyKey = "2024-01-15"
	rec.MonthlyKey = "2024-01"
	rec.Timestamp = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	return rec
}

var (
	insertRecordSQL = regexp.QuoteMeta("INSERT INTO cost_records")
	upsertTotalSQL  = regexp.QuoteMeta("INSERT INTO budget_tracking")
)

func TestCostRepository_Save(t *testing.T) {
	repo, mock := newMockRepository(t)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(insertRecordSQL).
		WithArgs(rec.ID, "req-1", "acme", "research", "cerebras", "llama3.1-8b",
			120, 300, rec.CostUSD, int64(230), false, "2024-01-15", "2024-01", rec.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	for _, scope := range []string{models.GlobalScope, "caller:acme"} {
		for _, key := range []string{"2024-01-15", "2024-01"} {
			mock.ExpectExec(upsertTotalSQL).
				WithArgs(scope, key, rec.CostUSD, "USD", rec.Timestamp).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
	}
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_SaveWithoutCallerChargesGlobalOnly(t *testing.T) {
	repo, mock := newMockRepository(t)
	rec := sampleRecord()
	rec.CallerID = ""

	mock.ExpectBegin()
	mock.ExpectExec(insertRecordSQL).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(upsertTotalSQL).WithArgs(models.GlobalScope, "2024-01-15", rec.CostUSD, "USD", rec.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(upsertTotalSQL).WithArgs(models.GlobalScope, "2024-01", rec.CostUSD, "USD", rec.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_SaveRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(insertRecordSQL).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(upsertTotalSQL).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert global total for 2024-01-15")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_SaveNil(t *testing.T) {
	repo, _ := newMockRepository(t)
	assert.Error(t, repo.Save(context.Background(), nil))
}

func TestCostRepository_GetByRequestID(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	columns := []string{"id", "request_id", "caller_id", "task_type", "provider", "model",
		"input_tokens", "output_tokens", "cost_usd", "latency_ms", "fallback_used",
		"daily_key", "monthly_key", "timestamp"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM cost_records")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id, "req-1", nil, "research", "anthropic", "claude", 10, 20, 0.00033, 900, true, "2024-01-15", "2024-01", ts))

	rec, err := repo.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Empty(t, rec.CallerID)
	assert.Equal(t, "research", rec.TaskType)
	assert.True(t, rec.FallbackUsed)
	assert.Equal(t, 30, rec.TotalTokens())

	mock.ExpectQuery(regexp.QuoteMeta("FROM cost_records")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByRequestID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_PeriodTotals(t *testing.T) {
	repo, mock := newMockRepository(t)
	updated := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM budget_tracking")).
		WithArgs("2024-01-15").
		WillReturnRows(sqlmock.NewRows([]string{"scope_key", "period_key", "total_cost", "requests", "currency", "updated_at"}).
			AddRow("global", "2024-01-15", 12.5, 400, "USD", updated).
			AddRow("caller:acme", "2024-01-15", 3.25, 90, "USD", updated))

	totals, err := repo.PeriodTotals(context.Background(), "2024-01-15")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "global", totals[0].ScopeKey)
	assert.Equal(t, 12.5, totals[0].TotalCost)
	assert.Equal(t, int64(90), totals[1].Requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_ScopeTotal(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM budget_tracking")).
		WithArgs("caller:acme", "2024-01").
		WillReturnError(sql.ErrNoRows)

	total, err := repo.ScopeTotal(context.Background(), models.ScopeKey("acme"), "2024-01")
	require.NoError(t, err)
	assert.Zero(t, total.TotalCost)
	assert.Equal(t, "USD", total.Currency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostRepository_DeleteTotalsBefore(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM budget_tracking")).
		WithArgs("2023-10").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteTotalsBefore(context.Background(), "2023-10")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	db := Wrap(sqlDB, zap.NewNop())
	require.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS cost_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Wrap(sqlDB, zap.NewNop()).InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
