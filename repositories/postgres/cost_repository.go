package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
	"github.com/ScientiaCapital/sales-agent-sub004/repositories"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = repositories.ErrNotFound

const defaultCurrency = "USD"

// CostRepository implements repositories.CostRepository
type CostRepository struct {
	db     *DB
	tx     *TransactionManager
	logger *zap.Logger
}

// NewCostRepository creates a new cost repository
func NewCostRepository(db *DB, logger *zap.Logger) *CostRepository {
	return &CostRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

var _ repositories.CostRepository = (*CostRepository)(nil)

// Save inserts the record and upserts the daily and monthly totals of the
// global scope and, when present, of the caller, in one transaction
func (r *CostRepository) Save(ctx context.Context, record *models.CostRecord) error {
	if record == nil {
		return errors.New("cost record cannot be nil")
	}

	scopes := []string{models.GlobalScope}
	if record.CallerID != "" {
		scopes = append(scopes, models.ScopeKey(record.CallerID))
	}

	err := r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if err := r.insert(ctx, record); err != nil {
			return err
		}
		for _, scope := range scopes {
			for _, periodKey := range []string{record.DailyKey, record.MonthlyKey} {
				if err := r.upsertTotal(ctx, scope, periodKey, record); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("cost record saved",
		zap.String("request_id", record.RequestID),
		zap.String("provider", record.Provider),
		zap.Float64("cost_usd", record.CostUSD))
	return nil
}

func (r *CostRepository) insert(ctx context.Context, record *models.CostRecord) error {
	query := `
		INSERT INTO cost_records (
			id, request_id, caller_id, task_type, provider, model,
			input_tokens, output_tokens, cost_usd, latency_ms, fallback_used,
			daily_key, monthly_key, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.CallerID,
		record.TaskType,
		record.Provider,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.CostUSD,
		record.LatencyMs,
		record.FallbackUsed,
		record.DailyKey,
		record.MonthlyKey,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cost record: %w", err)
	}
	return nil
}

func (r *CostRepository) upsertTotal(ctx context.Context, scopeKey, periodKey string, record *models.CostRecord) error {
	query := `
		INSERT INTO budget_tracking (scope_key, period_key, total_cost, requests, currency, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (scope_key, period_key)
		DO UPDATE SET
			total_cost = budget_tracking.total_cost + EXCLUDED.total_cost,
			requests = budget_tracking.requests + 1,
			updated_at = EXCLUDED.updated_at
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		scopeKey, periodKey, record.CostUSD, defaultCurrency, record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert %s total for %s: %w", scopeKey, periodKey, err)
	}
	return nil
}

// GetByRequestID retrieves the record of one dispatch
func (r *CostRepository) GetByRequestID(ctx context.Context, requestID string) (*models.CostRecord, error) {
	query := `
		SELECT id, request_id, caller_id, task_type, provider, model,
		       input_tokens, output_tokens, cost_usd, latency_ms, fallback_used,
		       daily_key, monthly_key, timestamp
		FROM cost_records
		WHERE request_id = $1
	`

	var rec models.CostRecord
	var callerID, taskType sql.NullString
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, requestID).Scan(
		&rec.ID,
		&rec.RequestID,
		&callerID,
		&taskType,
		&rec.Provider,
		&rec.Model,
		&rec.InputTokens,
		&rec.OutputTokens,
		&rec.CostUSD,
		&rec.LatencyMs,
		&rec.FallbackUsed,
		&rec.DailyKey,
		&rec.MonthlyKey,
		&rec.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost record: %w", err)
	}
	rec.CallerID = callerID.String
	rec.TaskType = taskType.String
	return &rec, nil
}

// PeriodTotals returns every scope's totals for periodKey, highest spend first
func (r *CostRepository) PeriodTotals(ctx context.Context, periodKey string) ([]*models.PeriodTotal, error) {
	query := `
		SELECT scope_key, period_key, total_cost, requests, currency, updated_at
		FROM budget_tracking
		WHERE period_key = $1
		ORDER BY total_cost DESC, scope_key
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, periodKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query period totals: %w", err)
	}
	defer rows.Close()

	var totals []*models.PeriodTotal
	for rows.Next() {
		var t models.PeriodTotal
		if err := rows.Scan(&t.ScopeKey, &t.PeriodKey, &t.TotalCost, &t.Requests, &t.Currency, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan period total: %w", err)
		}
		totals = append(totals, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate period totals: %w", err)
	}
	return totals, nil
}

// ScopeTotal returns one scope's totals, zero-valued when nothing was recorded
func (r *CostRepository) ScopeTotal(ctx context.Context, scopeKey, periodKey string) (*models.PeriodTotal, error) {
	query := `
		SELECT total_cost, requests, currency, updated_at
		FROM budget_tracking
		WHERE scope_key = $1 AND period_key = $2
	`

	t := &models.PeriodTotal{ScopeKey: scopeKey, PeriodKey: periodKey, Currency: defaultCurrency}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, scopeKey, periodKey).
		Scan(&t.TotalCost, &t.Requests, &t.Currency, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope total: %w", err)
	}
	return t, nil
}

// DeleteTotalsBefore removes totals whose period key sorts before cutoffPeriodKey
func (r *CostRepository) DeleteTotalsBefore(ctx context.Context, cutoffPeriodKey string) (int64, error) {
	query := `
		DELETE FROM budget_tracking
		WHERE period_key < $1
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, cutoffPeriodKey)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old budget data: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		r.logger.Info("old budget totals removed",
			zap.String("cutoff", cutoffPeriodKey),
			zap.Int64("rows", n))
	}
	return n, nil
}
