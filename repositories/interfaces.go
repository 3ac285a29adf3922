package repositories

import (
	"context"
	"errors"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// CostRepository persists cost records and the per-period totals derived from them
type CostRepository interface {
	// Save inserts the record and adds its cost to the global and caller
	// totals of its daily and monthly periods, atomically
	Save(ctx context.Context, record *models.CostRecord) error

	// GetByRequestID retrieves the record of one dispatch
	GetByRequestID(ctx context.Context, requestID string) (*models.CostRecord, error)

	// PeriodTotals returns every scope's totals for a period key, highest spend first
	PeriodTotals(ctx context.Context, periodKey string) ([]*models.PeriodTotal, error)

	// ScopeTotal returns one scope's totals for a period key, zero when absent
	ScopeTotal(ctx context.Context, scopeKey, periodKey string) (*models.PeriodTotal, error)

	// DeleteTotalsBefore removes period totals older than the cutoff key and
	// returns how many rows were removed
	DeleteTotalsBefore(ctx context.Context, cutoffPeriodKey string) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Costs CostRepository
}
