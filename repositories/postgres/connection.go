package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adopts an already opened pool, used with sqlmock in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema creates the cost tables if they do not exist
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- One row per successful dispatch
		CREATE TABLE IF NOT EXISTS cost_records (
			id UUID PRIMARY KEY,
			request_id VARCHAR(255) NOT NULL,
			caller_id VARCHAR(128),
			task_type VARCHAR(50),
			provider VARCHAR(100) NOT NULL,
			model VARCHAR(100) NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd DECIMAL(14, 8) NOT NULL,
			latency_ms INTEGER,
			fallback_used BOOLEAN NOT NULL DEFAULT false,
			daily_key VARCHAR(10) NOT NULL,
			monthly_key VARCHAR(7) NOT NULL,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Running totals per scope ("global" or "caller:<id>") and period key
		CREATE TABLE IF NOT EXISTS budget_tracking (
			scope_key VARCHAR(160) NOT NULL,
			period_key VARCHAR(10) NOT NULL,
			total_cost DECIMAL(14, 8) NOT NULL DEFAULT 0,
			requests BIGINT NOT NULL DEFAULT 0,
			currency VARCHAR(3) NOT NULL DEFAULT 'USD',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope_key, period_key)
		);

		CREATE INDEX IF NOT EXISTS idx_cost_records_request_id ON cost_records(request_id);
		CREATE INDEX IF NOT EXISTS idx_cost_records_caller_id ON cost_records(caller_id);
		CREATE INDEX IF NOT EXISTS idx_cost_records_daily_key ON cost_records(daily_key);
		CREATE INDEX IF NOT EXISTS idx_cost_records_provider ON cost_records(provider);
		CREATE INDEX IF NOT EXISTS idx_budget_tracking_period_key ON budget_tracking(period_key);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
