package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ScientiaCapital/sales-agent-sub004/services/dispatch"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Routing       RoutingConfig
	Breaker       BreakerConfig
	Retry         RetryConfig
	Budget        BudgetConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string

	// ProvidersFile is the YAML provider catalog; Providers is its parsed content
	ProvidersFile string
	Providers     []providers.ProviderConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds PostgreSQL configuration for the cost sink.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the response cache connection
type RedisConfig struct {
	URL string
}

// AuthConfig holds the admin API token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RoutingConfig holds the default strategy and balanced weights
type RoutingConfig struct {
	Strategy        string
	BalancedWeights string
}

// BreakerConfig holds default circuit breaker parameters
type BreakerConfig struct {
	FailureThreshold  int
	OpenTimeout       time.Duration
	HalfOpenSuccesses int
}

// RetryConfig holds default retry parameters
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// BudgetConfig holds spending limits in USD; zero means unlimited
type BudgetConfig struct {
	DailyUSD         float64
	MonthlyUSD       float64
	CallerDailyUSD   float64
	CallerMonthlyUSD float64
	RolloverInterval time.Duration
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	TTL           time.Duration
	MemoryEntries int
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a Config by loading .env and environment variables, then the provider catalog
func New(ctx context.Context) (*Config, error) {
	return NewWithCatalog(ctx, "")
}

// NewWithCatalog is New with PROVIDERS_FILE overridden when providersFile is set
func NewWithCatalog(ctx context.Context, providersFile string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Load()
	if providersFile != "" {
		cfg.ProvidersFile = providersFile
	}

	catalog, err := LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider catalog: %w", err)
	}
	cfg.Providers = catalog

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the environment without touching the provider catalog or validating
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", "llm-dispatcher"),
		},
		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.yaml"),
		Routing: RoutingConfig{
			Strategy:        getEnv("ROUTING_STRATEGY", string(routing.StrategyCostOptimized)),
			BalancedWeights: getEnv("ROUTING_BALANCED_WEIGHTS", ""),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			OpenTimeout:       getEnvAsDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),
			HalfOpenSuccesses: getEnvAsInt("BREAKER_HALF_OPEN_SUCCESSES", 1),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),
		},
		Budget: BudgetConfig{
			DailyUSD:         getEnvAsFloat("BUDGET_DAILY_USD", 0),
			MonthlyUSD:       getEnvAsFloat("BUDGET_MONTHLY_USD", 0),
			CallerDailyUSD:   getEnvAsFloat("BUDGET_CALLER_DAILY_USD", 0),
			CallerMonthlyUSD: getEnvAsFloat("BUDGET_CALLER_MONTHLY_USD", 0),
			RolloverInterval: getEnvAsDuration("BUDGET_ROLLOVER_INTERVAL", time.Minute),
		},
		Cache: CacheConfig{
			TTL:           getEnvAsDuration("CACHE_TTL", 0),
			MemoryEntries: getEnvAsInt("CACHE_MEMORY_ENTRIES", 1000),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if _, err := routing.ParseStrategy(c.Routing.Strategy); err != nil {
		return err
	}
	if _, err := routing.ParseWeights(c.Routing.BalancedWeights); err != nil {
		return fmt.Errorf("invalid balanced weights: %w", err)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker failure threshold must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		return errors.New("breaker open timeout must be positive")
	}
	if c.Breaker.HalfOpenSuccesses <= 0 {
		return errors.New("breaker half-open success threshold must be positive")
	}

	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry max attempts must be positive")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry delays must satisfy 0 <= base delay <= max delay")
	}

	if c.Budget.DailyUSD < 0 || c.Budget.MonthlyUSD < 0 ||
		c.Budget.CallerDailyUSD < 0 || c.Budget.CallerMonthlyUSD < 0 {
		return errors.New("budgets must not be negative")
	}

	if c.Cache.TTL < 0 {
		return errors.New("cache TTL must not be negative")
	}

	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		names[p.Name] = true
	}
	weights, _ := routing.ParseWeights(c.Routing.BalancedWeights)
	for name := range weights {
		if !names[name] {
			return fmt.Errorf("balanced weight references unknown provider %s", name)
		}
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return errors.New("auth JWT secret is required in production")
	}

	if c.Observability.LogLevel == "" {
		return errors.New("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// With neither set the database stays disabled and cost records are not persisted.
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: getEnv("DATABASE_URL", ""),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "dispatcher")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "dispatcher")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DispatchOptions converts the configuration into dispatcher startup options
func (c *Config) DispatchOptions() dispatch.Options {
	strategy, _ := routing.ParseStrategy(c.Routing.Strategy)
	weights, _ := routing.ParseWeights(c.Routing.BalancedWeights)

	return dispatch.Options{
		Strategy:               strategy,
		FailureThreshold:       c.Breaker.FailureThreshold,
		OpenTimeoutSeconds:     c.Breaker.OpenTimeout.Seconds(),
		HalfOpenSuccesses:      c.Breaker.HalfOpenSuccesses,
		MaxRetries:             max(c.Retry.MaxAttempts-1, 0),
		BaseDelayMs:            int(c.Retry.BaseDelay / time.Millisecond),
		MaxDelayMs:             int(c.Retry.MaxDelay / time.Millisecond),
		DailyBudgetUSD:         c.Budget.DailyUSD,
		MonthlyBudgetUSD:       c.Budget.MonthlyUSD,
		CallerDailyBudgetUSD:   c.Budget.CallerDailyUSD,
		CallerMonthlyBudgetUSD: c.Budget.CallerMonthlyUSD,
		BalancedWeights:        weights,
		CacheTTL:               c.Cache.TTL,
	}
}
