package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/config"
	"github.com/ScientiaCapital/sales-agent-sub004/internal/observability"
	"github.com/ScientiaCapital/sales-agent-sub004/middleware"
	"github.com/ScientiaCapital/sales-agent-sub004/repositories"
	"github.com/ScientiaCapital/sales-agent-sub004/repositories/postgres"
	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/services/cache"
	"github.com/ScientiaCapital/sales-agent-sub004/services/dispatch"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

const (
	flusherStopTimeout   = 10 * time.Second
	cacheCleanupInterval = time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB

	// Repository Factory, nil when no database is configured
	RepoFactory *postgres.RepositoryFactory
	Costs       repositories.CostRepository

	// Flusher persists cost records off the dispatch path
	Flusher *budget.Flusher

	// Response cache: Redis when configured, otherwise in-process
	Redis *cache.RedisCache
	Cache dispatch.Cache

	// Metrics
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Dispatcher *dispatch.Dispatcher

	// Auth
	JWT            *middleware.JWTValidator
	AuthMiddleware *middleware.AuthMiddleware

	providers   []providers.Provider
	stopWorkers context.CancelFunc
	workers     sync.WaitGroup
}

// Option customizes dependency construction
type Option func(*Dependencies)

// WithProviders replaces the adapters built from the provider catalog
func WithProviders(ps ...providers.Provider) Option {
	return func(d *Dependencies) {
		d.providers = ps
	}
}

// AuthEnabled reports whether API tokens are validated
func (d *Dependencies) AuthEnabled() bool {
	return d.JWT != nil
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	deps.stopWorkers = cancel

	// Initialize PostgreSQL and the cost flusher
	if err := deps.initDatabase(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize the response cache
	if err := deps.initCache(ctx, workerCtx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	deps.initMetrics(cfg)

	// Initialize providers and the dispatcher
	if err := deps.initDispatcher(ctx, workerCtx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens PostgreSQL when configured and starts the cost flusher
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("database not configured, cost records kept in memory only")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Costs = factory.NewRepositories().Costs
	d.Flusher = budget.NewFlusher(d.Costs, d.Logger, budget.DefaultFlusherConfig())
	if err := d.Flusher.Start(); err != nil {
		return fmt.Errorf("failed to start cost flusher: %w", err)
	}

	return nil
}

// initCache connects Redis when configured, otherwise falls back to the in-process LRU
func (d *Dependencies) initCache(ctx, workerCtx context.Context, cfg *config.Config) error {
	if cfg.Cache.TTL <= 0 {
		d.Logger.Info("response cache disabled")
		return nil
	}

	if cfg.Redis.URL != "" {
		redisCache, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = redisCache
		d.Cache = redisCache
		d.Logger.Info("response cache backed by redis", zap.Duration("ttl", cfg.Cache.TTL))
		return nil
	}

	memory := cache.NewMemoryCache(cfg.Cache.MemoryEntries)
	d.goWorker(func() { memory.StartCleanupWorker(workerCtx, cacheCleanupInterval) })
	d.Cache = memory
	d.Logger.Info("response cache backed by memory",
		zap.Duration("ttl", cfg.Cache.TTL),
		zap.Int("max_entries", cfg.Cache.MemoryEntries))
	return nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)
}

func (d *Dependencies) initDispatcher(ctx, workerCtx context.Context, cfg *config.Config) error {
	if d.providers == nil {
		built, err := BuildProviders(ctx, cfg.Providers, d.Logger)
		if err != nil {
			return err
		}
		d.providers = built
	}

	deps := dispatch.Deps{
		Providers: d.providers,
		Logger:    d.Logger,
		Metrics:   d.Metrics,
	}
	if d.Cache != nil {
		deps.Cache = d.Cache
		deps.CacheKey = cache.Key
	}
	if d.Flusher != nil {
		deps.Recorder = d.Flusher
	}

	dispatcher, err := dispatch.New(cfg.DispatchOptions(), deps)
	if err != nil {
		return err
	}
	d.Dispatcher = dispatcher

	if cfg.Budget.RolloverInterval > 0 {
		ledger := dispatcher.Ledger()
		d.goWorker(func() { ledger.StartRolloverWorker(workerCtx, cfg.Budget.RolloverInterval) })
	}
	return nil
}

func (d *Dependencies) goWorker(fn func()) {
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		fn()
	}()
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, dispatch is unauthenticated and admin endpoints are disabled")
		// Reject-all validator so admin routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(rejectAllValidator{}, d.Logger)
		return nil
	}

	validator, err := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	d.JWT = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("token authentication enabled", zap.String("issuer", cfg.Auth.Issuer))
	return nil
}

// rejectAllValidator rejects all tokens (used when no secret is configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies. The flusher drains before
// the database closes so queued cost records are not lost.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs *multierror.Error

	if d.stopWorkers != nil {
		d.stopWorkers()
	}
	d.workers.Wait()

	if d.Flusher != nil {
		timeout := flusherStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Flusher.Stop(timeout); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to stop cost flusher: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errs.ErrorOrNil()
}
