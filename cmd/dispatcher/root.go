package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/config"
	"github.com/ScientiaCapital/sales-agent-sub004/internal/observability"
)

// Version will be set at build time
var Version = "dev"

var (
	providersFile string
	logLevel      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Multi-provider LLM dispatcher with routing, fallback and budget control",
	Long: `Routes completion requests across hosted LLM providers. Each provider is
guarded by a circuit breaker and a retry policy, failures cascade to the next
candidate, and every successful call is charged to a daily and monthly budget.

Providers are declared in a YAML catalog (PROVIDERS_FILE, default providers.yaml).
Everything else is configured through environment variables or a .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers", "", "provider catalog file (overrides PROVIDERS_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
}

// loadConfig loads and validates the configuration, applying persistent flag overrides
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.NewWithCatalog(ctx, providersFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger from the observability settings
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(
		zap.String("service", "dispatcher"),
		zap.String("environment", cfg.Environment),
	), nil
}
