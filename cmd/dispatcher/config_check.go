package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the environment and provider catalog",
	Long: `Loads .env, the environment and the provider catalog exactly as serve does,
validates them and prints a summary. Secrets are never printed.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := cfg.DispatchOptions()

	fmt.Fprintf(out, "environment:      %s\n", cfg.Environment)
	fmt.Fprintf(out, "listen address:   %s\n", cfg.Server.Address())
	fmt.Fprintf(out, "catalog:          %s (%d providers)\n", cfg.ProvidersFile, len(cfg.Providers))
	fmt.Fprintf(out, "strategy:         %s\n", opts.Strategy)
	fmt.Fprintf(out, "breaker:          %d failures, open %s, %d half-open successes\n",
		cfg.Breaker.FailureThreshold, cfg.Breaker.OpenTimeout, cfg.Breaker.HalfOpenSuccesses)
	fmt.Fprintf(out, "retry:            %d attempts, %s to %s backoff\n",
		cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	fmt.Fprintf(out, "budget (global):  daily %s, monthly %s\n",
		formatLimit(cfg.Budget.DailyUSD), formatLimit(cfg.Budget.MonthlyUSD))
	fmt.Fprintf(out, "budget (caller):  daily %s, monthly %s\n",
		formatLimit(cfg.Budget.CallerDailyUSD), formatLimit(cfg.Budget.CallerMonthlyUSD))

	database := "disabled"
	if cfg.Database.Enabled() {
		database = cfg.Database.LogString()
	}
	fmt.Fprintf(out, "database:         %s\n", database)

	cacheMode := "disabled"
	switch {
	case cfg.Cache.TTL > 0 && cfg.Redis.URL != "":
		cacheMode = fmt.Sprintf("redis, ttl %s", cfg.Cache.TTL)
	case cfg.Cache.TTL > 0:
		cacheMode = fmt.Sprintf("memory (%d entries), ttl %s", cfg.Cache.MemoryEntries, cfg.Cache.TTL)
	}
	fmt.Fprintf(out, "response cache:   %s\n", cacheMode)
	fmt.Fprintf(out, "auth:             %t\n", cfg.Auth.JWTSecret != "")
	fmt.Fprintln(out, "configuration OK")
	return nil
}

func formatLimit(usd float64) string {
	if usd <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", usd)
}
