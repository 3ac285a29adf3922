package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ScientiaCapital/sales-agent-sub004/app"
	"github.com/ScientiaCapital/sales-agent-sub004/services"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
)

var (
	dispatchPrompt     string
	dispatchStrategy   string
	dispatchCaller     string
	dispatchTaskType   string
	dispatchSystem     string
	dispatchMaxTokens  int
	dispatchTemp       float64
	dispatchMaxCost    float64
	dispatchMaxLatency int64
	dispatchTimeout    time.Duration
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [prompt]",
	Short: "Route a single request in-process and print the response",
	Long: `Builds the dispatcher from the current configuration and routes one request
through it, exactly as the HTTP API would. The response, including the serving
provider, cost and fallback path, is printed as JSON.`,
	Example: `  # Cheapest provider first
  dispatcher dispatch "Summarize this lead in one sentence"

  # Quality-first with a cost ceiling
  dispatcher dispatch --prompt "Draft an outreach email" --task outreach --strategy quality_optimized --max-cost 0.01`,
	Args: cobra.ArbitraryArgs,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchPrompt, "prompt", "p", "", "prompt text (alternative to positional arguments)")
	dispatchCmd.Flags().StringVar(&dispatchStrategy, "strategy", "", "routing strategy (default: ROUTING_STRATEGY)")
	dispatchCmd.Flags().StringVar(&dispatchCaller, "caller", "", "caller id for budget accounting")
	dispatchCmd.Flags().StringVar(&dispatchTaskType, "task", "", "task type label")
	dispatchCmd.Flags().StringVar(&dispatchSystem, "system", "", "system prompt")
	dispatchCmd.Flags().IntVar(&dispatchMaxTokens, "max-tokens", 1024, "maximum output tokens")
	dispatchCmd.Flags().Float64Var(&dispatchTemp, "temperature", 0.7, "sampling temperature (0 to 2)")
	dispatchCmd.Flags().Float64Var(&dispatchMaxCost, "max-cost", 0, "skip providers whose estimated cost exceeds this many USD")
	dispatchCmd.Flags().Int64Var(&dispatchMaxLatency, "max-latency", 0, "skip providers slower than this many milliseconds")
	dispatchCmd.Flags().DurationVar(&dispatchTimeout, "timeout", 2*time.Minute, "overall deadline")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	prompt := dispatchPrompt
	if prompt == "" {
		prompt = strings.Join(args, " ")
	} else if len(args) > 0 {
		return errors.New("pass the prompt either with --prompt or as arguments, not both")
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("a prompt is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), dispatchTimeout)
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	// Keep the output clean; errors are reported through the return value
	if logLevel == "" {
		cfg.Observability.LogLevel = "error"
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close(context.Background()) }()

	req := &routing.Request{
		Prompt:       prompt,
		SystemPrompt: dispatchSystem,
		TaskType:     routing.TaskType(dispatchTaskType),
		MaxTokens:    dispatchMaxTokens,
		Temperature:  dispatchTemp,
		CallerID:     dispatchCaller,
		Strategy:     routing.Strategy(dispatchStrategy),
	}
	if dispatchMaxCost > 0 || dispatchMaxLatency > 0 {
		req.Constraints = &routing.Constraints{
			MaxCostUSD:   dispatchMaxCost,
			MaxLatencyMs: dispatchMaxLatency,
		}
	}

	resp, err := deps.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return fmt.Errorf("dispatch failed (%s): %w", services.GetErrorType(services.Classify(err)), err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
