package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers/anthropic"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers/bedrock"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers/openai"
)

// BuildProvider creates the adapter serving cfg.Kind. Client-side throttling
// is applied by the dispatcher when the provider is registered.
func BuildProvider(ctx context.Context, cfg providers.ProviderConfig) (providers.Provider, error) {
	switch cfg.Kind {
	case providers.KindOpenAI, providers.KindOpenRouter, providers.KindCerebras:
		return openai.NewAdapter(cfg)
	case providers.KindAnthropic:
		return anthropic.NewAdapter(cfg)
	case providers.KindBedrock:
		// Bedrock authenticates through the default AWS credential chain
		return bedrock.NewAdapter(ctx, cfg, bedrock.Credentials{})
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
}

// BuildProviders creates an adapter for every catalog entry
func BuildProviders(ctx context.Context, catalog []providers.ProviderConfig, logger *zap.Logger) ([]providers.Provider, error) {
	out := make([]providers.Provider, 0, len(catalog))
	for _, cfg := range catalog {
		p, err := BuildProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.APIKeyEnv != "" && cfg.APIKey == "" {
			logger.Warn("provider credential not set, calls will be rejected",
				zap.String("provider", cfg.Name),
				zap.String("api_key_env", cfg.APIKeyEnv))
		}
		logger.Info("registered provider",
			zap.String("provider", cfg.Name),
			zap.String("kind", string(cfg.Kind)),
			zap.String("model", cfg.Model))
		out = append(out, p)
	}
	return out, nil
}
