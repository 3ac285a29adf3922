package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// catalogFile is the on-disk layout of the provider catalog
type catalogFile struct {
	Providers []providers.ProviderConfig `yaml:"providers"`
}

var knownKinds = map[providers.Kind]bool{
	providers.KindOpenAI:     true,
	providers.KindOpenRouter: true,
	providers.KindCerebras:   true,
	providers.KindAnthropic:  true,
	providers.KindBedrock:    true,
}

// LoadProviders reads the provider catalog from a YAML file
func LoadProviders(path string) ([]providers.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes a YAML provider catalog, resolves API keys from the
// environment and applies per-provider defaults
func ParseProviders(data []byte) ([]providers.ProviderConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid provider catalog: %w", err)
	}

	defaults := providers.DefaultProviderConfig()
	seen := make(map[string]bool, len(file.Providers))
	out := make([]providers.ProviderConfig, 0, len(file.Providers))

	for i, p := range file.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate provider %s", p.Name)
		}
		seen[p.Name] = true

		if !knownKinds[p.Kind] {
			return nil, fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if p.Model == "" {
			return nil, fmt.Errorf("provider %s: model is required", p.Name)
		}
		if p.InputCostPerToken < 0 || p.OutputCostPerToken < 0 {
			return nil, fmt.Errorf("provider %s: costs must not be negative", p.Name)
		}
		if p.Timeout < 0 || p.TypicalLatency < 0 {
			return nil, fmt.Errorf("provider %s: durations must not be negative", p.Name)
		}
		if p.RequestsPerSecond < 0 || p.Burst < 0 {
			return nil, fmt.Errorf("provider %s: rate limit must not be negative", p.Name)
		}

		if p.Timeout == 0 {
			p.Timeout = defaults.Timeout
		}
		if p.TypicalLatency == 0 {
			p.TypicalLatency = defaults.TypicalLatency
		}
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}

		out = append(out, p)
	}

	return out, nil
}
