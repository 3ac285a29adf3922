package routing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// Default score tables, higher is better. Providers may be scored by name
// through Config; otherwise their kind's score applies.
var (
	defaultLatencyScores = map[providers.Kind]float64{
		providers.KindCerebras:   1.0,
		providers.KindOpenAI:     0.7,
		providers.KindOpenRouter: 0.6,
		providers.KindAnthropic:  0.5,
		providers.KindBedrock:    0.4,
	}

	defaultQualityScores = map[providers.Kind]float64{
		providers.KindAnthropic:  0.95,
		providers.KindBedrock:    0.9,
		providers.KindOpenAI:     0.9,
		providers.KindOpenRouter: 0.75,
		providers.KindCerebras:   0.7,
	}
)

// ParseWeights parses a weights string into a map.
// Format: "provider1:weight1,provider2:weight2" (e.g., "cerebras:80,anthropic:20")
// Weights are normalized to sum to 1.0.
func ParseWeights(weightsStr string) (map[string]float64, error) {
	weights := make(map[string]float64)

	if strings.TrimSpace(weightsStr) == "" {
		return weights, nil
	}

	for _, part := range strings.Split(weightsStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.Split(part, ":")
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid weight format '%s', expected 'provider:weight'", part)
		}

		provider := strings.TrimSpace(kv[0])
		weightStr := strings.TrimSpace(kv[1])

		weight, err := strconv.ParseFloat(weightStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight value '%s' for provider '%s': %w", weightStr, provider, err)
		}
		if weight < 0 {
			return nil, fmt.Errorf("negative weight %f for provider '%s'", weight, provider)
		}

		weights[provider] = weight
	}

	return normalize(weights), nil
}

func normalize(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	out := make(map[string]float64, len(weights))
	for name, w := range weights {
		if total > 0 {
			out[name] = w / total
		} else {
			out[name] = 0
		}
	}
	return out
}

// scoreOf returns the strategy score of a provider, preferring a name override
func scoreOf(cfg providers.ProviderConfig, overrides map[string]float64, defaults map[providers.Kind]float64) float64 {
	if s, ok := overrides[cfg.Name]; ok {
		return s
	}
	return defaults[cfg.Kind]
}

// byCost sorts candidates by ascending per-token cost, then name
func byCost(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		ci, cj := cands[i].Config().CostPerToken(), cands[j].Config().CostPerToken()
		if ci != cj {
			return ci < cj
		}
		return cands[i].Name() < cands[j].Name()
	})
}

// byScore sorts candidates by descending score with ties broken by cost
func byScore(cands []*Candidate, overrides map[string]float64, defaults map[providers.Kind]float64) {
	byCost(cands)
	sort.SliceStable(cands, func(i, j int) bool {
		return scoreOf(cands[i].Config(), overrides, defaults) > scoreOf(cands[j].Config(), overrides, defaults)
	})
}

// order returns a fresh, ordered copy of cands for the strategy
func (r *Router) order(strategy Strategy, cands []*Candidate) []*Candidate {
	ordered := append([]*Candidate(nil), cands...)

	switch strategy {
	case StrategyLatencyOptimized:
		byScore(ordered, r.config.LatencyScores, defaultLatencyScores)
	case StrategyQualityOptimized:
		byScore(ordered, r.config.QualityScores, defaultQualityScores)
	case StrategyBalanced:
		byCost(ordered)
		if primary := r.selectWeighted(ordered); primary > 0 {
			chosen := ordered[primary]
			copy(ordered[1:primary+1], ordered[:primary])
			ordered[0] = chosen
		}
	default:
		byCost(ordered)
	}

	return ordered
}

// selectWeighted performs weighted random selection over cost-ordered
// candidates and returns the index of the primary. Providers without a
// weight never become primary; with no usable weights the cheapest leads.
func (r *Router) selectWeighted(cands []*Candidate) int {
	totalWeight := 0.0
	for _, c := range cands {
		totalWeight += r.config.BalancedWeights[c.Name()]
	}
	if totalWeight <= 0 {
		return 0
	}

	x := r.random() * totalWeight
	last := 0
	for i, c := range cands {
		w := r.config.BalancedWeights[c.Name()]
		if w <= 0 {
			continue
		}
		last = i
		x -= w
		if x < 0 {
			return i
		}
	}
	return last
}
