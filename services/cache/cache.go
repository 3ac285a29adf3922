// Package cache stores dispatch responses keyed by the request content so
// identical requests can be answered without a provider call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
)

// KeyPrefix namespaces cache entries; bump the version when the cached shape changes
const KeyPrefix = "llmcache:v1:"

// Key returns the cache key for a request. Only fields that influence the
// completion text take part; routing preferences and caller identity do not.
func Key(req *routing.Request) string {
	h := sha256.New()
	for _, part := range []string{
		string(req.TaskType),
		req.SystemPrompt,
		req.Prompt,
		strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		strconv.Itoa(req.MaxTokens),
	} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Stats represents cache statistics
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size,omitempty"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func encode(resp *routing.Response) ([]byte, error) {
	return json.Marshal(resp)
}

func decode(data []byte) (*routing.Response, error) {
	var resp routing.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
