package cache

import (
	"encoding/json"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// ScoreCache stores validated per-category member scores
type ScoreCache struct {
	backend Cache
	ttl     time.Duration
}

// NewScoreCache wraps a byte cache. A nil backend yields a cache that never hits.
func NewScoreCache(backend Cache, ttl time.Duration) *ScoreCache {
	return &ScoreCache{backend: backend, ttl: ttl}
}

// Get returns cached scores for a member and text
func (c *ScoreCache) Get(member string, categories []model.Category, text string) (map[model.Category]float64, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}
	data, ok := c.backend.Get(CacheKey(member, categories, text))
	if !ok {
		return nil, false
	}
	var scores map[model.Category]float64
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, false
	}
	return scores, true
}

// Set stores scores for a member and text
func (c *ScoreCache) Set(member string, categories []model.Category, text string, scores map[model.Category]float64) error {
	if c == nil || c.backend == nil {
		return nil
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	return c.backend.Set(CacheKey(member, categories, text), data, c.ttl)
}
