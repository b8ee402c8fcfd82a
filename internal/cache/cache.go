package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// Cache defines the interface for byte caches
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey identifies one member's scores for one text against one category set.
// Whitespace differences in the text do not change the key.
func CacheKey(member string, categories []model.Category, text string) string {
	h := sha256.New()
	h.Write([]byte(member))
	h.Write([]byte{0})
	for _, c := range categories {
		h.Write([]byte(c))
		h.Write([]byte{','})
	}
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(text), " ")))
	return "processor:v1:" + hex.EncodeToString(h.Sum(nil))
}

// New builds the configured cache, or nil when caching is disabled
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Dir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
}
