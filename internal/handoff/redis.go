package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// redisTransitionScript moves one category flag and appends the audit event atomically.
// KEYS[1] = flag hash
// KEYS[2] = event list
// ARGV[1] = category
// ARGV[2] = target flag ("1" review enabled, "0" auto-accept)
// ARGV[3] = event JSON
// A missing field counts as review enabled.
var redisTransitionScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
    current = "1"
end
if current == ARGV[2] then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("RPUSH", KEYS[2], ARGV[3])
return 1
`)

// RedisState shares handoff flags between processes through a Redis hash
type RedisState struct {
	client     redis.UniversalClient
	key        string
	categories *model.CategorySet
	now        func() time.Time
}

// NewRedisState connects to Redis and seeds missing flags without overwriting shared ones
func NewRedisState(ctx context.Context, cfg model.RedisConfig, categories *model.CategorySet, initial map[model.Category]bool) (*RedisState, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	s := NewRedisStateWithClient(rdb, cfg.Key, categories)
	if err := s.Seed(ctx, initial); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisStateWithClient wraps an existing client
func NewRedisStateWithClient(client redis.UniversalClient, key string, categories *model.CategorySet) *RedisState {
	if key == "" {
		key = "processor:handoff"
	}
	return &RedisState{client: client, key: key, categories: categories, now: time.Now}
}

// Seed writes initial flags for categories that have no shared value yet
func (s *RedisState) Seed(ctx context.Context, initial map[model.Category]bool) error {
	for _, c := range s.categories.All() {
		v, ok := initial[c]
		enabled := !ok || v
		if err := s.client.HSetNX(ctx, s.key, string(c), flag(enabled)).Err(); err != nil {
			return fmt.Errorf("seed %s: %w", c, err)
		}
	}
	return nil
}

// Close releases the client
func (s *RedisState) Close() error {
	return s.client.Close()
}

func (s *RedisState) eventsKey() string {
	return s.key + ":events"
}

func (s *RedisState) ReviewEnabled(ctx context.Context, category model.Category) (bool, error) {
	if !s.categories.Contains(category) {
		return true, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	v, err := s.client.HGet(ctx, s.key, string(category)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("redis hget: %w", err)
	}
	return v != "0", nil
}

func (s *RedisState) Snapshot(ctx context.Context) (map[model.Category]bool, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[model.Category]bool, s.categories.Len())
	for _, c := range s.categories.All() {
		v, ok := raw[string(c)]
		out[c] = !ok || v != "0"
	}
	return out, nil
}

func (s *RedisState) Promote(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return s.transition(ctx, category, false, actor, reason, mark)
}

func (s *RedisState) Revert(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return s.transition(ctx, category, true, actor, reason, mark)
}

func (s *RedisState) transition(ctx context.Context, category model.Category, to bool, actor, reason string, mark model.MetricsMark) (bool, error) {
	if !s.categories.Contains(category) {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	event, err := json.Marshal(model.HandoffEvent{
		Category: category,
		From:     !to,
		To:       to,
		Actor:    actor,
		Reason:   reason,
		Mark:     mark,
		At:       s.now().UTC(),
	})
	if err != nil {
		return false, err
	}

	changed, err := redisTransitionScript.Run(ctx, s.client,
		[]string{s.key, s.eventsKey()}, string(category), flag(to), string(event)).Int()
	if err != nil {
		return false, fmt.Errorf("redis transition: %w", err)
	}
	return changed == 1, nil
}

func (s *RedisState) Events(ctx context.Context, category model.Category, limit int) ([]model.HandoffEvent, error) {
	raw, err := s.client.LRange(ctx, s.eventsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	events := make([]model.HandoffEvent, 0, len(raw))
	for _, r := range raw {
		var e model.HandoffEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return filterEvents(events, category, limit), nil
}

func flag(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}
