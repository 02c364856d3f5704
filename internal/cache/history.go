package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	historyNamespace    = "networth:history"
	generationNamespace = "networth:history:gen"
)

// setIfGenerationScript writes the history only while the generation key
// still holds the expected value. A missing generation counts as 0.
var setIfGenerationScript = redis.NewScript(`
	local cur = redis.call("get", KEYS[1])
	if not cur then
		cur = "0"
	end
	if cur ~= ARGV[1] then
		return 0
	end
	redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
	return 1
`)

// userKey wraps the id in a hash tag so both keys of a user share one
// cluster slot.
func userKey(userID string) string {
	return "{" + userID + "}"
}

// DefaultHistoryTTL bounds staleness when an invalidation is missed.
const DefaultHistoryTTL = 10 * time.Minute

// HistoryCache stores computed net worth histories as JSON, keyed by user.
type HistoryCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewHistoryCache creates a HistoryCache. A non-positive ttl selects DefaultHistoryTTL.
func NewHistoryCache(c *Cache, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &HistoryCache{cache: c, ttl: ttl}
}

// Get returns the cached history, or ok=false on a miss.
func (h *HistoryCache) Get(ctx context.Context, userID string) (*domain.NetWorthHistory, bool, error) {
	data, err := h.cache.get(ctx, historyNamespace, userKey(userID))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("HistoryCache.Get: %w", err)
	}

	history, err := decodeHistory(data)
	if err != nil {
		return nil, false, fmt.Errorf("HistoryCache.Get: %w", err)
	}
	return history, true, nil
}

// Generation returns the user's invalidation counter, 0 if never invalidated.
func (h *HistoryCache) Generation(ctx context.Context, userID string) (int64, error) {
	n, err := h.cache.client.Get(ctx, key(generationNamespace, userKey(userID))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("HistoryCache.Generation: %w", err)
	}
	return n, nil
}

// SetIfGeneration stores the history for the configured ttl unless the
// user was invalidated since generation was read.
func (h *HistoryCache) SetIfGeneration(ctx context.Context, userID string, generation int64, history *domain.NetWorthHistory) (bool, error) {
	data, err := json.Marshal(history)
	if err != nil {
		return false, fmt.Errorf("HistoryCache.SetIfGeneration: encoding: %w", err)
	}

	keys := []string{
		key(generationNamespace, userKey(userID)),
		key(historyNamespace, userKey(userID)),
	}
	n, err := setIfGenerationScript.Run(ctx, h.cache.client, keys,
		strconv.FormatInt(generation, 10), data, h.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("HistoryCache.SetIfGeneration: %w", err)
	}
	return n == 1, nil
}

// Invalidate bumps the user's generation and drops the cached history.
func (h *HistoryCache) Invalidate(ctx context.Context, userID string) error {
	_, err := h.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key(generationNamespace, userKey(userID)))
		pipe.Del(ctx, key(historyNamespace, userKey(userID)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("HistoryCache.Invalidate: %w", err)
	}
	return nil
}

func decodeHistory(data []byte) (*domain.NetWorthHistory, error) {
	var history domain.NetWorthHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	if history.Points == nil {
		history.Points = []domain.NetWorthPoint{}
	}
	return &history, nil
}
