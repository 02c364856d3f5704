package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseNamespace = "networth:lease"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out per-key leases with SET NX.
type Locker struct {
	cache *Cache
}

// NewLocker creates a Locker.
func NewLocker(c *Cache) *Locker {
	return &Locker{cache: c}
}

// Acquire takes the lease or returns domain.ErrRecalculationInProgress if
// another holder has it. The returned func releases it when still owned.
func (l *Locker) Acquire(ctx context.Context, k string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := key(leaseNamespace, k)
	token := uuid.NewString()

	ok, err := l.cache.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("Locker.Acquire: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("Locker.Acquire: %s: %w", k, domain.ErrRecalculationInProgress)
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.cache.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("Locker.Release: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("Locker.Release: lease %s expired before release", k)
		}
		return nil
	}, nil
}
