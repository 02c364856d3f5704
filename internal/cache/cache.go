package cache

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin namespaced wrapper over a Redis client.
type Cache struct {
	client redis.UniversalClient // works with both single and cluster
}

// NewCache connects to Redis. A comma separated addr with more than one
// entry selects a cluster client.
func NewCache(addr, password string) *Cache {
	addrs := strings.Split(addr, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	var rdb redis.UniversalClient
	if len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       0,
		})
	}

	return &Cache{client: rdb}
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func key(namespace, k string) string {
	return namespace + ":" + k
}

func (c *Cache) get(ctx context.Context, namespace, k string) ([]byte, error) {
	return c.client.Get(ctx, key(namespace, k)).Bytes()
}

