package payments

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Registry deduplicates webhook deliveries. Register reports whether the key
// was seen for the first time.
type Registry interface {
	Register(ctx context.Context, key string) (first bool, err error)
}

// MemoryRegistry is a process-local Registry for tests and single-node runs.
type MemoryRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{seen: make(map[string]struct{})}
}

func (r *MemoryRegistry) Register(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	return true, nil
}

// RedisRegistry deduplicates deliveries across instances with SETNX and a
// TTL, so the dedup window survives restarts without growing unbounded.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a registry on the given client. A zero ttl
// defaults to 24 hours.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{
		client: client,
		ttl:    ttl,
		prefix: "magicledger:delivery:",
	}
}

func (r *RedisRegistry) Register(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
}
