package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror is the optional distributed read-through mirror described in
// SPEC_FULL.md §3, grounded on original_source/controller/src/cache.rs's
// RedisPoolTrait/cache_wasm_module design and re-homed onto
// github.com/redis/go-redis/v9 (sourced from the ggoodman-mcp-server-go
// example's go.mod). Activated only when REDIS_CACHE_URL is configured;
// it is never the system of record for single-flight coordination.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror dials url (a redis:// connection string) and returns a
// Mirror backed by it.
func NewRedisMirror(url, prefix string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisMirror{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (m *RedisMirror) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.client.Set(ctx, m.prefix+key, value, ttl).Err()
}

// Get is exposed for read-through lookups outside the in-process cache
// (e.g. warming a freshly-started controller instance from a peer's
// build); not part of the Mirror interface since the in-process map
// always decides Ready/Building/Idle.
func (m *RedisMirror) Get(ctx context.Context, key string) ([]byte, error) {
	return m.client.Get(ctx, m.prefix+key).Bytes()
}

func (m *RedisMirror) Close() error { return m.client.Close() }
