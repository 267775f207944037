// Package cache implements the Artifact Cache (C2): a keyed store of
// compiled artifacts with single-flight build coordination (spec.md
// §4.2). Grounded on golang.org/x/sync/singleflight, sourced from the
// ebrakke-gopherclaw example's go.mod, which gives G1 directly from the
// library instead of a hand-rolled waiter list.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Builder produces the bytes for a cache key on a miss.
type Builder func(ctx context.Context) ([]byte, error)

// Mirror is an optional distributed sink a Ready entry is copied to after
// a successful build (the Redis mirror described in SPEC_FULL.md §3).
// GetOrBuild only writes to it and never reads from it; it never
// participates in single-flight coordination, and the in-process map stays
// the system of record for G1-G4.
type Mirror interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type entry struct {
	bytes     []byte
	expiresAt time.Time
}

// Cache implements get_or_build with the Idle/Building/Ready state machine
// of spec.md §4.2. The mutex here only ever guards the map itself, never a
// build call — builds run outside the lock via singleflight.Group, whose
// own mutex (one for all keys) is held only long enough to
// register/deregister a caller, never across the builder's execution.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	group   singleflight.Group
	mirror  Mirror
}

// New constructs an Artifact Cache with the given default TTL
// (CACHE_TTL_SECONDS, default 3600s per spec.md §6). mirror may be nil.
func New(ttl time.Duration, mirror Mirror) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		mirror:  mirror,
	}
}

// GetOrBuild returns the cached bytes for key, building them via build if
// absent or expired. G1: at most one build in flight per key across all
// callers. G2: a Ready entry is visible until TTL or invalidation. G3: a
// failed build is never cached. G4: all waiters of a cohort observe the
// same result.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build Builder) ([]byte, error) {
	if b, ok := c.readReady(key); ok {
		return b, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the singleflight leader in case another cohort's
		// build completed between our miss above and becoming the leader.
		if b, ok := c.readReady(key); ok {
			return b, nil
		}
		b, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, b)
		if c.mirror != nil {
			// Best-effort; mirror failures never fail the build (G2/G3
			// only govern the in-process system of record).
			_ = c.mirror.Set(context.WithoutCancel(ctx), key, b, c.ttl)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes key unconditionally.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) readReady(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.bytes, true
}

func (c *Cache) store(key string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{bytes: b, expiresAt: time.Now().Add(c.ttl)}
}
