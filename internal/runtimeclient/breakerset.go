package runtimeclient

import (
	"sync"

	"functionctl/internal/breaker"
)

// breakerSet lazily creates and retains one breaker.Breaker per endpoint
// key, guarded by a short-held mutex never held across the breaker's own
// (lock-free from this package's view) Allow/Record calls.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*breaker.Breaker)}
}

func (s *breakerSet) get(key string) *breaker.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = breaker.New(breaker.DefaultConfig())
		s.breakers[key] = b
	}
	return b
}
