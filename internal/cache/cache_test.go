package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrBuild_SingleFlight(t *testing.T) {
	c := New(time.Minute, nil)
	var calls atomic.Int64

	build := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("artifact"), nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([][]byte, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			b, err := c.GetOrBuild(context.Background(), "k", build)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("P3/G1 violated: builder invoked %d times, want 1", got)
	}
	for i, r := range results {
		if string(r) != "artifact" {
			t.Errorf("G4 violated: caller %d got %q, want %q", i, r, "artifact")
		}
	}
}

func TestGetOrBuild_FailureNotCached(t *testing.T) {
	c := New(time.Minute, nil)
	var calls atomic.Int64
	failing := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("build failed")
	}

	_, err := c.GetOrBuild(context.Background(), "k", failing)
	if err == nil {
		t.Fatal("expected build error to propagate")
	}

	succeeding := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("ok"), nil
	}
	b, err := c.GetOrBuild(context.Background(), "k", succeeding)
	if err != nil {
		t.Fatalf("G3 violated: expected retry to succeed, got %v", err)
	}
	if string(b) != "ok" {
		t.Errorf("got %q, want ok", b)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 builder invocations (1 failed + 1 retry), got %d", calls.Load())
	}
}

func TestGetOrBuild_ReadyUntilExpiry(t *testing.T) {
	c := New(20*time.Millisecond, nil)
	var calls atomic.Int64
	build := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	c.GetOrBuild(context.Background(), "k", build)
	c.GetOrBuild(context.Background(), "k", build)
	if calls.Load() != 1 {
		t.Fatalf("G2 violated: expected cached hit to avoid rebuild, got %d calls", calls.Load())
	}

	time.Sleep(30 * time.Millisecond)
	c.GetOrBuild(context.Background(), "k", build)
	if calls.Load() != 2 {
		t.Errorf("expected rebuild after TTL expiry, got %d calls", calls.Load())
	}
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute, nil)
	c.GetOrBuild(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	c.Invalidate("k")

	var calls atomic.Int64
	c.GetOrBuild(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v2"), nil
	})
	if calls.Load() != 1 {
		t.Error("expected invalidated key to rebuild")
	}
}
