package breaker

import (
	"testing"
	"time"
)

func TestClosed_AllowsByDefault(t *testing.T) {
	b := New(DefaultConfig())
	admitted, _ := b.Allow(time.Now())
	if !admitted {
		t.Fatal("expected Closed breaker to admit calls")
	}
}

func TestOpensOnConsecutiveFailures(t *testing.T) {
	b := New(DefaultConfig())
	now := time.Now()

	for i := int64(0); i < DefaultConfig().ConsecutiveFailureThreshold; i++ {
		admitted, _ := b.Allow(now)
		if !admitted {
			t.Fatalf("call %d: expected admission before breaker trips", i)
		}
		b.RecordFailure(now, false)
	}

	if b.State() != Open {
		t.Fatalf("state = %s, want open after %d consecutive failures", b.State(), DefaultConfig().ConsecutiveFailureThreshold)
	}

	admitted, _ := b.Allow(now)
	if admitted {
		t.Error("P6 violated: open breaker must fast-fail without admitting the call")
	}
}

func TestOpenToHalfOpenAfterCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New(cfg)
	now := time.Now()

	for i := int64(0); i < cfg.ConsecutiveFailureThreshold; i++ {
		b.Allow(now)
		b.RecordFailure(now, false)
	}
	if b.State() != Open {
		t.Fatal("expected open")
	}

	later := now.Add(20 * time.Millisecond)
	admitted, isProbe := b.Allow(later)
	if !admitted || !isProbe {
		t.Fatal("expected a single admitted probe after cooldown")
	}

	// A second concurrent caller must not also be admitted as a probe.
	admitted2, _ := b.Allow(later)
	if admitted2 {
		t.Error("single-flight probe admission violated: second caller admitted during half-open")
	}
}

func TestHalfOpenProbeSuccess_ClosesBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New(cfg)
	now := time.Now()
	for i := int64(0); i < cfg.ConsecutiveFailureThreshold; i++ {
		b.Allow(now)
		b.RecordFailure(now, false)
	}

	later := now.Add(20 * time.Millisecond)
	_, isProbe := b.Allow(later)
	if !isProbe {
		t.Fatal("expected probe admission")
	}
	b.RecordSuccess(true)

	if b.State() != Closed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
	admitted, _ := b.Allow(later)
	if !admitted {
		t.Error("expected closed breaker to admit calls again")
	}
}

func TestHalfOpenProbeFailure_ReopensWithCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New(cfg)
	now := time.Now()
	for i := int64(0); i < cfg.ConsecutiveFailureThreshold; i++ {
		b.Allow(now)
		b.RecordFailure(now, false)
	}

	later := now.Add(20 * time.Millisecond)
	b.Allow(later)
	b.RecordFailure(later, true)

	if b.State() != Open {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
	admitted, _ := b.Allow(later.Add(time.Millisecond))
	if admitted {
		t.Error("expected extended cooldown to still block calls immediately after probe failure")
	}
}

func TestFailureRatioTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 1000 // disable consecutive path
	cfg.MinRequestsInWindow = 4
	cfg.FailureRatioThreshold = 0.5
	b := New(cfg)
	now := time.Now()

	outcomes := []bool{true, false, false, false}
	for _, ok := range outcomes {
		b.Allow(now)
		if ok {
			b.RecordSuccess(false)
		} else {
			b.RecordFailure(now, false)
		}
	}

	if b.State() != Open {
		t.Errorf("state = %s, want open after 3/4 failures crossing 50%% threshold", b.State())
	}
}
