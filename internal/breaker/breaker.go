// Package breaker implements a per-endpoint three-state circuit breaker
// (spec.md §4.4). No teacher file or example repo implements this; it is
// built fresh in the teacher's own concurrency idiom. The state, the
// outcome window and the consecutive-failure count are plain fields
// guarded by one short-held mutex that every Allow/Record call takes and
// that is never held across a network call; only the half-open probe flag
// is an atomic.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes breaker transitions. New replaces a Config whose
// FailureRatioThreshold is zero with DefaultConfig as a whole.
type Config struct {
	// FailureRatioThreshold trips Closed->Open when the rolling window's
	// failure ratio crosses this value (default 0.5).
	FailureRatioThreshold float64
	// MinRequestsInWindow is the minimum sample size before the ratio
	// threshold is evaluated (default 5).
	MinRequestsInWindow int64
	// ConsecutiveFailureThreshold trips Closed->Open independent of the
	// ratio window (default 5).
	ConsecutiveFailureThreshold int64
	// Cooldown is how long Open holds before allowing a HalfOpen probe
	// (default 30s).
	Cooldown time.Duration
	// WindowSize bounds how many recent outcomes count toward the ratio
	// (default 20).
	WindowSize int
}

// DefaultConfig returns spec.md §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureRatioThreshold:       0.5,
		MinRequestsInWindow:         5,
		ConsecutiveFailureThreshold: 5,
		Cooldown:                    30 * time.Second,
		WindowSize:                  20,
	}
}

// Breaker guards a single runtime endpoint.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	openUntil   time.Time
	window      []bool // true = success, ring buffer
	windowPos   int
	windowFull  bool
	consecutive int64

	probeInFlight atomic.Bool
}

// New constructs a Breaker. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *Breaker {
	if cfg.FailureRatioThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		cfg:    cfg,
		state:  Closed,
		window: make([]bool, cfg.WindowSize),
	}
}

// Allow reports whether a call may proceed right now, and whether this
// call (if admitted while the breaker is HalfOpen) is the single admitted
// probe. Callers that are not admitted must fail fast with CircuitOpen
// (P6) without making a network call.
func (b *Breaker) Allow(now time.Time) (admitted bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		if now.Before(b.openUntil) {
			return false, false
		}
		b.state = HalfOpen
		fallthrough
	case HalfOpen:
		// Single-flight probe admission: only one caller transitions the
		// atomic flag from false to true and becomes the probe.
		if b.probeInFlight.CompareAndSwap(false, true) {
			return true, true
		}
		return false, false
	}
	return false, false
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess(wasProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordOutcome(true)
	b.consecutive = 0

	if b.state == HalfOpen && wasProbe {
		b.state = Closed
		b.probeInFlight.Store(false)
		b.resetWindow()
	}
}

// RecordFailure reports a failed call outcome and returns the resulting
// state for logging/metrics.
func (b *Breaker) RecordFailure(now time.Time, wasProbe bool) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordOutcome(false)
	b.consecutive++

	if b.state == HalfOpen && wasProbe {
		b.openWithCooldown(now)
		b.probeInFlight.Store(false)
		return b.state
	}

	if b.consecutive >= b.cfg.ConsecutiveFailureThreshold {
		b.openWithCooldown(now)
		return b.state
	}

	if ratio, n := b.failureRatio(); n >= b.cfg.MinRequestsInWindow && ratio >= b.cfg.FailureRatioThreshold {
		b.openWithCooldown(now)
	}
	return b.state
}

// State returns the current breaker state (for health/metrics reporting).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) openWithCooldown(now time.Time) {
	b.state = Open
	b.openUntil = now.Add(b.cfg.Cooldown)
}

func (b *Breaker) recordOutcome(success bool) {
	b.window[b.windowPos] = success
	b.windowPos = (b.windowPos + 1) % len(b.window)
	if b.windowPos == 0 {
		b.windowFull = true
	}
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowPos = 0
	b.windowFull = false
}

func (b *Breaker) failureRatio() (ratio float64, n int64) {
	size := len(b.window)
	if b.windowFull {
		n = int64(size)
	} else {
		n = int64(b.windowPos)
	}
	if n == 0 {
		return 0, 0
	}
	var failures int64
	for i := int64(0); i < n; i++ {
		if !b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(n), n
}
