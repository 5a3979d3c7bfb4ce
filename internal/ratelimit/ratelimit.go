// Package ratelimit implements Tracehound's per-source fixed-window Rate
// Limiter: block-on-exceed with lazy window reset and lazy expiry. The
// concurrent per-key state table is grounded on the sync.Map + atomic
// bookkeeping idiom used by the reference corpus's own rate limiter
// service, adapted from that service's token-bucket semantics to the
// fixed-window semantics this spec requires — the concurrency-safe
// per-key map shape is kept, the refill algorithm is replaced.
//
// Redis-backed cross-instance coordination (used by that reference service
// for multi-instance deployments) is deliberately not wired in here: the
// spec is explicit that cluster coordination is the consumer's problem.
package ratelimit

import (
	"sync"
	"time"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/notify"
)

// Config configures the fixed-window limiter. All three durations must be
// strictly positive except BlockDuration, which may be zero (no block
// period — the source is simply allowed again once its window resets).
type Config struct {
	WindowMs        int64
	MaxRequests     int
	BlockDurationMs int64
}

// Validate checks the strictly-positive invariants named in §4.8.
func (c Config) Validate() *errs.Error {
	if c.WindowMs <= 0 {
		return errs.New(errs.DomainRateLimit, errs.RuntimeFlagMissing, "windowMs must be strictly positive")
	}
	if c.MaxRequests <= 0 {
		return errs.New(errs.DomainRateLimit, errs.RuntimeFlagMissing, "maxRequests must be strictly positive")
	}
	if c.BlockDurationMs < 0 {
		return errs.New(errs.DomainRateLimit, errs.RuntimeFlagMissing, "blockDurationMs must not be negative")
	}
	return nil
}

// CheckResult reports the outcome of Check.
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration // valid only when !Allowed
}

type sourceState struct {
	mu           sync.Mutex
	count        int
	windowStart  int64 // ms since epoch
	blockedUntil int64 // ms since epoch; 0 = not blocked
	lastTouched  int64 // ms since epoch, for cleanup
}

// Limiter is a per-source fixed-window rate limiter. Safe for concurrent
// use.
type Limiter struct {
	cfg Config
	bus *notify.Bus

	mu      sync.Mutex
	sources map[string]*sourceState

	now func() time.Time // overridable for tests
}

// New constructs a Limiter from cfg. cfg is validated; an invalid cfg
// returns a non-nil error.
func New(cfg Config) (*Limiter, *errs.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:     cfg,
		sources: make(map[string]*sourceState),
		now:     time.Now,
	}, nil
}

// SetNotifyBus wires the Notification Bus publish target. Called once at
// system wiring time, before any concurrent Check traffic begins.
func (l *Limiter) SetNotifyBus(bus *notify.Bus) { l.bus = bus }

func (l *Limiter) nowMs() int64 {
	return l.now().UnixMilli()
}

func (l *Limiter) stateFor(source string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sources[source]
	if !ok {
		st = &sourceState{}
		l.sources[source] = st
	}
	return st
}

// Check consults and updates source's fixed window. If currently blocked,
// it rejects with the remaining block duration. Otherwise it resets an
// expired window, increments the count, and blocks on overflow.
func (l *Limiter) Check(source string) CheckResult {
	st := l.stateFor(source)
	now := l.nowMs()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastTouched = now

	if st.blockedUntil > 0 && now < st.blockedUntil {
		return CheckResult{Allowed: false, RetryAfter: time.Duration(st.blockedUntil-now) * time.Millisecond}
	}

	if st.windowStart == 0 || now-st.windowStart >= l.cfg.WindowMs {
		st.windowStart = now
		st.count = 0
		st.blockedUntil = 0
	}

	st.count++
	if st.count > l.cfg.MaxRequests {
		st.blockedUntil = now + l.cfg.BlockDurationMs
		if l.bus != nil {
			l.bus.Publish(notify.EventRateLimitExceeded, source)
		}
		return CheckResult{Allowed: false, RetryAfter: time.Duration(l.cfg.BlockDurationMs) * time.Millisecond}
	}

	return CheckResult{Allowed: true}
}

// Reset clears source's entry entirely, as if it had never been seen.
func (l *Limiter) Reset(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sources, source)
}

// Cleanup drops entries that have been idle for longer than
// windowMs+blockDurationMs, to bound the table's memory growth. It is a
// separate pass, never invoked implicitly by Check.
func (l *Limiter) Cleanup() int {
	cutoff := l.cfg.WindowMs + l.cfg.BlockDurationMs
	now := l.nowMs()

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for source, st := range l.sources {
		st.mu.Lock()
		idle := now-st.lastTouched >= cutoff
		st.mu.Unlock()
		if idle {
			delete(l.sources, source)
			dropped++
		}
	}
	return dropped
}
