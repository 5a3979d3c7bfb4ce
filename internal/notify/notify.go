// Package notify implements the Notification bus and the Security State
// aggregate. The bus is adapted from the teacher's websocket.Broadcaster:
// the same registry-of-subscribers, non-blocking-delivery shape (here a
// plain map guarded by a mutex rather than a sync.Map), but each
// subscriber owns a mutex-guarded bounded queue that drops its OLDEST
// entry on overflow (the teacher's non-blocking channel send drops the
// NEWEST message instead — this package deliberately inverts that so a
// slow pull subscriber always sees the most recent security events, not
// the stalest backlog).
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracehound/tracehound/internal/scent"
)

// EventKind enumerates the bus's seven event types.
type EventKind string

const (
	EventThreatDetected      EventKind = "threat.detected"
	EventEvidenceQuarantined EventKind = "evidence.quarantined"
	EventEvidenceEvicted     EventKind = "evidence.evicted"
	EventRateLimitExceeded   EventKind = "rate_limit.exceeded"
	EventLicenseValidated    EventKind = "license.validated"
	EventLicenseExpired      EventKind = "license.expired"
	EventSystemPanic         EventKind = "system.panic"
)

// Event is one bus message.
type Event struct {
	Kind      EventKind
	Payload   any
	Timestamp time.Time
}

const defaultQueueCapacity = 64

type subscription struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	notify   chan struct{}
	closed   bool
	dropped  atomic.Int64
}

func newSubscription(capacity int) *subscription {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &subscription{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Subscription is the pull-style handle returned by Bus.Subscribe.
type Subscription struct {
	id   string
	sub  *subscription
	bus  *Bus
}

// Next blocks until an event is available, ctx is cancelled, or the
// subscription is released, returning ok=false in the latter two cases.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	for {
		if ev, ok := s.sub.pop(); ok {
			return ev, true
		}
		select {
		case _, open := <-s.sub.notify:
			if !open {
				return Event{}, false
			}
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// Dropped returns the count of events dropped for this subscription due to
// queue overflow.
func (s *Subscription) Dropped() int64 { return s.sub.dropped.Load() }

// Release cancels the subscription cleanly, unblocking any in-flight Next.
func (s *Subscription) Release() {
	s.bus.unsubscribe(s.id)
}

// Bus is the typed, bounded-queue event bus. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
	next int64

	syncMu sync.Mutex
	syncCb []func(Event)
}

// New constructs an empty Bus. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[string]*subscription)}
}

// OnEvent registers a synchronous callback invoked inline from Publish for
// every event. Callback exceptions are caught and dropped so one bad
// handler cannot break the bus.
func (b *Bus) OnEvent(cb func(Event)) {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()
	b.syncCb = append(b.syncCb, cb)
}

// Subscribe registers a new pull-style subscriber with a bounded queue of
// the given capacity (0 uses the default).
func (b *Bus) Subscribe(capacity int) *Subscription {
	b.mu.Lock()
	b.next++
	id := "sub-" + strconv.FormatInt(b.next, 10)
	sub := newSubscription(capacity)
	b.subs[id] = sub
	b.mu.Unlock()
	return &Subscription{id: id, sub: sub, bus: b}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish fans ev out to every synchronous callback and every pull
// subscriber's bounded queue.
func (b *Bus) Publish(kind EventKind, payload any) {
	ev := Event{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()}

	b.syncMu.Lock()
	cbs := append([]func(Event){}, b.syncCb...)
	b.syncMu.Unlock()
	for _, cb := range cbs {
		b.safeCall(cb, ev)
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.push(ev)
	}
}

func (b *Bus) safeCall(cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notify: synchronous callback panicked", slog.Any("panic", r), slog.String("kind", string(ev.Kind)))
		}
	}()
	cb(ev)
}

// Health is the Security State's derived status.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Snapshot is an immutable point-in-time view of the Security State.
type Snapshot struct {
	ThreatsByCategory map[scent.Category]int64
	ThreatsBySeverity map[scent.Severity]int64
	QuarantineCount   int
	QuarantineBytes   int64
	QuarantineMax     int
	RateLimitBlocked  int64
	PanicHistory      []string
	LicenseExpired    bool
	LicenseInGrace    bool
	Health            Health
}

// SecurityState aggregates rolling counters derived from bus events and
// external feeds (quarantine occupancy, license status). Safe for
// concurrent use.
type SecurityState struct {
	mu sync.Mutex

	threatsByCategory map[scent.Category]int64
	threatsBySeverity map[scent.Severity]int64
	rateLimitBlocked  int64
	panicHistory      []string

	quarantineCount int
	quarantineBytes int64
	quarantineMax   int

	licenseExpired bool
	licenseInGrace bool
}

// NewSecurityState constructs an empty SecurityState.
func NewSecurityState() *SecurityState {
	return &SecurityState{
		threatsByCategory: make(map[scent.Category]int64),
		threatsBySeverity: make(map[scent.Severity]int64),
	}
}

// Attach wires s to receive rolling-counter updates from every event bus
// publishes.
func (s *SecurityState) Attach(bus *Bus) {
	bus.OnEvent(s.observe)
}

func (s *SecurityState) observe(ev Event) {
	switch ev.Kind {
	case EventThreatDetected:
		if t, ok := ev.Payload.(scent.Threat); ok {
			s.mu.Lock()
			s.threatsByCategory[t.Category]++
			s.threatsBySeverity[t.Severity]++
			s.mu.Unlock()
		}
	case EventRateLimitExceeded:
		s.mu.Lock()
		s.rateLimitBlocked++
		s.mu.Unlock()
	case EventSystemPanic:
		if msg, ok := ev.Payload.(string); ok {
			s.mu.Lock()
			s.panicHistory = append(s.panicHistory, msg)
			if len(s.panicHistory) > 100 {
				s.panicHistory = s.panicHistory[len(s.panicHistory)-100:]
			}
			s.mu.Unlock()
		}
	case EventLicenseExpired:
		s.mu.Lock()
		s.licenseExpired = true
		s.mu.Unlock()
	case EventLicenseValidated:
		s.mu.Lock()
		s.licenseExpired = false
		s.licenseInGrace = false
		s.mu.Unlock()
	}
}

// SetQuarantineOccupancy updates the counters used for capacity-based
// health derivation. Callers (typically the Quarantine owner) push this on
// every insert/evict/neutralize.
func (s *SecurityState) SetQuarantineOccupancy(count int, bytesUsed int64, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantineCount = count
	s.quarantineBytes = bytesUsed
	s.quarantineMax = max
}

// SetLicenseGrace marks the license as within its grace period.
func (s *SecurityState) SetLicenseGrace(inGrace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenseInGrace = inGrace
}

// Snapshot returns an immutable copy of the current rolling counters with
// health derived per §4.15: critical if capacity > 90% or license expired,
// degraded if capacity > 70% or in grace, else healthy.
func (s *SecurityState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byCategory := make(map[scent.Category]int64, len(s.threatsByCategory))
	for k, v := range s.threatsByCategory {
		byCategory[k] = v
	}
	bySeverity := make(map[scent.Severity]int64, len(s.threatsBySeverity))
	for k, v := range s.threatsBySeverity {
		bySeverity[k] = v
	}
	history := make([]string, len(s.panicHistory))
	copy(history, s.panicHistory)

	var capacity float64
	if s.quarantineMax > 0 {
		capacity = float64(s.quarantineCount) / float64(s.quarantineMax)
	}

	health := HealthHealthy
	switch {
	case capacity > 0.9 || s.licenseExpired:
		health = HealthCritical
	case capacity > 0.7 || s.licenseInGrace:
		health = HealthDegraded
	}

	return Snapshot{
		ThreatsByCategory: byCategory,
		ThreatsBySeverity: bySeverity,
		QuarantineCount:   s.quarantineCount,
		QuarantineBytes:   s.quarantineBytes,
		QuarantineMax:     s.quarantineMax,
		RateLimitBlocked:  s.rateLimitBlocked,
		PanicHistory:      history,
		LicenseExpired:    s.licenseExpired,
		LicenseInGrace:    s.licenseInGrace,
		Health:            health,
	}
}
