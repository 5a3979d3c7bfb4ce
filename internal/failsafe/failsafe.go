// Package failsafe implements graduated threshold monitoring: probes
// compare a live ratio or count against configured warning/critical/
// emergency thresholds and fire at most one event at the highest matching
// level. Named Event/Trip rather than "panic" to avoid colliding with
// Go's built-in panic, per the redesign recorded in the project's design
// notes.
//
// Grounded on the corpus's threshold-alerting pattern (tiered levels,
// per-level callback registries, a bounded ring buffer of recent events)
// adapted here into three named probes plus a raw Trip entry point.
// Optional Prometheus export uses prometheus/client_golang, matching the
// corpus's metrics-exporter idiom.
package failsafe

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Level is a graduated severity above the configured threshold tuples.
type Level string

const (
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// Thresholds is a {warning, critical, emergency} tuple. Values are
// fractions (0..1) for ratio probes or raw counts for the error-rate
// probe; the probe's caller decides which unit applies.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

func (t Thresholds) levelFor(value float64) (Level, bool) {
	if value >= t.Emergency {
		return LevelEmergency, true
	}
	if value >= t.Critical {
		return LevelCritical, true
	}
	if value >= t.Warning {
		return LevelWarning, true
	}
	return "", false
}

// Probe names the probe that produced an Event.
type Probe string

const (
	ProbeQuarantine Probe = "quarantine"
	ProbeMemory     Probe = "memory"
	ProbeErrorRate  Probe = "error_rate"
	ProbeManual     Probe = "manual"
)

// Event is one fired threshold crossing.
type Event struct {
	Probe     Probe
	Level     Level
	Value     float64
	Details   map[string]any
	Timestamp time.Time
}

// Config holds the threshold tuples for each ratio/count probe.
type Config struct {
	Quarantine Thresholds
	Memory     Thresholds
	ErrorRate  Thresholds
}

// FailSafe evaluates probes against configured thresholds and dispatches
// callbacks. Safe for concurrent use.
type FailSafe struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	byLevel  map[Level][]func(Event)
	anyCb    []func(Event)
	ring     []Event
	ringHead int

	metrics *metricsExporter
}

const ringCapacity = 100

// New constructs a FailSafe. If logger is nil, slog.Default() is used.
func New(cfg Config, logger *slog.Logger) *FailSafe {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailSafe{
		cfg:     cfg,
		logger:  logger,
		byLevel: make(map[Level][]func(Event)),
	}
}

// EnableMetrics registers Prometheus counters for every level x probe
// combination against reg and begins recording fired events to them.
func (f *FailSafe) EnableMetrics(reg prometheus.Registerer) error {
	m, err := newMetricsExporter(reg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.metrics = m
	f.mu.Unlock()
	return nil
}

// OnLevel registers cb to fire whenever an event at exactly level occurs.
func (f *FailSafe) OnLevel(level Level, cb func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byLevel[level] = append(f.byLevel[level], cb)
}

// OnAny registers cb to fire for every event regardless of level.
func (f *FailSafe) OnAny(cb func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anyCb = append(f.anyCb, cb)
}

// CheckQuarantine probes quarantine occupancy as a fraction of max.
func (f *FailSafe) CheckQuarantine(count, max int) *Event {
	if max <= 0 {
		return nil
	}
	return f.probe(ProbeQuarantine, f.cfg.Quarantine, float64(count)/float64(max), map[string]any{"count": count, "max": max})
}

// CheckMemory probes memory usage as a fraction of max.
func (f *FailSafe) CheckMemory(used, max int64) *Event {
	if max <= 0 {
		return nil
	}
	return f.probe(ProbeMemory, f.cfg.Memory, float64(used)/float64(max), map[string]any{"used": used, "max": max})
}

// CheckErrorRate probes a raw errors-per-minute count.
func (f *FailSafe) CheckErrorRate(errorsPerMinute float64) *Event {
	return f.probe(ProbeErrorRate, f.cfg.ErrorRate, errorsPerMinute, map[string]any{"errorsPerMinute": errorsPerMinute})
}

// Trip fires a manual event at an explicitly chosen level, bypassing
// threshold comparison. Used for conditions the caller has already
// classified (e.g. an unrecoverable startup failure).
func (f *FailSafe) Trip(level Level, details map[string]any) Event {
	ev := Event{Probe: ProbeManual, Level: level, Details: details, Timestamp: time.Now().UTC()}
	f.record(ev)
	f.dispatch(ev)
	return ev
}

func (f *FailSafe) probe(p Probe, t Thresholds, value float64, details map[string]any) *Event {
	level, matched := t.levelFor(value)
	if !matched {
		return nil
	}
	ev := Event{Probe: p, Level: level, Value: value, Details: details, Timestamp: time.Now().UTC()}
	f.record(ev)
	f.dispatch(ev)
	return &ev
}

func (f *FailSafe) record(ev Event) {
	f.mu.Lock()
	if len(f.ring) < ringCapacity {
		f.ring = append(f.ring, ev)
	} else {
		f.ring[f.ringHead] = ev
		f.ringHead = (f.ringHead + 1) % ringCapacity
	}
	m := f.metrics
	f.mu.Unlock()
	if m != nil {
		m.observe(ev)
	}
}

func (f *FailSafe) dispatch(ev Event) {
	f.mu.Lock()
	levelCbs := append([]func(Event){}, f.byLevel[ev.Level]...)
	anyCbs := append([]func(Event){}, f.anyCb...)
	f.mu.Unlock()

	for _, cb := range levelCbs {
		f.safeCall(cb, ev)
	}
	for _, cb := range anyCbs {
		f.safeCall(cb, ev)
	}
}

func (f *FailSafe) safeCall(cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("failsafe: callback panicked", slog.Any("panic", r), slog.String("probe", string(ev.Probe)), slog.String("level", string(ev.Level)))
		}
	}()
	cb(ev)
}

// History returns the retained events in chronological order, oldest
// first, capped at the ring buffer's 100-entry capacity.
func (f *FailSafe) History() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ring) < ringCapacity {
		out := make([]Event, len(f.ring))
		copy(out, f.ring)
		return out
	}
	out := make([]Event, ringCapacity)
	for i := 0; i < ringCapacity; i++ {
		out[i] = f.ring[(f.ringHead+i)%ringCapacity]
	}
	return out
}
