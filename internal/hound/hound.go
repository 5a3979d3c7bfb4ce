// Package hound implements the Hound Pool: a fixed-size pool of
// out-of-process child analyzers dispatched fire-and-forget over the
// length-prefixed IPC protocol in internal/ipc. Structurally grounded on
// the teacher's worker-pool idiom (a fixed slot slice guarded by one
// mutex, an actor-style single owner per slot, lazy spawn on first use)
// adapted here from HTTP worker goroutines to child OS processes.
//
// Respawn backoff on repeated spawn failure uses cenkalti/backoff/v4,
// grounded on the same library's use elsewhere in the corpus for
// reconnect/retry loops.
package hound

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/ipc"
)

// ExhaustionPolicy governs behavior when every slot is busy.
type ExhaustionPolicy string

const (
	ExhaustionDrop     ExhaustionPolicy = "drop"
	ExhaustionEscalate ExhaustionPolicy = "escalate"
	ExhaustionDefer    ExhaustionPolicy = "defer"
)

// Config configures the pool. Defaults matching §4.12's environment
// surface (poolSize=4, timeout=30s, rotationJitter=1s,
// onPoolExhausted="defer", deferQueueLimit=100) are the caller's
// responsibility to supply; this package has no defaulting of its own.
type Config struct {
	PoolSize         int
	Timeout          time.Duration
	RotationJitter   time.Duration
	OnPoolExhausted  ExhaustionPolicy
	DeferQueueLimit  int
	ScriptPath       string
	ScriptArgs       []string
}

// ResultKind enumerates the terminal outcomes a pool emits per
// activation.
type ResultKind string

const (
	ResultProcessed ResultKind = "processed"
	ResultError     ResultKind = "error"
	ResultTimeout   ResultKind = "timeout"
)

// Result is delivered to the pool's single result subscriber.
type Result struct {
	Kind       ResultKind
	Signature  string
	DurationMs int64
	ErrText    string
}

// Stats is a point-in-time snapshot of pool occupancy and counters.
type Stats struct {
	PoolSize          int
	ActiveProcesses   int
	TotalProcesses    int
	TotalActivations  int64
	TotalTimeouts     int64
	FatalCount        int64
	DeferQueueDepth   int
}

type slot struct {
	id        string
	handle    *ipc.Handle
	busy      bool
	spawned   bool
	signature string
	startedAt time.Time
	timer     *time.Timer
}

type queuedItem struct {
	ev *evidence.Evidence
}

// Pool is the Hound Pool. Safe for concurrent use.
type Pool struct {
	cfg     Config
	adapter *ipc.Adapter
	logger  *slog.Logger

	mu       sync.Mutex
	slots    []*slot
	queue    []queuedItem
	shutdown bool

	totalActivations atomic.Int64
	totalTimeouts    atomic.Int64
	fatalCount       atomic.Int64

	resultMu sync.Mutex
	onResult func(Result)
}

// New constructs a Pool with cfg.PoolSize idle, unspawned slots.
func New(cfg Config, adapter *ipc.Adapter, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	slots := make([]*slot, cfg.PoolSize)
	for i := range slots {
		slots[i] = &slot{id: uuid.NewString()}
	}
	return &Pool{cfg: cfg, adapter: adapter, logger: logger, slots: slots}
}

// OnResult registers the pool's single result subscriber, replacing any
// previously registered callback.
func (p *Pool) OnResult(cb func(Result)) {
	p.resultMu.Lock()
	defer p.resultMu.Unlock()
	p.onResult = cb
}

func (p *Pool) emit(r Result) {
	p.resultMu.Lock()
	cb := p.onResult
	p.resultMu.Unlock()
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("hound: result callback panicked", slog.Any("panic", rec))
		}
	}()
	cb(r)
}

// Activate dispatches evidence to the pool fire-and-forget. It returns
// before any child write completes: slot selection is synchronous but
// the spawn/send itself runs on a background goroutine.
func (p *Pool) Activate(ev *evidence.Evidence) {
	p.totalActivations.Add(1)

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: "pool_shutdown"})
		return
	}

	s := p.findIdleLocked()
	if s == nil {
		policy := p.cfg.OnPoolExhausted
		switch policy {
		case ExhaustionEscalate:
			p.mu.Unlock()
			p.fatalCount.Add(1)
			p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: "pool_exhausted"})
			return
		case ExhaustionDefer:
			if len(p.queue) >= p.cfg.DeferQueueLimit {
				p.mu.Unlock()
				p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: "defer_queue_full"})
				return
			}
			p.queue = append(p.queue, queuedItem{ev: ev})
			p.mu.Unlock()
			return
		default: // drop
			p.mu.Unlock()
			p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: "pool_exhausted"})
			return
		}
	}

	s.busy = true
	s.signature = ev.Signature()
	s.startedAt = time.Now()
	p.mu.Unlock()

	go p.run(s, ev)
}

func (p *Pool) findIdleLocked() *slot {
	for _, s := range p.slots {
		if !s.busy {
			return s
		}
	}
	return nil
}

// run performs the actual spawn-or-reuse on a background goroutine, arms
// the one-shot timeout, and then sends the payload.
func (p *Pool) run(s *slot, ev *evidence.Evidence) {
	if p.cfg.RotationJitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(p.cfg.RotationJitter))))
	}

	if !s.spawned {
		if err := p.spawnLocked(s); err != nil {
			p.clearSlot(s)
			p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: err.Error()})
			return
		}
	}

	payload, perr := ev.Transfer()
	if perr != nil {
		p.clearSlot(s)
		p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: perr.Error()})
		return
	}

	timer := time.AfterFunc(p.cfg.Timeout, func() { p.onTimeout(s) })
	p.mu.Lock()
	s.timer = timer
	p.mu.Unlock()

	if sendErr := s.handle.Send(payload); sendErr != nil {
		p.stopTimer(s)
		p.killSlot(s)
		p.emit(Result{Kind: ResultError, Signature: ev.Signature(), ErrText: sendErr.Error()})
		return
	}
}

func (p *Pool) spawnLocked(s *slot) error {
	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 5 * time.Second

	var h *ipc.Handle
	err := backoff.Retry(func() error {
		var serr *errs.Error
		h, serr = p.adapter.Spawn(context.Background(), p.cfg.ScriptPath, p.cfg.ScriptArgs, ipc.Constraints{})
		if serr != nil {
			return serr
		}
		return nil
	}, boff)
	if err != nil {
		return err
	}

	sig := s.signature
	h.OnMessage(func(msg ipc.Message) { p.onMessage(s, msg) })
	h.OnExit(func(exitErr error) { p.onExit(s, sig, exitErr) })

	p.mu.Lock()
	s.handle = h
	s.spawned = true
	p.mu.Unlock()
	return nil
}

func (p *Pool) onMessage(s *slot, msg ipc.Message) {
	switch msg.Type {
	case ipc.MessageStatus:
		switch msg.Status.State {
		case ipc.StateComplete:
			p.stopTimer(s)
			duration := time.Since(s.startedAt).Milliseconds()
			sig := p.releaseSlot(s)
			p.emit(Result{Kind: ResultProcessed, Signature: sig, DurationMs: duration})
			p.drainQueue()
		case ipc.StateError:
			p.stopTimer(s)
			sig := p.releaseSlot(s)
			p.killHandle(s)
			p.emit(Result{Kind: ResultError, Signature: sig, ErrText: msg.Status.ErrText})
			p.drainQueue()
		}
	case ipc.MessageMetrics:
		// Metrics are observational only; no pool state transition.
	}
}

func (p *Pool) onTimeout(s *slot) {
	p.mu.Lock()
	if !s.busy {
		p.mu.Unlock()
		return
	}
	sig := s.signature
	p.mu.Unlock()

	p.totalTimeouts.Add(1)
	p.killSlot(s)
	p.emit(Result{Kind: ResultTimeout, Signature: sig})
	p.drainQueue()
}

func (p *Pool) onExit(s *slot, signature string, exitErr error) {
	p.mu.Lock()
	wasBusy := s.busy
	s.spawned = false
	s.handle = nil
	if wasBusy {
		s.busy = false
		s.signature = ""
	}
	p.mu.Unlock()

	if !wasBusy {
		return
	}
	p.stopTimer(s)
	reason := "process_exit_0"
	if exitErr != nil {
		reason = "process_exit_" + exitErr.Error()
	}
	p.emit(Result{Kind: ResultError, Signature: signature, ErrText: reason})
	p.drainQueue()
}

// Terminate cancels the in-flight activation for signature, if any, by
// killing its child and emitting a synchronous error result.
func (p *Pool) Terminate(signature string) {
	p.mu.Lock()
	var target *slot
	for _, s := range p.slots {
		if s.busy && s.signature == signature {
			target = s
			break
		}
	}
	p.mu.Unlock()
	if target == nil {
		return
	}
	p.stopTimer(target)
	p.killSlot(target)
	p.emit(Result{Kind: ResultError, Signature: signature, ErrText: "terminated"})
}

func (p *Pool) stopTimer(s *slot) {
	p.mu.Lock()
	t := s.timer
	s.timer = nil
	p.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (p *Pool) killHandle(s *slot) {
	p.mu.Lock()
	h := s.handle
	p.mu.Unlock()
	if h != nil {
		h.Kill()
	}
}

// killSlot kills the child and immediately frees the slot for reuse.
func (p *Pool) killSlot(s *slot) {
	p.killHandle(s)
	p.mu.Lock()
	s.busy = false
	s.signature = ""
	s.spawned = false
	s.handle = nil
	p.mu.Unlock()
}

// clearSlot frees a slot that never successfully spawned.
func (p *Pool) clearSlot(s *slot) {
	p.mu.Lock()
	s.busy = false
	s.signature = ""
	p.mu.Unlock()
}

// releaseSlot marks a slot idle (but keeps the spawned child warm for
// reuse) and returns the signature it had been processing.
func (p *Pool) releaseSlot(s *slot) string {
	p.mu.Lock()
	sig := s.signature
	s.busy = false
	s.signature = ""
	p.mu.Unlock()
	return sig
}

// drainQueue activates the next deferred item, if any, now that a slot
// has freed up.
func (p *Pool) drainQueue() {
	p.mu.Lock()
	if p.shutdown || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	s := p.findIdleLocked()
	if s == nil {
		p.mu.Unlock()
		return
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	s.busy = true
	s.signature = item.ev.Signature()
	s.startedAt = time.Now()
	p.mu.Unlock()

	go p.run(s, item.ev)
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	active, total := 0, 0
	for _, s := range p.slots {
		if s.busy {
			active++
		}
		if s.spawned {
			total++
		}
	}
	return Stats{
		PoolSize:         len(p.slots),
		ActiveProcesses:  active,
		TotalProcesses:   total,
		TotalActivations: p.totalActivations.Load(),
		TotalTimeouts:    p.totalTimeouts.Load(),
		FatalCount:       p.fatalCount.Load(),
		DeferQueueDepth:  len(p.queue),
	}
}

// Shutdown clears all timers, kills every spawned child, and discards the
// pending defer queue.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	slots := make([]*slot, len(p.slots))
	copy(slots, p.slots)
	p.queue = nil
	p.mu.Unlock()

	for _, s := range slots {
		p.stopTimer(s)
		p.killHandle(s)
	}
}
