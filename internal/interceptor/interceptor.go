// Package interceptor implements the Agent: Tracehound's intercept state
// machine. Its single operation, Intercept, orchestrates the Rate Limiter,
// Evidence Factory, and Quarantine in the order fixed by §4.10, maintains
// exact per-terminal-state counters, and never suspends on its fast path
// (§5: "no suspension is permitted on the intercept fast path").
//
// Structurally grounded on the teacher's internal/agent.Agent: a struct
// holding its collaborators behind a single entry method, with sync/atomic
// counters rather than a mutex-guarded struct of ints. The Rate Limiter,
// Evidence Factory, and Quarantine are held as concrete pointers; only the
// Hound Pool is held through an interface (HoundActivator).
package interceptor

import (
	"log/slog"
	"sync/atomic"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/factory"
	"github.com/tracehound/tracehound/internal/notify"
	"github.com/tracehound/tracehound/internal/quarantine"
	"github.com/tracehound/tracehound/internal/ratelimit"
	"github.com/tracehound/tracehound/internal/scent"
)

// HoundActivator is the subset of the Hound Pool's API the Agent depends
// on. Held as an interface so Agent never requires a concrete pool.
type HoundActivator interface {
	Activate(ev *evidence.Evidence)
}

// Status enumerates Intercept's terminal states.
type Status string

const (
	StatusClean           Status = "clean"
	StatusRateLimited     Status = "rate_limited"
	StatusPayloadTooLarge Status = "payload_too_large"
	StatusIgnored         Status = "ignored"
	StatusQuarantined     Status = "quarantined"
	StatusError           Status = "error"
)

// Result is the discriminated union returned by Intercept. Only the
// field(s) relevant to Status are populated.
type Result struct {
	Status     Status
	RetryAfter int64 // ms, for StatusRateLimited
	Limit      int   // bytes, for StatusPayloadTooLarge
	Signature  string // for StatusIgnored/StatusQuarantined
	Handle     *evidence.Evidence // for StatusQuarantined
	Err        *errs.Error        // for StatusError
}

// Counters holds exact, atomically-updated terminal-state counts.
type Counters struct {
	Clean           atomic.Int64
	RateLimited     atomic.Int64
	PayloadTooLarge atomic.Int64
	Ignored         atomic.Int64
	Quarantined     atomic.Int64
	Error           atomic.Int64
}

// Agent is the intercept state machine.
type Agent struct {
	limiter     *ratelimit.Limiter
	factory     *factory.Factory
	quarantine  *quarantine.Quarantine
	maxPayload  int
	logger      *slog.Logger

	houndPool HoundActivator
	bus       *notify.Bus

	counters Counters
}

// New constructs an Agent from its explicit collaborators. If logger is
// nil, slog.Default() is used.
func New(limiter *ratelimit.Limiter, f *factory.Factory, q *quarantine.Quarantine, maxPayloadSize int, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{limiter: limiter, factory: f, quarantine: q, maxPayload: maxPayloadSize, logger: logger}
}

// SetHoundPool wires the Hound Pool dispatch target. Called once at
// system wiring time, before any concurrent Intercept traffic begins.
func (a *Agent) SetHoundPool(pool HoundActivator) { a.houndPool = pool }

// SetNotifyBus wires the Notification Bus publish target. Called once at
// system wiring time, before any concurrent Intercept traffic begins.
func (a *Agent) SetNotifyBus(bus *notify.Bus) { a.bus = bus }

// Counters returns the agent's live terminal-state counters.
func (a *Agent) Counters() *Counters { return &a.counters }

// Intercept runs the rate-limit -> validate -> canonicalize/hash -> dedupe
// -> insert state machine described in §4.10. It never returns a Go
// panic: any unexpected internal failure is captured into a StatusError
// result with Err.Code == AGENT_INTERCEPT_FAILED.
func (a *Agent) Intercept(s scent.Scent) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("interceptor: recovered from panic", slog.Any("panic", r))
			a.counters.Error.Add(1)
			result = Result{Status: StatusError, Err: errs.New(errs.DomainAgent, errs.AgentInterceptFailed, "intercept panicked")}
		}
	}()

	check := a.limiter.Check(s.Source)
	if !check.Allowed {
		a.counters.RateLimited.Add(1)
		return Result{Status: StatusRateLimited, RetryAfter: check.RetryAfter.Milliseconds()}
	}

	if verr := s.Validate(); verr != nil {
		a.counters.Error.Add(1)
		return Result{Status: StatusError, Err: verr}
	}

	if s.Threat == nil {
		a.counters.Clean.Add(1)
		return Result{Status: StatusClean}
	}

	if a.bus != nil {
		a.bus.Publish(notify.EventThreatDetected, *s.Threat)
	}

	created, ferr := a.factory.Create(s, *s.Threat, a.maxPayload)
	if ferr != nil {
		if errs.Is(ferr, errs.AgentPayloadTooLarge) {
			a.counters.PayloadTooLarge.Add(1)
			return Result{Status: StatusPayloadTooLarge, Limit: a.maxPayload}
		}
		a.counters.Error.Add(1)
		return Result{Status: StatusError, Err: ferr}
	}

	if a.quarantine.Has(created.Signature) {
		// Dedupe: the signature is already quarantined. The evidence we
		// just built is unused; neutralize it immediately so it does not
		// leak as unaudited state.
		if _, nerr := created.Evidence.Neutralize(""); nerr != nil {
			a.logger.Warn("interceptor: failed to neutralize unused duplicate evidence", slog.String("signature", created.Signature))
		}
		a.counters.Ignored.Add(1)
		return Result{Status: StatusIgnored, Signature: created.Signature}
	}

	insertResult, ierr := a.quarantine.Insert(created.Evidence)
	if ierr != nil {
		a.counters.Error.Add(1)
		return Result{Status: StatusError, Err: ierr}
	}
	if insertResult.Duplicate {
		// Lost the race: another goroutine inserted the same signature
		// between our Has check and Insert. Our evidence is unused.
		if _, nerr := created.Evidence.Neutralize(""); nerr != nil {
			a.logger.Warn("interceptor: failed to neutralize unused racing evidence", slog.String("signature", created.Signature))
		}
		a.counters.Ignored.Add(1)
		return Result{Status: StatusIgnored, Signature: created.Signature}
	}

	a.counters.Quarantined.Add(1)
	if a.bus != nil {
		a.bus.Publish(notify.EventEvidenceQuarantined, created.Signature)
	}
	if a.houndPool != nil {
		// The pool must dispatch an independent handle: Quarantine's copy
		// is the sole transfer of ownership out of the store, so the Hound
		// Pool gets its own Evidence built from the same canonical bytes.
		if dispatch, derr := evidence.New(created.Signature, created.Bytes, s.Threat.Severity, s.Source); derr == nil {
			a.houndPool.Activate(dispatch)
		} else {
			a.logger.Warn("interceptor: failed to build hound dispatch copy", slog.String("signature", created.Signature))
		}
	}
	return Result{Status: StatusQuarantined, Signature: created.Signature, Handle: created.Evidence}
}
