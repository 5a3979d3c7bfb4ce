package hound

import (
	"testing"
	"time"

	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/ipc"
	"github.com/tracehound/tracehound/internal/scent"
)

func newEv(t *testing.T, sig string) *evidence.Evidence {
	t.Helper()
	ev, err := evidence.New(sig, []byte("payload"), scent.SeverityHigh, "api")
	if err != nil {
		t.Fatalf("evidence.New failed: %v", err)
	}
	return ev
}

// A pool with PoolSize 0 has no idle slots, so Activate always takes the
// exhaustion path without ever spawning a real child process.
func newExhaustedPool(policy ExhaustionPolicy, deferLimit int) *Pool {
	cfg := Config{PoolSize: 0, Timeout: time.Second, OnPoolExhausted: policy, DeferQueueLimit: deferLimit}
	return New(cfg, ipc.NewAdapter(nil), nil)
}

func TestActivateDropPolicyEmitsError(t *testing.T) {
	p := newExhaustedPool(ExhaustionDrop, 10)
	results := make(chan Result, 1)
	p.OnResult(func(r Result) { results <- r })

	p.Activate(newEv(t, "sig"))

	select {
	case r := <-results:
		if r.Kind != ResultError || r.ErrText != "pool_exhausted" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result")
	}
}

func TestActivateEscalatePolicyIncrementsFatalCount(t *testing.T) {
	p := newExhaustedPool(ExhaustionEscalate, 10)
	results := make(chan Result, 1)
	p.OnResult(func(r Result) { results <- r })

	p.Activate(newEv(t, "sig"))

	<-results
	if p.Stats().FatalCount != 1 {
		t.Fatalf("expected FatalCount 1, got %d", p.Stats().FatalCount)
	}
}

func TestActivateDeferPolicyQueuesUntilLimit(t *testing.T) {
	p := newExhaustedPool(ExhaustionDefer, 1)
	results := make(chan Result, 2)
	p.OnResult(func(r Result) { results <- r })

	p.Activate(newEv(t, "sig1")) // queued, no result yet
	p.Activate(newEv(t, "sig2")) // queue full -> error

	select {
	case r := <-results:
		if r.ErrText != "defer_queue_full" {
			t.Fatalf("expected defer_queue_full, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a defer_queue_full result")
	}
	if depth := p.Stats().DeferQueueDepth; depth != 1 {
		t.Fatalf("expected 1 queued item, got %d", depth)
	}
}

func TestActivateAfterShutdownIsRejected(t *testing.T) {
	p := newExhaustedPool(ExhaustionDrop, 10)
	p.Shutdown()

	results := make(chan Result, 1)
	p.OnResult(func(r Result) { results <- r })
	p.Activate(newEv(t, "sig"))

	select {
	case r := <-results:
		if r.ErrText != "pool_shutdown" {
			t.Fatalf("expected pool_shutdown, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result")
	}
}

func TestStatsReflectsTotalActivations(t *testing.T) {
	p := newExhaustedPool(ExhaustionDrop, 10)
	p.OnResult(func(Result) {})

	for i := 0; i < 3; i++ {
		p.Activate(newEv(t, "sig"))
	}
	if got := p.Stats().TotalActivations; got != 3 {
		t.Fatalf("expected TotalActivations 3, got %d", got)
	}
}
