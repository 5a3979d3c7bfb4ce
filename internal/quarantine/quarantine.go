// Package quarantine implements Tracehound's signature-indexed Quarantine:
// a store with priority+age eviction that enforces dual (count, bytes)
// caps. Concurrency is adapted from the teacher's websocket.Broadcaster
// pattern (named entries in a sync.Map, atomic byte/count bookkeeping)
// generalized from a fan-out registry to a single-writer evidence store.
// A strictly consistent check-then-insert view needs more than a sync.Map,
// so entries live in a plain map guarded by one mutex that every read and
// every mutation takes; only the byte total is an atomic counter.
package quarantine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tracehound/tracehound/internal/audit"
	"github.com/tracehound/tracehound/internal/codec"
	"github.com/tracehound/tracehound/internal/coldstorage"
	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/notify"
	"github.com/tracehound/tracehound/internal/scent"
)

// Config bounds the quarantine's capacity.
type Config struct {
	MaxCount       int
	MaxBytes       int64
	EvictionPolicy string // only "priority" is implemented
}

// InsertResult reports the outcome of Insert.
type InsertResult struct {
	Inserted bool
	Duplicate bool
	Existing *evidence.Evidence
}

// ReplaceResult reports the outcome of Replace.
type ReplaceResult struct {
	Neutralized *evidence.NeutralizationRecord
	Insert      InsertResult
}

// Stats breaks quarantine occupancy down by severity.
type Stats struct {
	Count        int
	Bytes        int64
	BySeverity   map[scent.Severity]int
}

// Quarantine is the signature-indexed evidence store. Safe for concurrent
// use.
type Quarantine struct {
	cfg   Config
	chain audit.Chain

	bus      *notify.Bus
	security *notify.SecurityState

	coldStorage     *coldstorage.Adapter
	hotCodec        codec.HotCodec
	coldDestination string

	mu      sync.Mutex
	entries map[string]*evidence.Evidence

	bytes atomic.Int64
}

// New constructs a Quarantine bounded by cfg and auditing every
// neutralization/eviction through chain.
func New(cfg Config, chain audit.Chain) *Quarantine {
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = "priority"
	}
	return &Quarantine{
		cfg:     cfg,
		chain:   chain,
		entries: make(map[string]*evidence.Evidence),
	}
}

// SetNotify wires the Notification Bus and Security State. Called once at
// system wiring time, before any concurrent Insert/Neutralize traffic
// begins.
func (q *Quarantine) SetNotify(bus *notify.Bus, security *notify.SecurityState) {
	q.bus = bus
	q.security = security
}

// SetColdStorage wires an eviction-time archival path: entries chosen for
// eviction are handed to destination via adapter instead of being
// neutralized outright. Called once at system wiring time.
func (q *Quarantine) SetColdStorage(adapter *coldstorage.Adapter, hotCodec codec.HotCodec, destination string) {
	q.coldStorage = adapter
	q.hotCodec = hotCodec
	q.coldDestination = destination
}

// publishOccupancyLocked feeds the Security State's capacity-based health
// derivation. Caller must hold q.mu.
func (q *Quarantine) publishOccupancyLocked() {
	if q.security == nil {
		return
	}
	q.security.SetQuarantineOccupancy(len(q.entries), q.bytes.Load(), q.cfg.MaxCount)
}

// Has reports whether signature is currently quarantined.
func (q *Quarantine) Has(signature string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[signature]
	return ok
}

// Get returns the quarantined evidence for signature, if any.
func (q *Quarantine) Get(signature string) (*evidence.Evidence, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.entries[signature]
	return ev, ok
}

// Insert stores ev under its signature. If the signature is already
// present, Insert returns {duplicate: true, existing} without mutating
// anything — the caller owns disposing of ev. On insert, Insert evicts
// victims (by priority) until both caps are satisfied.
func (q *Quarantine) Insert(ev *evidence.Evidence) (InsertResult, *errs.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishOccupancyLocked()

	sig := ev.Signature()
	if existing, ok := q.entries[sig]; ok {
		return InsertResult{Duplicate: true, Existing: existing}, nil
	}

	q.entries[sig] = ev
	q.bytes.Add(int64(ev.Size()))

	for q.overCapacityLocked() {
		if err := q.evictOneLocked(); err != nil {
			return InsertResult{}, err
		}
	}

	return InsertResult{Inserted: true}, nil
}

func (q *Quarantine) overCapacityLocked() bool {
	if q.cfg.MaxCount > 0 && len(q.entries) > q.cfg.MaxCount {
		return true
	}
	if q.cfg.MaxBytes > 0 && q.bytes.Load() > q.cfg.MaxBytes {
		return true
	}
	return false
}

// evictOneLocked selects the single lowest-priority, oldest victim and
// neutralizes it through the audit chain. Caller must hold q.mu.
func (q *Quarantine) evictOneLocked() *errs.Error {
	type candidate struct {
		sig string
		ev  *evidence.Evidence
	}
	victims := make([]candidate, 0, len(q.entries))
	for sig, ev := range q.entries {
		victims = append(victims, candidate{sig, ev})
	}
	sort.SliceStable(victims, func(i, j int) bool {
		ri, rj := victims[i].ev.Severity().Rank(), victims[j].ev.Severity().Rank()
		if ri != rj {
			return ri < rj
		}
		return victims[i].ev.Captured().Before(victims[j].ev.Captured())
	})
	if len(victims) == 0 {
		return errs.New(errs.DomainQuarantine, errs.QuarantineEvictFailed, "no victims available to evict")
	}
	victim := victims[0]

	if q.coldStorage != nil {
		if err := q.evacuateLocked(victim.sig); err != nil {
			return errs.New(errs.DomainQuarantine, errs.QuarantineEvictFailed, err.Error())
		}
		return nil
	}

	if _, err := q.neutralizeLocked(victim.sig); err != nil {
		return errs.New(errs.DomainQuarantine, errs.QuarantineEvictFailed, err.Error())
	}
	if q.bus != nil {
		q.bus.Publish(notify.EventEvidenceEvicted, victim.sig)
	}
	return nil
}

// evacuateLocked hands signature's evidence to cold storage instead of
// neutralizing it outright: the handle is disposed via Evacuate (which
// Quarantine alone may call, since it is the sole transfer of ownership
// out of the store), the bytes are encoded and written to the configured
// backend, and a NeutralizationRecord is reconstructed from the returned
// EvacuateRecord so the audit chain still records the disposal. Caller
// must hold q.mu.
func (q *Quarantine) evacuateLocked(signature string) *errs.Error {
	ev, ok := q.entries[signature]
	if !ok {
		return nil
	}

	evacRec, raw, everr := ev.Evacuate(q.coldDestination)
	if everr != nil {
		return everr
	}

	ep, cerr := q.hotCodec.EncodeWithIntegrity(context.Background(), raw)
	if cerr != nil {
		return cerr
	}

	wr := q.coldStorage.Write(context.Background(), evacRec.ID, ep)
	if !wr.Success {
		return wr.Err
	}

	nrec := evidence.NeutralizationRecord{
		ID:        evacRec.ID,
		Signature: evacRec.Signature,
		Hash:      evacRec.Hash,
		Size:      evacRec.Size,
		Timestamp: evacRec.Timestamp,
		Status:    "evacuated",
	}
	if _, err := q.chain.Append(nrec); err != nil {
		return err
	}

	delete(q.entries, signature)
	q.bytes.Add(-int64(evacRec.Size))

	if q.bus != nil {
		q.bus.Publish(notify.EventEvidenceEvicted, signature)
	}
	return nil
}

// Neutralize looks up signature, neutralizes the evidence through the
// audit chain, and removes it from the store. Returns nil if not present.
func (q *Quarantine) Neutralize(signature string) (*evidence.NeutralizationRecord, *errs.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishOccupancyLocked()
	return q.neutralizeLocked(signature)
}

func (q *Quarantine) neutralizeLocked(signature string) (*evidence.NeutralizationRecord, *errs.Error) {
	ev, ok := q.entries[signature]
	if !ok {
		return nil, nil
	}

	rec, err := ev.Neutralize(q.chain.LastHash())
	if err != nil {
		return nil, err
	}
	if _, err := q.chain.Append(rec); err != nil {
		return nil, err
	}

	delete(q.entries, signature)
	q.bytes.Add(-int64(rec.Size))

	return &rec, nil
}

// Flush neutralizes every entry currently in the store, returning all
// records, and resets the byte counter to zero.
func (q *Quarantine) Flush() ([]evidence.NeutralizationRecord, *errs.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishOccupancyLocked()

	sigs := make([]string, 0, len(q.entries))
	for sig := range q.entries {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	records := make([]evidence.NeutralizationRecord, 0, len(sigs))
	for _, sig := range sigs {
		rec, err := q.neutralizeLocked(sig)
		if err != nil {
			return records, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	q.bytes.Store(0)
	return records, nil
}

// Purge removes signature without auditing and disposes of the evidence,
// returning a PurgeRecord. Returns ok=false if signature is not present.
func (q *Quarantine) Purge(signature string, reason evidence.PurgeReason) (evidence.PurgeRecord, bool, *errs.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishOccupancyLocked()

	ev, ok := q.entries[signature]
	if !ok {
		return evidence.PurgeRecord{}, false, nil
	}
	rec, err := ev.Purge(reason)
	if err != nil {
		return evidence.PurgeRecord{}, false, err
	}
	delete(q.entries, signature)
	q.bytes.Add(-int64(rec.Size))
	return rec, true, nil
}

// Replace atomically neutralizes oldSig (if present) then inserts newEv.
func (q *Quarantine) Replace(oldSig string, newEv *evidence.Evidence) (ReplaceResult, *errs.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishOccupancyLocked()

	var result ReplaceResult
	rec, err := q.neutralizeLocked(oldSig)
	if err != nil {
		return result, err
	}
	result.Neutralized = rec

	sig := newEv.Signature()
	if existing, ok := q.entries[sig]; ok {
		result.Insert = InsertResult{Duplicate: true, Existing: existing}
		return result, nil
	}

	q.entries[sig] = newEv
	q.bytes.Add(int64(newEv.Size()))
	for q.overCapacityLocked() {
		if err := q.evictOneLocked(); err != nil {
			return result, err
		}
	}
	result.Insert = InsertResult{Inserted: true}
	return result, nil
}

// Stats returns a point-in-time snapshot of quarantine occupancy.
func (q *Quarantine) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		Count:      len(q.entries),
		Bytes:      q.bytes.Load(),
		BySeverity: make(map[scent.Severity]int),
	}
	for _, ev := range q.entries {
		st.BySeverity[ev.Severity()]++
	}
	return st
}
