// Package evidence implements the Evidence Handle: a single-use owner of
// raw bytes with atomic Transfer/Neutralize/Evacuate operations. Modeled as
// a consumed value per the redesign in spec.md §9 ("handle-as-object-with-
// mutable-disposed-flag"): each consuming method takes the handle by
// pointer receiver and, under the handle's lock, both clears its buffer
// field and sets the disposed flag that every consuming method checks.
package evidence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/hashutil"
	"github.com/tracehound/tracehound/internal/scent"
)

// NeutralizationRecord is the snapshot captured atomically at destruction
// via Neutralize.
type NeutralizationRecord struct {
	ID           string
	Signature    string
	Hash         string
	Size         int
	Timestamp    time.Time
	Status       string
	PreviousHash string
}

// PurgeReason enumerates why evidence was force-disposed outside the audit
// chain.
type PurgeReason string

const (
	PurgeTimeout PurgeReason = "timeout"
	PurgeError   PurgeReason = "error"
	PurgeAbort   PurgeReason = "abort"
	PurgePanic   PurgeReason = "panic"
)

// PurgeRecord is the sibling of NeutralizationRecord for forced disposal.
// Purges never append to the audit chain.
type PurgeRecord struct {
	ID        string
	Signature string
	Hash      string
	Size      int
	Timestamp time.Time
	Reason    PurgeReason
	// Source is the originating scent's source when available. The
	// upstream "unknown" placeholder is treated as a bug and not
	// reproduced: this field is simply omitted when no source is known.
	Source string
}

// EvacuateRecord is symmetric to a transfer but annotates the destination
// the bytes were handed off to, for cold-storage bookkeeping.
type EvacuateRecord struct {
	ID          string
	Signature   string
	Hash        string
	Size        int
	Timestamp   time.Time
	Destination string
}

// Evidence owns a contiguous byte buffer exactly until one of Transfer,
// Neutralize, or Evacuate succeeds. A second consuming call on the same
// handle fails with EVIDENCE_DISPOSED.
type Evidence struct {
	mu sync.Mutex

	id        string
	signature string
	hash      string
	severity  scent.Severity
	size      int
	captured  time.Time
	source    string

	bytes    []byte // nil once disposed
	disposed bool
}

// New constructs an Evidence handle over a copy of bytes. It fails with
// EVIDENCE_EMPTY if bytes is empty. The hash is computed here from bytes;
// New takes no caller-supplied hash and never returns
// EVIDENCE_HASH_MISMATCH.
func New(signature string, bytes []byte, severity scent.Severity, source string) (*Evidence, *errs.Error) {
	if len(bytes) == 0 {
		return nil, errs.New(errs.DomainEvidence, errs.EvidenceEmpty, "evidence bytes must not be empty")
	}
	hash := hashutil.SHA256Hex(bytes)

	owned := make([]byte, len(bytes))
	copy(owned, bytes)

	return &Evidence{
		id:        uuid.NewString(),
		signature: signature,
		hash:      hash,
		severity:  severity,
		size:      len(bytes),
		captured:  time.Now().UTC(),
		source:    source,
		bytes:     owned,
	}, nil
}

// Signature returns the evidence's deduplication signature. Safe to call
// after disposal.
func (e *Evidence) Signature() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signature
}

// Hash returns the hex SHA-256 of the owned bytes. Safe to call after
// disposal.
func (e *Evidence) Hash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash
}

// Severity returns the evidence's severity, used by Quarantine's eviction
// ranking.
func (e *Evidence) Severity() scent.Severity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.severity
}

// Size returns the owned byte count. Safe to call after disposal.
func (e *Evidence) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// Captured returns the construction timestamp, used by Quarantine's
// eviction ranking.
func (e *Evidence) Captured() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captured
}

// Disposed reports whether a consuming operation has already succeeded.
func (e *Evidence) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// Transfer releases the owned buffer outward. Used by tests and by the
// Hound Pool to hand bytes to a child process.
func (e *Evidence) Transfer() ([]byte, *errs.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil, errs.New(errs.DomainEvidence, errs.EvidenceDisposed, "evidence already disposed")
	}
	b := e.bytes
	e.bytes = nil
	e.disposed = true
	return b, nil
}

// Neutralize atomically snapshots metadata, clears the buffer, and returns
// a NeutralizationRecord linking to the audit chain's current tail hash.
// There is no observable window in which the bytes are both readable and
// the handle is reported neutralized: both transitions happen under the
// same lock.
func (e *Evidence) Neutralize(previousHash string) (NeutralizationRecord, *errs.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return NeutralizationRecord{}, errs.New(errs.DomainEvidence, errs.EvidenceDisposed, "evidence already disposed")
	}
	rec := NeutralizationRecord{
		ID:           e.id,
		Signature:    e.signature,
		Hash:         e.hash,
		Size:         e.size,
		Timestamp:    time.Now().UTC(),
		Status:       "neutralized",
		PreviousHash: previousHash,
	}
	e.bytes = nil
	e.disposed = true
	return rec, nil
}

// Purge atomically disposes of the handle outside the audit chain and
// returns a PurgeRecord documenting the forced disposal.
func (e *Evidence) Purge(reason PurgeReason) (PurgeRecord, *errs.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return PurgeRecord{}, errs.New(errs.DomainEvidence, errs.EvidenceDisposed, "evidence already disposed")
	}
	rec := PurgeRecord{
		ID:        e.id,
		Signature: e.signature,
		Hash:      e.hash,
		Size:      e.size,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Source:    e.source,
	}
	e.bytes = nil
	e.disposed = true
	return rec, nil
}

// Evacuate is symmetric to Transfer but annotates destination for cold
// storage bookkeeping.
func (e *Evidence) Evacuate(destination string) (EvacuateRecord, []byte, *errs.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return EvacuateRecord{}, nil, errs.New(errs.DomainEvidence, errs.EvidenceDisposed, "evidence already disposed")
	}
	b := e.bytes
	rec := EvacuateRecord{
		ID:          e.id,
		Signature:   e.signature,
		Hash:        e.hash,
		Size:        e.size,
		Timestamp:   time.Now().UTC(),
		Destination: destination,
	}
	e.bytes = nil
	e.disposed = true
	return rec, b, nil
}
