// Package factory implements Tracehound's Evidence Factory: the
// encode -> hash -> sign -> construct pipeline that turns a scent and its
// threat verdict into an Evidence handle. Note that the Codec (gzip)
// component is deliberately not part of this pipeline — per §2's
// component dependency order, the Agent orchestrates Rate Limiter ->
// Canonical Encoder -> Hasher -> Evidence Factory -> Quarantine; Codec is
// only exercised later, when evidence bytes move to cold storage or an
// Envelope.
package factory

import (
	"github.com/tracehound/tracehound/internal/canon"
	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/hashutil"
	"github.com/tracehound/tracehound/internal/scent"
)

// Result is the outcome of a successful Create call.
type Result struct {
	Evidence  *evidence.Evidence
	Signature string
	Hash      string
	// Bytes is the canonical payload Evidence was built over. Callers that
	// need a second, independent Evidence handle over the same content
	// (the Hound Pool dispatch path, which must not share a handle with
	// the one Quarantine owns) use this instead of re-encoding.
	Bytes []byte
}

// Factory builds Evidence handles from a scent and a threat verdict.
type Factory struct{}

// New constructs a Factory.
func New() *Factory {
	return &Factory{}
}

// Create runs the factory pipeline: canonicalize -> hash -> signature ->
// Evidence. On any error, no Evidence is produced and no partial state
// leaks (every step allocates only locals).
func (f *Factory) Create(s scent.Scent, threat scent.Threat, maxPayloadSize int) (Result, *errs.Error) {
	if verr := threat.Validate(); verr != nil {
		return Result{}, verr
	}

	enc, err := canon.Encode(s.Payload, maxPayloadSize)
	if err != nil {
		return Result{}, err
	}

	hash := hashutil.SHA256Hex(enc.Bytes)
	signature := string(threat.Category) + ":" + hash

	ev, err := evidence.New(signature, enc.Bytes, threat.Severity, s.Source)
	if err != nil {
		return Result{}, err
	}

	return Result{Evidence: ev, Signature: signature, Hash: hash, Bytes: enc.Bytes}, nil
}
