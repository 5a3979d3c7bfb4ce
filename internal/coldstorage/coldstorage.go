// Package coldstorage implements the Cold Storage Adapter: write/read/
// delete/isAvailable over a backend-agnostic object contract. Write
// composes envelope.Pack over a codec-produced EncodedPayload and puts the
// bytes at "<prefix><id>.thcs"; read gets, unpacks, and returns the
// payload for the caller to verify before decode. No backend method
// throws — every failure is captured into the Result it returns.
package coldstorage

import (
	"context"

	"github.com/tracehound/tracehound/internal/codec"
	"github.com/tracehound/tracehound/internal/envelope"
	"github.com/tracehound/tracehound/internal/errs"
)

// WriteResult is the outcome of Write.
type WriteResult struct {
	Success bool
	ID      string
	Err     *errs.Error
}

// ReadResult is the outcome of Read.
type ReadResult struct {
	Success bool
	Payload codec.EncodedPayload
	Err     *errs.Error
}

// objectStore is the four-operation contract every backend implements
// over raw bytes; Adapter layers envelope packing/unpacking on top.
type objectStore interface {
	putObject(ctx context.Context, key string, body []byte) error
	getObject(ctx context.Context, key string) ([]byte, error)
	deleteObject(ctx context.Context, key string) error
	headBucket(ctx context.Context) error
}

// Adapter is the Cold Storage Adapter, backed by any objectStore
// implementation (filesystem, S3, Postgres).
type Adapter struct {
	store  objectStore
	prefix string
}

func newAdapter(store objectStore, prefix string) *Adapter {
	return &Adapter{store: store, prefix: prefix}
}

func (a *Adapter) keyFor(id string) string {
	return a.prefix + id + ".thcs"
}

// Write packs ep into an envelope and puts it at <prefix><id>.thcs.
// Overwrites are allowed and last-write-wins.
func (a *Adapter) Write(ctx context.Context, id string, ep codec.EncodedPayload) WriteResult {
	buf := envelope.Pack(ep)
	if err := a.store.putObject(ctx, a.keyFor(id), buf); err != nil {
		return WriteResult{Err: errs.Wrap(errs.DomainColdStorage, errs.ColdWriteFailed, err)}
	}
	return WriteResult{Success: true, ID: id}
}

// Read gets the object at <prefix><id>.thcs and unpacks its envelope. The
// caller must call codec.ColdCodec.Verify on the returned payload before
// attempting to decode it.
func (a *Adapter) Read(ctx context.Context, id string) ReadResult {
	buf, err := a.store.getObject(ctx, a.keyFor(id))
	if err != nil {
		return ReadResult{Err: errs.Wrap(errs.DomainColdStorage, errs.ColdReadFailed, err)}
	}
	ep, ok := envelope.Unpack(buf)
	if !ok {
		return ReadResult{Err: errs.New(errs.DomainColdStorage, errs.ColdReadFailed, "envelope is malformed or uses an unsupported version")}
	}
	return ReadResult{Success: true, Payload: ep}
}

// Delete removes the object at <prefix><id>.thcs. It returns false on a
// backend error. Deleting an object that does not exist is not an error,
// so a repeated Delete of the same id returns true.
func (a *Adapter) Delete(ctx context.Context, id string) bool {
	return a.store.deleteObject(ctx, a.keyFor(id)) == nil
}

// IsAvailable reports whether the backend is currently reachable.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.store.headBucket(ctx) == nil
}
