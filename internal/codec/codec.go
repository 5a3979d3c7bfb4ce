// Package codec implements Tracehound's gzip Codec: a capability-restricted
// pair of interfaces (HotCodec encode-only, ColdCodec encode+decode) with
// both synchronous and cooperative-async realizations that must produce
// byte-identical output for the same input. Components that must never
// reconstruct payloads (the Agent, the Hound Pool, Quarantine) are given
// only a HotCodec.
package codec

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/hashutil"
)

// EncodedPayload is the cold-storage tuple produced by EncodeWithIntegrity.
type EncodedPayload struct {
	Compressed     []byte
	Hash           string // hex SHA-256 of Compressed
	OriginalSize   int
	CompressedSize int
}

// HotCodec is the encode-only capability. Hold this type, not ColdCodec, in
// any component that must be structurally incapable of decoding payloads.
type HotCodec interface {
	EncodeWithIntegrity(ctx context.Context, data []byte) (EncodedPayload, *errs.Error)
}

// ColdCodec adds decode to HotCodec. Only components with a legitimate need
// to reconstruct payload bytes (cold storage readers, forensic tooling)
// should hold a ColdCodec.
type ColdCodec interface {
	HotCodec
	// Verify recomputes the hash of ep.Compressed and compares it
	// constant-time against ep.Hash. Callers must Verify before Decode.
	Verify(ep EncodedPayload) bool
	// DecodeWithIntegrity decompresses ep.Compressed. It fails with
	// CODEC_DECODE_FAILED on a corrupt stream; the error always propagates,
	// never swallowed.
	DecodeWithIntegrity(ctx context.Context, ep EncodedPayload) ([]byte, *errs.Error)
}

func gzipEncode(data []byte) (EncodedPayload, *errs.Error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return EncodedPayload{}, errs.Wrap(errs.DomainCodec, errs.CodecEncodeFailed, err)
	}
	if err := w.Close(); err != nil {
		return EncodedPayload{}, errs.Wrap(errs.DomainCodec, errs.CodecEncodeFailed, err)
	}
	compressed := buf.Bytes()
	return EncodedPayload{
		Compressed:     compressed,
		Hash:           hashutil.SHA256Hex(compressed),
		OriginalSize:   len(data),
		CompressedSize: len(compressed),
	}, nil
}

func gzipVerify(ep EncodedPayload) bool {
	return hashutil.ConstantTimeEqual(hashutil.SHA256Hex(ep.Compressed), ep.Hash)
}

func gzipDecode(ep EncodedPayload) ([]byte, *errs.Error) {
	r, err := gzip.NewReader(bytes.NewReader(ep.Compressed))
	if err != nil {
		return nil, errs.Wrap(errs.DomainCodec, errs.CodecDecodeFailed, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.DomainCodec, errs.CodecDecodeFailed, err)
	}
	return data, nil
}

// --- synchronous realization ---

type syncHot struct{}

// NewSyncHotCodec returns the synchronous, encode-only Codec realization.
func NewSyncHotCodec() HotCodec { return syncHot{} }

func (syncHot) EncodeWithIntegrity(_ context.Context, data []byte) (EncodedPayload, *errs.Error) {
	return gzipEncode(data)
}

type syncCold struct{ syncHot }

// NewSyncColdCodec returns the synchronous encode+decode Codec realization.
func NewSyncColdCodec() ColdCodec { return syncCold{} }

func (syncCold) Verify(ep EncodedPayload) bool { return gzipVerify(ep) }

func (syncCold) DecodeWithIntegrity(_ context.Context, ep EncodedPayload) ([]byte, *errs.Error) {
	return gzipDecode(ep)
}

// --- cooperative-async realization ---

type encodeResult struct {
	ep  EncodedPayload
	err *errs.Error
}

type decodeResult struct {
	data []byte
	err  *errs.Error
}

type asyncHot struct{}

// NewAsyncHotCodec returns the cooperative-async, encode-only Codec
// realization: the gzip work runs on its own goroutine and the caller
// suspends on ctx or completion, matching §5's "awaiting compression when
// using the cooperative codec" suspension point.
func NewAsyncHotCodec() HotCodec { return asyncHot{} }

func (asyncHot) EncodeWithIntegrity(ctx context.Context, data []byte) (EncodedPayload, *errs.Error) {
	ch := make(chan encodeResult, 1)
	go func() {
		ep, err := gzipEncode(data)
		ch <- encodeResult{ep, err}
	}()
	select {
	case r := <-ch:
		return r.ep, r.err
	case <-ctx.Done():
		return EncodedPayload{}, errs.Wrap(errs.DomainCodec, errs.CodecEncodeFailed, ctx.Err())
	}
}

type asyncCold struct{ asyncHot }

// NewAsyncColdCodec returns the cooperative-async encode+decode Codec
// realization.
func NewAsyncColdCodec() ColdCodec { return asyncCold{} }

func (asyncCold) Verify(ep EncodedPayload) bool { return gzipVerify(ep) }

func (asyncCold) DecodeWithIntegrity(ctx context.Context, ep EncodedPayload) ([]byte, *errs.Error) {
	ch := make(chan decodeResult, 1)
	go func() {
		data, err := gzipDecode(ep)
		ch <- decodeResult{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, errs.Wrap(errs.DomainCodec, errs.CodecDecodeFailed, ctx.Err())
	}
}
