// Package canon implements Tracehound's Canonical Encoder: a deterministic,
// byte-exact serialization of a structured payload in which mapping keys at
// every nesting level are emitted in lexicographic order. Two structurally
// equal payloads that differ only in key order must encode to identical
// bytes.
//
// The recursive-descent approach (rather than json.Marshal + a sort pass)
// is grounded on the RFC 8785 canonicalizer in the reference corpus: walk
// the native value tree directly, sort map keys at each level, and forbid
// non-finite numerics and non-serializable Go kinds along the way.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/tracehound/tracehound/internal/errs"
)

// Result is the output of a successful Encode call.
type Result struct {
	Bytes     []byte // canonical UTF-8 serialization
	Canonical string // Bytes as a string, for convenience
	Size      int    // UTF-8 byte length of Bytes
}

// Encode produces the canonical byte serialization of payload. It fails
// with SCENT_PAYLOAD_INVALID if any value in the tree is non-finite,
// a function, a channel, a complex number, or a map keyed by anything
// other than a string; it fails with AGENT_PAYLOAD_TOO_LARGE if the
// resulting UTF-8 byte length exceeds maxBytes (a value of 0 disables the
// size check).
func Encode(payload any, maxBytes int) (Result, *errs.Error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, payload); err != nil {
		return Result{}, err
	}

	size := buf.Len()
	if maxBytes > 0 && size > maxBytes {
		return Result{}, errs.New(errs.DomainAgent, errs.AgentPayloadTooLarge,
			fmt.Sprintf("canonical payload is %d bytes, exceeds limit of %d", size, maxBytes))
	}

	b := buf.Bytes()
	return Result{Bytes: b, Canonical: string(b), Size: size}, nil
}

func encodeValue(buf *bytes.Buffer, v any) *errs.Error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, t)
	case json.Number:
		return encodeJSONNumber(buf, t)
	case float32:
		return encodeFloat(buf, float64(t))
	case float64:
		return encodeFloat(buf, t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case []any:
		return encodeSlice(buf, t)
	case map[string]any:
		return encodeMap(buf, t)
	}

	// Fall back to reflection for named slice/map/array types. Structs are
	// not handled here and are rejected below as unsupported.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		generic := make([]any, n)
		for i := 0; i < n; i++ {
			generic[i] = rv.Index(i).Interface()
		}
		return encodeSlice(buf, generic)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "map keys must be strings")
		}
		generic := make(map[string]any, rv.Len())
		for _, k := range rv.MapKeys() {
			generic[k.String()] = rv.MapIndex(k).Interface()
		}
		return encodeMap(buf, generic)
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, fmt.Sprintf("unsupported payload kind: %s", rv.Kind()))
	case reflect.Invalid:
		buf.WriteString("null")
		return nil
	default:
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, fmt.Sprintf("unsupported payload type: %T", v))
	}
}

func encodeSlice(buf *bytes.Buffer, t []any) *errs.Error {
	buf.WriteByte('[')
	for i, elem := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, t map[string]any) *errs.Error {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, t[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) *errs.Error {
	if !utf8.ValidString(s) {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "string payload is not valid UTF-8")
	}
	var inner bytes.Buffer
	enc := json.NewEncoder(&inner)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return errs.Wrap(errs.DomainScent, errs.ScentPayloadInvalid, err)
	}
	buf.Write(bytes.TrimSuffix(inner.Bytes(), []byte{'\n'}))
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) *errs.Error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "numeric payload value is not finite")
	}
	b, err := json.Marshal(f)
	if err != nil {
		return errs.Wrap(errs.DomainScent, errs.ScentPayloadInvalid, err)
	}
	buf.Write(b)
	return nil
}

func encodeJSONNumber(buf *bytes.Buffer, n json.Number) *errs.Error {
	f, err := n.Float64()
	if err != nil {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "malformed numeric payload value")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "numeric payload value is not finite")
	}
	buf.WriteString(n.String())
	return nil
}
