// Package http is Tracehound's external HTTP adapter: a thin mapping from
// an interceptor.Result to an HTTP response, plus a JWT license-gate
// middleware. Both are explicitly out-of-scope of the core per §1 ("the
// JWT license gate (a pure feature-flag oracle)... only their interface
// contracts appear in §6") — this package is the interface contract's one
// concrete realization, grounded on the teacher's chi router and
// JWTMiddleware.
package http

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/tracehound/tracehound/internal/interceptor"
)

// WriteResult maps an interceptor.Result onto the HTTP response per §6:
// clean/ignored forward (200), rate_limited -> 429 + Retry-After,
// payload_too_large -> 413, quarantined -> 403 with signature, error ->
// 500.
func WriteResult(w http.ResponseWriter, result interceptor.Result) {
	w.Header().Set("Content-Type", "application/json")

	switch result.Status {
	case interceptor.StatusClean, interceptor.StatusIgnored:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": string(result.Status)})

	case interceptor.StatusRateLimited:
		retryAfterSeconds := int(math.Ceil(float64(result.RetryAfter) / 1000))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": string(result.Status), "retryAfterMs": result.RetryAfter})

	case interceptor.StatusPayloadTooLarge:
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": string(result.Status), "limit": result.Limit})

	case interceptor.StatusQuarantined:
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": string(result.Status), "signature": result.Signature})

	case interceptor.StatusError:
		w.WriteHeader(http.StatusInternalServerError)
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": string(result.Status), "error": msg})

	default:
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": "unknown intercept status"})
	}
}
