package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/interceptor"
)

func TestWriteResultStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		result     interceptor.Result
		wantStatus int
	}{
		{"clean", interceptor.Result{Status: interceptor.StatusClean}, 200},
		{"ignored", interceptor.Result{Status: interceptor.StatusIgnored, Signature: "sig"}, 200},
		{"rate limited", interceptor.Result{Status: interceptor.StatusRateLimited, RetryAfter: 5000}, 429},
		{"payload too large", interceptor.Result{Status: interceptor.StatusPayloadTooLarge, Limit: 1024}, 413},
		{"quarantined", interceptor.Result{Status: interceptor.StatusQuarantined, Signature: "sig"}, 403},
		{"error", interceptor.Result{Status: interceptor.StatusError, Err: errs.New(errs.DomainAgent, errs.AgentInterceptFailed, "boom")}, 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteResult(rec, tc.result)
			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestWriteResultRateLimitedSetsRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResult(rec, interceptor.Result{Status: interceptor.StatusRateLimited, RetryAfter: 2500})
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After to round up to 3 seconds, got %q", got)
	}
}

func TestWriteResultQuarantinedIncludesSignature(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResult(rec, interceptor.Result{Status: interceptor.StatusQuarantined, Signature: "abc:def"})

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["signature"] != "abc:def" {
		t.Fatalf("expected signature in body, got %+v", body)
	}
}
