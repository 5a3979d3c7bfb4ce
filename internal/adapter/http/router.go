package http

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tracehound/tracehound/internal/interceptor"
	"github.com/tracehound/tracehound/internal/notify"
	"github.com/tracehound/tracehound/internal/scent"
)

// licenseGraceDays is the window after expiry during which a license is
// reported as "in grace" rather than outright expired. It is passed to
// InGracePeriod, which has no default of its own.
const licenseGraceDays = 7

// scentRequest is the inbound wire shape a caller posts to /v1/intercept.
// Building a scent from an HTTP request is explicitly a transport-adapter
// concern, not a core one — §1 lists "how a request becomes a scent" as
// out of scope.
type scentRequest struct {
	Source    string         `json:"source"`
	Payload   any            `json:"payload"`
	Category  scent.Category `json:"category,omitempty"`
	Severity  scent.Severity `json:"severity,omitempty"`
}

// NewRouter returns a configured chi.Router fronting agent.Intercept.
// pubKey enables the JWT license gate on /v1/intercept; pass nil to
// disable it (useful for tests that only exercise status mapping). state
// may be nil; when set, a license's grace-period status is fed into it on
// every gated request.
func NewRouter(agent *interceptor.Agent, pubKey *rsa.PublicKey, state *notify.SecurityState) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(LicenseGate(pubKey))
			if state != nil {
				r.Use(licenseGraceMiddleware(state))
			}
		}
		r.Post("/intercept", handleIntercept(agent))
	})

	return r
}

// licenseGraceMiddleware runs after LicenseGate and feeds the request's
// grace-period status into state, without changing LicenseGate's own
// signature or behavior.
func licenseGraceMiddleware(state *notify.SecurityState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := LicenseClaimsFromContext(r.Context())
			state.SetLicenseGrace(InGracePeriod(claims, licenseGraceDays))
			next.ServeHTTP(w, r)
		})
	}
}

func handleIntercept(agent *interceptor.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}

		s := scent.Scent{ID: uuid.NewString(), Source: req.Source, Payload: req.Payload, Timestamp: time.Now().UnixMilli()}
		if req.Category != "" || req.Severity != "" {
			s.Threat = &scent.Threat{Category: req.Category, Severity: req.Severity}
		}

		result := agent.Intercept(s)
		WriteResult(w, result)
	}
}
