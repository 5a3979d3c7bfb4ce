package http

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LicenseClaims extends the standard registered claims with the feature
// flags a valid Tracehound license grants. The gate is a pure
// feature-flag oracle: it never touches intercept, quarantine, or audit
// state, only whether a request may proceed.
type LicenseClaims struct {
	jwt.RegisteredClaims
	Features []string `json:"features"`
}

type licenseContextKey int

const claimsKey licenseContextKey = iota

// LicenseGate validates RS256 Bearer tokens and exposes the resulting
// LicenseClaims via LicenseClaimsFromContext. Grounded on the teacher's
// JWTMiddleware: same Bearer-header parsing, same RS256-only method
// restriction, same 401-on-any-failure behavior.
func LicenseGate(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "Authorization header must be Bearer token")
				return
			}

			claims := &LicenseClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return pubKey, nil
			}, jwt.WithValidMethods([]string{"RS256"}))

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired license token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LicenseClaimsFromContext retrieves the claims stored by LicenseGate, or
// nil when no license gate ran on this request.
func LicenseClaimsFromContext(ctx context.Context) *LicenseClaims {
	c, _ := ctx.Value(claimsKey).(*LicenseClaims)
	return c
}

// HasFeature reports whether claims grant the named feature. A nil
// claims (no license gate configured) grants nothing.
func HasFeature(claims *LicenseClaims, feature string) bool {
	if claims == nil {
		return false
	}
	for _, f := range claims.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// InGracePeriod reports whether claims are expired but within graceDays
// of expiry, matching the Security State's "degraded" classification.
func InGracePeriod(claims *LicenseClaims, graceDays int) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	expiry := claims.ExpiresAt.Time
	return time.Now().After(expiry) && time.Now().Before(expiry.AddDate(0, 0, graceDays))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
