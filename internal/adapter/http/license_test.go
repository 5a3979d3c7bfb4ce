package http

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func genKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	return priv, &priv.PublicKey
}

func signToken(t *testing.T, priv *rsa.PrivateKey, claims LicenseClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}
	return tok
}

func gatedHandler(pub *rsa.PublicKey) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := LicenseClaimsFromContext(r.Context())
		if HasFeature(claims, "hound_pool") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	return LicenseGate(pub)(inner)
}

func TestLicenseGateAcceptsValidToken(t *testing.T) {
	priv, pub := genKeyPair(t)
	claims := LicenseClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Features:         []string{"hound_pool"},
	}
	tok := signToken(t, priv, claims)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	gatedHandler(pub).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid token granting the feature, got %d", rec.Code)
	}
}

func TestLicenseGateRejectsMissingHeader(t *testing.T) {
	_, pub := genKeyPair(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	gatedHandler(pub).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing Authorization header, got %d", rec.Code)
	}
}

func TestLicenseGateRejectsExpiredToken(t *testing.T) {
	priv, pub := genKeyPair(t)
	claims := LicenseClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}
	tok := signToken(t, priv, claims)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	gatedHandler(pub).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", rec.Code)
	}
}

func TestLicenseGateRejectsWrongSigningKey(t *testing.T) {
	priv, _ := genKeyPair(t)
	_, otherPub := genKeyPair(t)
	tok := signToken(t, priv, LicenseClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	gatedHandler(otherPub).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when token is signed by an untrusted key, got %d", rec.Code)
	}
}

func TestLicenseGateRejectsHS256Token(t *testing.T) {
	_, pub := genKeyPair(t)
	hsTok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tok, err := hsTok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("signing HS256 token failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	gatedHandler(pub).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when token uses a non-RS256 algorithm, got %d", rec.Code)
	}
}

func TestHasFeatureNilClaimsGrantsNothing(t *testing.T) {
	if HasFeature(nil, "hound_pool") {
		t.Fatal("expected nil claims to grant no features")
	}
}

func TestInGracePeriod(t *testing.T) {
	within := LicenseClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	if !InGracePeriod(&within, 7) {
		t.Fatal("expected a token expired one hour ago to be within a 7-day grace period")
	}

	expired := LicenseClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().AddDate(0, 0, -30)),
	}}
	if InGracePeriod(&expired, 7) {
		t.Fatal("expected a token expired 30 days ago to be outside a 7-day grace period")
	}

	if InGracePeriod(nil, 7) {
		t.Fatal("expected nil claims to never be in a grace period")
	}
}
