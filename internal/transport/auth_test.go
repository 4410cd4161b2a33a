package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/config"
	"github.com/ouvrio/dossier/model"
)

const testKID = "unit-key-1"

// newJWKSServer serves a single-key JWKS for the given RSA key.
func newJWKSServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	jwk := map[string]any{
		"kid": testKID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{jwk}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func TestJWKSClient_GetKey(t *testing.T) {
	key := newTestKey(t)
	srv := newJWKSServer(t, key)

	c := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())
	got, err := c.GetKey(testKID)
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	pub, ok := got.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("GetKey() returned %T, want *rsa.PublicKey", got)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("returned modulus does not match the served key")
	}
}

func TestJWKSClient_unknownKid(t *testing.T) {
	srv := newJWKSServer(t, newTestKey(t))

	c := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())
	if _, err := c.GetKey("no-such-kid"); err == nil {
		t.Fatal("GetKey(unknown kid) expected error")
	}
}

func TestJWKSClient_degradedModeUsesCachedKey(t *testing.T) {
	key := newTestKey(t)
	srv := newJWKSServer(t, key)

	c := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())
	if _, err := c.GetKey(testKID); err != nil {
		t.Fatalf("initial GetKey() error = %v", err)
	}

	// Endpoint goes away and the cache expires; the stale key still serves.
	srv.Close()
	c.mu.Lock()
	c.lastFetch = time.Now().Add(-2 * time.Hour)
	c.minRefresh = 0
	c.mu.Unlock()

	got, err := c.GetKey(testKID)
	if err != nil {
		t.Fatalf("GetKey() in degraded mode error = %v", err)
	}
	if got == nil {
		t.Fatal("GetKey() in degraded mode returned nil key")
	}
}

func TestIdentityFromClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   Identity
	}{
		{
			name:   "agent token",
			claims: map[string]any{"sub": "agent-1", "email": "a@unit.test", "role": model.RoleAgent},
			want:   Identity{SubjectID: "agent-1", Email: "a@unit.test", Role: model.RoleAgent},
		},
		{
			name:   "missing role defaults to client",
			claims: map[string]any{"sub": "client-1"},
			want:   Identity{SubjectID: "client-1", Role: model.RoleClient},
		},
		{
			name:   "non-string role defaults to client",
			claims: map[string]any{"sub": "client-1", "role": 42},
			want:   Identity{SubjectID: "client-1", Role: model.RoleClient},
		},
		{
			name: "nil claims",
			want: Identity{Role: model.RoleClient},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IdentityFromClaims(tt.claims); got != tt.want {
				t.Errorf("IdentityFromClaims() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestJSONWebKey_publicKey(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}

	jwk := jsonWebKey{
		Kid: "ec-key-1",
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.X.Bytes()),
		Y:   base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.Y.Bytes()),
	}
	got, err := jwk.publicKey()
	if err != nil {
		t.Fatalf("publicKey() error = %v", err)
	}
	pub, ok := got.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("publicKey() returned %T, want *ecdsa.PublicKey", got)
	}
	if pub.X.Cmp(ecKey.PublicKey.X) != 0 || pub.Y.Cmp(ecKey.PublicKey.Y) != 0 {
		t.Error("returned point does not match the source key")
	}

	bad := []jsonWebKey{
		{Kty: "EC", Crv: "P-999", X: jwk.X, Y: jwk.Y},
		{Kty: "EC", Crv: "P-256"},
		{Kty: "RSA"},
		{Kty: "oct"},
	}
	for _, b := range bad {
		if _, err := b.publicKey(); err == nil {
			t.Errorf("publicKey() on %+v expected error", b)
		}
	}
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testIdentityConfig(jwksURL string) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.unit.test",
		Audience:   "dossier-api",
		JWKSURL:    jwksURL,
		Algorithms: []string{"RS256"},
	}
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	key := newTestKey(t)
	srv := newJWKSServer(t, key)
	cfg := testIdentityConfig(srv.URL)
	jwks := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())

	var claims map[string]any
	h := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFrom(r.Context())
	}))

	token := signTestToken(t, key, jwt.MapClaims{
		"iss":  cfg.Issuer,
		"aud":  cfg.Audience,
		"sub":  "user-1",
		"role": "AGENT",
		"iat":  jwt.NewNumericDate(time.Now()),
		"exp":  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/dossiers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if claims["sub"] != "user-1" {
		t.Errorf("sub claim = %v, want user-1", claims["sub"])
	}
	if claims["role"] != "AGENT" {
		t.Errorf("role claim = %v, want AGENT", claims["role"])
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	key := newTestKey(t)
	srv := newJWKSServer(t, key)
	cfg := testIdentityConfig(srv.URL)
	jwks := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())

	h := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with an invalid token")
	}))

	now := time.Now()
	base := jwt.MapClaims{
		"iss": cfg.Issuer,
		"aud": cfg.Audience,
		"sub": "user-1",
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(time.Hour)),
	}

	withClaim := func(key string, value any) jwt.MapClaims {
		claims := jwt.MapClaims{}
		for k, v := range base {
			claims[k] = v
		}
		claims[key] = value
		return claims
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + signTestToken(t, key, withClaim("exp", jwt.NewNumericDate(now.Add(-time.Hour))))},
		{"wrong issuer", "Bearer " + signTestToken(t, key, withClaim("iss", "https://evil.example"))},
		{"wrong audience", "Bearer " + signTestToken(t, key, withClaim("aud", "another-api"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dossiers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestJWTAuthenticator_rejectsDisallowedAlgorithm(t *testing.T) {
	key := newTestKey(t)
	srv := newJWKSServer(t, key)
	cfg := testIdentityConfig(srv.URL)
	jwks := NewJWKSClient(srv.URL, time.Hour, zap.NewNop())

	h := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with an HS256 token")
	}))

	// Symmetric token signed with an attacker-chosen secret.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": cfg.Issuer,
		"aud": cfg.Audience,
		"sub": "user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = testKID
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/dossiers", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
