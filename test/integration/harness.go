// Package integration provides a reusable test harness for end-to-end
// testing of the dossier API. It starts a full HTTP server over in-memory
// collaborators with a real JWT verification chain backed by a test issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/config"
	"github.com/ouvrio/dossier/internal/engine"
	"github.com/ouvrio/dossier/internal/filestore"
	"github.com/ouvrio/dossier/internal/notify"
	"github.com/ouvrio/dossier/internal/observability"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/internal/transport"
	"github.com/ouvrio/dossier/model"
)

// TestHarness encapsulates a fully wired dossier API instance.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store        *store.MemoryStore
	Catalog      *catalog.Registry
	Files        *filestore.MemoryStorage
	Sink         *notify.MemorySink
	Orchestrator *engine.Orchestrator
}

// NewTestHarness creates and starts a full API instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	loader := catalog.NewLoader()
	defs, err := loader.LoadAll([]string{testdataDir()})
	if err != nil {
		t.Fatalf("load catalog fixtures: %v", err)
	}
	cat := catalog.NewRegistry(defs)

	st := store.NewMemoryStore()
	files := filestore.NewMemoryStorage()
	sink := notify.NewMemorySink()
	logger := zap.NewNop()

	bal := engine.NewBalancer(st)
	lc := engine.NewLifecycle(st, cat, bal)
	sm := engine.NewStateMachine(st, cat, lc)
	docs := engine.NewDocuments(st, cat, files)
	orch := engine.NewOrchestrator(st, cat, lc, sm, bal, docs, sink, logger)

	issuer := newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = config.Duration(10 * time.Second)
	cfg.Identity = config.IdentityConfig{
		Issuer:       issuer.Issuer(),
		Audience:     issuer.Audience(),
		JWKSURL:      issuer.JWKSURL(),
		JWKSCacheTTL: config.Duration(1 * time.Hour),
		Algorithms:   []string{"RS256"},
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL.Std(), logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Handler:      transport.NewHandler(orch, logger),
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness: observability.ReadinessChecks{
			CatalogLoaded: func() bool { return cat.ProductCount() > 0 },
		},
	})

	h := &TestHarness{
		t:            t,
		issuer:       issuer,
		Store:        st,
		Catalog:      cat,
		Files:        files,
		Sink:         sink,
		Orchestrator: orch,
	}
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// testdataDir resolves the testdata directory next to this source file.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// ClientToken creates a token for a dossier owner.
func (h *TestHarness) ClientToken(subjectID string) string {
	return h.GenerateToken(TestClaims{
		SubjectID: subjectID,
		Email:     subjectID + "@example.com",
		Role:      model.RoleClient,
	})
}

// AgentToken creates a token for a staff agent.
func (h *TestHarness) AgentToken(subjectID string) string {
	return h.GenerateToken(TestClaims{
		SubjectID: subjectID,
		Email:     subjectID + "@example.com",
		Role:      model.RoleAgent,
	})
}

// AdminToken creates a token for an administrator.
func (h *TestHarness) AdminToken(subjectID string) string {
	return h.GenerateToken(TestClaims{
		SubjectID: subjectID,
		Email:     subjectID + "@example.com",
		Role:      model.RoleAdmin,
	})
}

// SeedAgent registers an active agent of the given type in the store.
func (h *TestHarness) SeedAgent(id, agentType string) {
	h.Store.PutAgent(model.Agent{
		ID:        id,
		Email:     id + "@example.com",
		AgentType: agentType,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

// Do performs a pre-built request against the harness server. The path is
// appended to the server base URL by the caller.
func (h *TestHarness) Do(req *http.Request) *http.Response {
	h.t.Helper()
	resp, err := h.httpClient().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func (h *TestHarness) httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// ParseJSON reads and closes the response body, unmarshaling it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v (body: %s)", err, data)
	}
}
