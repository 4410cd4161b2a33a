package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
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
	"github.com/ouvrio/dossier/model"
)

// testServer wires the full router over in-memory collaborators, with a fake
// authenticator that trusts X-Test-Subject and X-Test-Role headers.
type testServer struct {
	router http.Handler
	store  *store.MemoryStore
	sink   *notify.MemorySink
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cat := catalog.NewRegistry([]catalog.Definition{
		{
			Products: []catalog.Product{
				{
					ID:    "llc-standard",
					Label: "LLC Standard",
					Steps: []catalog.ProductStep{
						{StepCode: "personal_info", Position: 1, DossierStatusOnApproval: model.DossierStatusFormSubmitted},
						{StepCode: "company_creation", Position: 2, DossierStatusOnApproval: model.DossierStatusLLCAccepted},
					},
				},
			},
			Steps: []catalog.Step{
				{Code: "personal_info", Type: model.StepTypeClient, Position: 1, DocumentTypes: []string{"passport"}},
				{Code: "company_creation", Type: model.StepTypeAdmin, Position: 2},
			},
			DocumentTypes: []catalog.DocumentType{
				{ID: "passport", AllowedExtensions: []string{"pdf", "jpg"}, MaxFileSizeMB: 10},
			},
		},
	})

	st := store.NewMemoryStore()
	files := filestore.NewMemoryStorage()
	sink := notify.NewMemorySink()

	bal := engine.NewBalancer(st)
	lc := engine.NewLifecycle(st, cat, bal)
	sm := engine.NewStateMachine(st, cat, lc)
	docs := engine.NewDocuments(st, cat, files)
	orch := engine.NewOrchestrator(st, cat, lc, sm, bal, docs, sink, zap.NewNop())

	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = true

	authenticate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := r.Header.Get("X-Test-Subject")
			if sub == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			claims := map[string]any{"sub": sub}
			if role := r.Header.Get("X-Test-Role"); role != "" {
				claims["role"] = role
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}

	router := NewRouter(Dependencies{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Handler:      NewHandler(orch, zap.NewNop()),
		Authenticate: authenticate,
		Readiness: observability.ReadinessChecks{
			CatalogLoaded: func() bool { return true },
		},
	})

	return &testServer{router: router, store: st, sink: sink}
}

func (s *testServer) seedVerifier(id string) {
	s.store.PutAgent(model.Agent{
		ID:        id,
		Email:     id + "@example.com",
		AgentType: model.AgentTypeVerifier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

// do sends a JSON request through the router as the given subject and role.
func (s *testServer) do(t *testing.T, method, path, subject, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
		req.Header.Set("X-Test-Role", role)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func parseJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response body: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

// createDossier drives the creation endpoint as an agent and returns the
// created dossier.
func (s *testServer) createDossier(t *testing.T, ownerID string) model.Dossier {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/dossiers", "agent-1", model.RoleAgent, map[string]any{
		"owner_id":   ownerID,
		"product_id": "llc-standard",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create dossier: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return parseJSON[model.Dossier](t, rec)
}

func TestRouter_publicRoutesBypassAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/ready", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready status = %d, want 200", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/metrics", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", rec.Code)
	}
}

func TestRouter_apiRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/dossiers/d-1", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleCreateDossier(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/dossiers", "agent-1", model.RoleAgent, map[string]any{
		"owner_id":   "client-1",
		"product_id": "llc-standard",
		"metadata":   map[string]any{"source": "backoffice"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	d := parseJSON[model.Dossier](t, rec)
	if d.ID == "" {
		t.Error("dossier ID is empty")
	}
	if d.Status != model.DossierStatusQualification {
		t.Errorf("status = %q, want QUALIFICATION", d.Status)
	}
	if d.OwnerID != "client-1" {
		t.Errorf("owner = %q, want client-1", d.OwnerID)
	}
}

func TestHandleCreateDossier_clientForbidden(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/dossiers", "client-1", model.RoleClient, map[string]any{
		"owner_id":   "client-1",
		"product_id": "llc-standard",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandleCreateDossier_unknownField(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/dossiers", "agent-1", model.RoleAgent, map[string]any{
		"owner_id":   "client-1",
		"product_id": "llc-standard",
		"surprise":   true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetDossier(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodGet, "/api/dossiers/"+d.ID, "client-1", model.RoleClient, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	detail := parseJSON[dossierDetail](t, rec)
	if detail.ID != d.ID {
		t.Errorf("id = %q, want %q", detail.ID, d.ID)
	}
	if len(detail.StepInstances) != 1 {
		t.Fatalf("step_instances = %d, want 1", len(detail.StepInstances))
	}
	if detail.StepInstances[0].StepCode != "personal_info" {
		t.Errorf("first step = %q, want personal_info", detail.StepInstances[0].StepCode)
	}
}

func TestHandleGetDossier_foreignClientGets404(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodGet, "/api/dossiers/"+d.ID, "client-2", model.RoleClient, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetDossier_unassignedAgentGets404(t *testing.T) {
	s := newTestServer(t)
	s.seedVerifier("verifier-9")
	d := s.createDossier(t, "client-1")

	// verifier-9 holds no assignment on the dossier, so it is invisible.
	rec := s.do(t, http.MethodGet, "/api/dossiers/"+d.ID, "verifier-9", model.RoleAgent, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSubmitStep(t *testing.T) {
	s := newTestServer(t)
	s.seedVerifier("verifier-1")
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/steps/personal_info/submit",
		"client-1", model.RoleClient, map[string]any{
			"field_values": map[string]any{"first_name": "Ada"},
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	inst := parseJSON[model.StepInstance](t, rec)
	if inst.ValidationStatus != model.ValidationSubmitted {
		t.Errorf("validation status = %q, want SUBMITTED", inst.ValidationStatus)
	}
	if inst.AssignedTo != "verifier-1" {
		t.Errorf("assigned_to = %q, want verifier-1", inst.AssignedTo)
	}
}

func TestHandleReviewStep_approveAdvancesDossier(t *testing.T) {
	s := newTestServer(t)
	s.seedVerifier("verifier-1")
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/steps/personal_info/submit",
		"client-1", model.RoleClient, map[string]any{"field_values": map[string]any{"x": 1}})
	inst := parseJSON[model.StepInstance](t, rec)

	rec = s.do(t, http.MethodPost, "/api/step-instances/"+inst.ID+"/review",
		"verifier-1", model.RoleAgent, map[string]any{"decision": "APPROVE"})
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/dossiers/"+d.ID, "verifier-1", model.RoleAgent, nil)
	detail := parseJSON[dossierDetail](t, rec)
	if detail.Status != model.DossierStatusFormSubmitted {
		t.Errorf("dossier status = %q, want FORM_SUBMITTED", detail.Status)
	}

	rec = s.do(t, http.MethodGet, "/api/dossiers/"+d.ID+"/history", "verifier-1", model.RoleAgent, nil)
	history := parseJSON[map[string][]model.DossierStatusHistory](t, rec)
	if len(history["history"]) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history["history"]))
	}
	if history["history"][0].NewStatus != model.DossierStatusFormSubmitted {
		t.Errorf("history new_status = %q", history["history"][0].NewStatus)
	}
}

func TestHandleReviewStep_unknownDecision(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/step-instances/si-1/review",
		"verifier-1", model.RoleAgent, map[string]any{"decision": "MAYBE"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	ee := decodeErrorBody(t, rec)
	if len(ee.Details) != 1 || ee.Details[0].Field != "decision" {
		t.Errorf("details = %+v, want one decision error", ee.Details)
	}
}

func TestHandleResubmitStep(t *testing.T) {
	s := newTestServer(t)
	s.seedVerifier("verifier-1")
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/steps/personal_info/submit",
		"client-1", model.RoleClient, map[string]any{"field_values": map[string]any{"first_name": "Adda"}})
	inst := parseJSON[model.StepInstance](t, rec)

	rec = s.do(t, http.MethodPost, "/api/step-instances/"+inst.ID+"/review",
		"verifier-1", model.RoleAgent, map[string]any{"decision": "REJECT", "reason": "typo in name"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/step-instances/"+inst.ID+"/resubmit",
		"client-1", model.RoleClient, map[string]any{"field_values": map[string]any{"first_name": "Ada"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("resubmit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := parseJSON[model.StepInstance](t, rec)
	if got.ValidationStatus != model.ValidationSubmitted {
		t.Errorf("validation status = %q, want SUBMITTED", got.ValidationStatus)
	}
	if got.RejectionReason != "" {
		t.Errorf("rejection reason = %q, want cleared", got.RejectionReason)
	}
}

func TestHandleOverrideStatus(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/status",
		"admin-1", model.RoleAdmin, map[string]any{"status": "ERROR", "reason": "manual correction"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := parseJSON[model.Dossier](t, rec)
	if got.Status != model.DossierStatusError {
		t.Errorf("dossier status = %q, want ERROR", got.Status)
	}
}

func TestHandleOverrideStatus_agentForbidden(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/status",
		"agent-1", model.RoleAgent, map[string]any{"status": "ERROR", "reason": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandleOverrideStatus_reasonRequired(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/status",
		"admin-1", model.RoleAdmin, map[string]any{"status": "ERROR"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestHandleUnassignedQueue(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/step-instances/unassigned", "agent-1", model.RoleAgent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// Empty queue still serializes as an array, never null.
	body := parseJSON[map[string]json.RawMessage](t, rec)
	if string(body["step_instances"]) != "[]" {
		t.Errorf("step_instances = %s, want []", body["step_instances"])
	}
}

func TestHandleUnassignedQueue_clientForbidden(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/step-instances/unassigned", "client-1", model.RoleClient, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandleSetAssignee(t *testing.T) {
	s := newTestServer(t)
	s.seedVerifier("verifier-1")
	s.seedVerifier("verifier-2")
	d := s.createDossier(t, "client-1")

	rec := s.do(t, http.MethodPost, "/api/dossiers/"+d.ID+"/steps/personal_info/submit",
		"client-1", model.RoleClient, map[string]any{"field_values": map[string]any{}})
	inst := parseJSON[model.StepInstance](t, rec)

	rec = s.do(t, http.MethodPut, "/api/step-instances/"+inst.ID+"/assignee",
		"admin-1", model.RoleAdmin, map[string]any{"agent_id": "verifier-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := parseJSON[model.StepInstance](t, rec)
	if got.AssignedTo != "verifier-2" {
		t.Errorf("assigned_to = %q, want verifier-2", got.AssignedTo)
	}
}

// --- document endpoints ---

// multipartUpload builds a multipart body with document_type_id and a file
// part carrying the given filename and content.
func multipartUpload(t *testing.T, docTypeID, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("document_type_id", docTypeID); err != nil {
		t.Fatalf("writing field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating file part: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("writing file content: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, dossierID, subject, role, docTypeID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, docTypeID, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/dossiers/"+dossierID+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-Subject", subject)
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleUploadDocument(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "scan.pdf", []byte("%PDF-1.4"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := parseJSON[uploadResponse](t, rec)
	if resp.Version.VersionNumber != 1 {
		t.Errorf("version = %d, want 1", resp.Version.VersionNumber)
	}
	if resp.Document.CurrentVersionID != resp.Version.ID {
		t.Errorf("current pointer = %q, want %q", resp.Document.CurrentVersionID, resp.Version.ID)
	}
}

func TestHandleUploadDocument_missingDocType(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "", "scan.pdf", []byte("x"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	ee := decodeErrorBody(t, rec)
	if len(ee.Details) != 1 || ee.Details[0].Field != "document_type_id" {
		t.Errorf("details = %+v", ee.Details)
	}
}

func TestHandleUploadDocument_missingFilePart(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("document_type_id", "passport"); err != nil {
		t.Fatalf("writing field: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/dossiers/"+d.ID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-Subject", "client-1")
	req.Header.Set("X-Test-Role", model.RoleClient)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestHandleUploadDocument_disallowedExtension(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "virus.exe", []byte("MZ"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleDocumentVersions(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "scan.pdf", []byte("v1"))
	resp := parseJSON[uploadResponse](t, rec)
	s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "rescan.pdf", []byte("v2"))

	rec = s.do(t, http.MethodGet, "/api/documents/"+resp.Document.ID+"/versions",
		"client-1", model.RoleClient, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := parseJSON[map[string][]model.DocumentVersion](t, rec)
	if len(body["versions"]) != 2 {
		t.Fatalf("versions = %d, want 2", len(body["versions"]))
	}
	if body["versions"][1].VersionNumber != 2 {
		t.Errorf("last version = %d, want 2", body["versions"][1].VersionNumber)
	}
}

func TestHandleClearDocumentCurrent(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "scan.pdf", []byte("v1"))
	resp := parseJSON[uploadResponse](t, rec)

	rec = s.do(t, http.MethodDelete, "/api/documents/"+resp.Document.ID+"/current",
		"admin-1", model.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := parseJSON[model.Document](t, rec)
	if got.CurrentVersionID != "" {
		t.Errorf("current pointer = %q, want cleared", got.CurrentVersionID)
	}
}

func TestHandleClearDocumentCurrent_clientForbidden(t *testing.T) {
	s := newTestServer(t)
	d := s.createDossier(t, "client-1")

	rec := s.upload(t, d.ID, "client-1", model.RoleClient, "passport", "scan.pdf", []byte("v1"))
	resp := parseJSON[uploadResponse](t, rec)

	rec = s.do(t, http.MethodDelete, "/api/documents/"+resp.Document.ID+"/current",
		"client-1", model.RoleClient, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
