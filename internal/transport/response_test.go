package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ouvrio/dossier/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "d-1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["id"] != "d-1" {
		t.Errorf("id = %q, want d-1", body["id"])
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", model.NewBadRequestError("nope"), http.StatusBadRequest},
		{"unauthorized", model.NewUnauthorizedError("who"), http.StatusUnauthorized},
		{"forbidden", model.NewForbiddenError("no"), http.StatusForbidden},
		{"not found", model.NewNotFoundError("gone"), http.StatusNotFound},
		{"conflict", model.NewConflictError("race"), http.StatusConflict},
		{"validation", model.NewValidationError(nil), http.StatusUnprocessableEntity},
		{"invalid transition", model.NewInvalidTransitionError("APPROVED", "DRAFT"), http.StatusUnprocessableEntity},
		{"internal", model.NewInternalError(), http.StatusInternalServerError},
		{"upstream", model.NewUpstreamError("identity provider down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteError_plainErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("something leaked"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	ee := decodeErrorBody(t, rec)
	if ee.Code != model.ErrInternalError {
		t.Errorf("code = %q, want %q", ee.Code, model.ErrInternalError)
	}
	// The raw error text must not reach the client.
	if strings.Contains(rec.Body.String(), "leaked") {
		t.Errorf("internal error detail leaked into response: %s", rec.Body.String())
	}
}

func TestWriteError_envelopeBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, model.NewNotFoundError("dossier not found"))

	ee := decodeErrorBody(t, rec)
	if ee.Code != model.ErrNotFound {
		t.Errorf("code = %q, want %q", ee.Code, model.ErrNotFound)
	}
	if ee.Message != "dossier not found" {
		t.Errorf("message = %q", ee.Message)
	}
}

func TestWriteValidationError_details(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, []model.FieldError{
		{Field: "decision", Code: "invalid", Message: "decision must be APPROVE or REJECT"},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	ee := decodeErrorBody(t, rec)
	if len(ee.Details) != 1 {
		t.Fatalf("details = %d, want 1", len(ee.Details))
	}
	if ee.Details[0].Field != "decision" {
		t.Errorf("details[0].Field = %q, want decision", ee.Details[0].Field)
	}
}

func TestWriteNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNotFound(rec, "step instance not found")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestWriteForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, "staff only")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestDecodeJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"ERROR","reason":"ops"}`))
	var dst overrideStatusRequest
	if err := decodeJSON(r, &dst); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if dst.Status != "ERROR" || dst.Reason != "ops" {
		t.Errorf("decoded = %+v", dst)
	}
}

func TestDecodeJSON_rejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"ERROR","bogus":true}`))
	var dst overrideStatusRequest
	err := decodeJSON(r, &dst)
	if err == nil {
		t.Fatal("decodeJSON() expected error for unknown field")
	}
	if !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("error code = %v, want BAD_REQUEST", err)
	}
}

func TestDecodeJSON_malformedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":`))
	var dst overrideStatusRequest
	if err := decodeJSON(r, &dst); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("error = %v, want BAD_REQUEST", err)
	}
}
