package model

import (
	"errors"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "dossier not found"}
	want := "NOT_FOUND: dossier not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("resource missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "resource missing" {
		t.Errorf("Message = %q, want %q", e.Message, "resource missing")
	}
}

func TestNewForbiddenError(t *testing.T) {
	e := NewForbiddenError("access denied")
	if e.Code != ErrForbidden {
		t.Errorf("Code = %q, want %q", e.Code, ErrForbidden)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "reason", Code: "REQUIRED", Message: "Reason is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "reason" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "reason")
	}
}

func TestNewInternalError(t *testing.T) {
	e := NewInternalError()
	if e.Code != ErrInternalError {
		t.Errorf("Code = %q, want %q", e.Code, ErrInternalError)
	}
}

func TestNewUpstreamError(t *testing.T) {
	e := NewUpstreamError("file storage unavailable")
	if e.Code != ErrUpstreamError {
		t.Errorf("Code = %q, want %q", e.Code, ErrUpstreamError)
	}
}

func TestNewBadRequestError(t *testing.T) {
	e := NewBadRequestError("bad json")
	if e.Code != ErrBadRequest {
		t.Errorf("Code = %q, want %q", e.Code, ErrBadRequest)
	}
}

func TestNewUnauthorizedError(t *testing.T) {
	e := NewUnauthorizedError("missing token")
	if e.Code != ErrUnauthorized {
		t.Errorf("Code = %q, want %q", e.Code, ErrUnauthorized)
	}
}

func TestNewConflictError(t *testing.T) {
	e := NewConflictError("version mismatch")
	if e.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", e.Code, ErrConflict)
	}
}

func TestNewInvalidTransitionError(t *testing.T) {
	e := NewInvalidTransitionError("APPROVED", "DRAFT")
	if e.Code != ErrInvalidTransition {
		t.Errorf("Code = %q, want %q", e.Code, ErrInvalidTransition)
	}
	want := "cannot transition to APPROVED from DRAFT"
	if e.Message != want {
		t.Errorf("Message = %q, want %q", e.Message, want)
	}
}

func TestIsCode(t *testing.T) {
	e := NewConflictError("already open")
	if !IsCode(e, ErrConflict) {
		t.Error("IsCode(conflict, CONFLICT) = false, want true")
	}
	if IsCode(e, ErrNotFound) {
		t.Error("IsCode(conflict, NOT_FOUND) = true, want false")
	}
	if IsCode(errors.New("plain"), ErrConflict) {
		t.Error("IsCode(plain error, CONFLICT) = true, want false")
	}
	if IsCode(nil, ErrConflict) {
		t.Error("IsCode(nil, CONFLICT) = true, want false")
	}
}
