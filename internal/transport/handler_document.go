package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ouvrio/dossier/model"
)

// maxUploadBytes caps the multipart form size accepted on upload.
const maxUploadBytes = 64 << 20

type uploadResponse struct {
	Document model.Document        `json:"document"`
	Version  model.DocumentVersion `json:"version"`
}

// HandleUploadDocument accepts a multipart upload and appends a new version
// to the document slot. Form fields: document_type_id, optional
// step_instance_id, and the file part named "file".
func (h *Handler) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		WriteError(w, model.NewBadRequestError("invalid multipart form: "+err.Error()))
		return
	}

	docTypeID := r.FormValue("document_type_id")
	if docTypeID == "" {
		WriteValidationError(w, []model.FieldError{
			{Field: "document_type_id", Code: "required", Message: "document_type_id is required"},
		})
		return
	}
	stepInstanceID := r.FormValue("step_instance_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteValidationError(w, []model.FieldError{
			{Field: "file", Code: "required", Message: "a file part named \"file\" is required"},
		})
		return
	}
	defer file.Close()

	doc, version, err := h.orch.UploadDocument(r.Context(),
		chi.URLParam(r, "dossierID"),
		docTypeID,
		stepInstanceID,
		header.Filename,
		header.Size,
		file,
	)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, uploadResponse{Document: doc, Version: version})
}

// HandleClearDocumentCurrent logically deletes a document by clearing its
// current-version pointer.
func (h *Handler) HandleClearDocumentCurrent(w http.ResponseWriter, r *http.Request) {
	doc, err := h.orch.ClearDocumentCurrent(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// HandleDocumentVersions returns the full version history of a document.
func (h *Handler) HandleDocumentVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.orch.DocumentVersions(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if versions == nil {
		versions = []model.DocumentVersion{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}
