package engine

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/filestore"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// Documents maintains append-only version history behind a mutable current
// pointer per logical document slot. Versions are never removed: history
// survives a logical delete.
type Documents struct {
	store   store.Store
	catalog *catalog.Registry
	files   filestore.Storage
}

// NewDocuments creates a new document versioning engine.
func NewDocuments(st store.Store, cat *catalog.Registry, files filestore.Storage) *Documents {
	return &Documents{store: st, catalog: cat, files: files}
}

// Upload validates the file against the document type's constraints, stores
// the content, and appends a new immutable version to the (dossier,
// documentType, stepInstance) slot, creating the slot on first upload.
// Validation failures happen before any row or byte is written.
func (dc *Documents) Upload(
	ctx context.Context,
	uploaderID string,
	d model.Dossier,
	docTypeID, stepInstanceID, fileName string,
	sizeBytes int64,
	content io.Reader,
) (model.Document, model.DocumentVersion, error) {
	docType, ok := dc.catalog.GetDocumentType(docTypeID)
	if !ok {
		return model.Document{}, model.DocumentVersion{}, model.NewNotFoundError(
			fmt.Sprintf("document type %q not found", docTypeID),
		)
	}

	if details := validateFile(docType, fileName, sizeBytes); len(details) > 0 {
		return model.Document{}, model.DocumentVersion{}, model.NewValidationError(details)
	}

	key := path.Join("dossiers", d.ID, docTypeID, uuid.New().String()+strings.ToLower(path.Ext(fileName)))
	stored, err := dc.files.Store(ctx, key, content)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, model.NewUpstreamError(
			fmt.Sprintf("file storage failed: %v", err),
		)
	}

	doc, err := dc.getOrCreateSlot(ctx, d.ID, docTypeID, stepInstanceID)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, err
	}

	version := model.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		FileName:   fileName,
		FileURL:    stored.URL,
		FilePath:   stored.Path,
		SizeBytes:  sizeBytes,
		UploadedBy: uploaderID,
		UploadedAt: time.Now().UTC(),
	}
	version, err = dc.store.AppendDocumentVersion(ctx, version)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, err
	}

	doc, err = dc.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return model.Document{}, model.DocumentVersion{}, err
	}
	return doc, version, nil
}

// ClearCurrentVersion performs the logical delete: the current pointer is
// nulled while every version row stays queryable.
func (dc *Documents) ClearCurrentVersion(ctx context.Context, documentID string) (model.Document, error) {
	if err := dc.store.ClearCurrentVersion(ctx, documentID); err != nil {
		return model.Document{}, err
	}
	return dc.store.GetDocument(ctx, documentID)
}

// Versions returns the full version history of a document, oldest first.
func (dc *Documents) Versions(ctx context.Context, documentID string) ([]model.DocumentVersion, error) {
	if _, err := dc.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return dc.store.ListDocumentVersions(ctx, documentID)
}

// getOrCreateSlot finds or creates the Document row for the slot key,
// converging on the winner's row when two first uploads race.
func (dc *Documents) getOrCreateSlot(ctx context.Context, dossierID, docTypeID, stepInstanceID string) (model.Document, error) {
	doc, err := dc.store.FindDocument(ctx, dossierID, docTypeID, stepInstanceID)
	if err == nil {
		return doc, nil
	}
	if !model.IsCode(err, model.ErrNotFound) {
		return model.Document{}, err
	}

	now := time.Now().UTC()
	doc = model.Document{
		ID:             uuid.New().String(),
		DossierID:      dossierID,
		DocumentTypeID: docTypeID,
		StepInstanceID: stepInstanceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := dc.store.CreateDocument(ctx, doc); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			return dc.store.FindDocument(ctx, dossierID, docTypeID, stepInstanceID)
		}
		return model.Document{}, err
	}
	return doc, nil
}

// validateFile checks extension and size against the document type limits.
func validateFile(docType catalog.DocumentType, fileName string, sizeBytes int64) []model.FieldError {
	var details []model.FieldError

	// Allowed extensions may be written with or without the leading dot.
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), ".")
	if len(docType.AllowedExtensions) > 0 {
		allowed := false
		for _, a := range docType.AllowedExtensions {
			if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			details = append(details, model.FieldError{
				Field: "file",
				Code:  "extension",
				Message: fmt.Sprintf("extension %q is not allowed (allowed: %s)",
					ext, strings.Join(docType.AllowedExtensions, ", ")),
			})
		}
	}

	if docType.MaxFileSizeMB > 0 && sizeBytes > int64(docType.MaxFileSizeMB)*1024*1024 {
		details = append(details, model.FieldError{
			Field:   "file",
			Code:    "size",
			Message: fmt.Sprintf("file exceeds the %d MB limit", docType.MaxFileSizeMB),
		})
	}

	return details
}
