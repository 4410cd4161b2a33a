package model

import "time"

// Document is the logical slot for uploads of one document type on one
// dossier, optionally scoped to a step instance. The current-version pointer
// is the only mutable field; versions are append-only and never deleted, so
// the full history stays reconstructable after a logical delete.
type Document struct {
	ID               string    `json:"id"`
	DossierID        string    `json:"dossier_id"`
	DocumentTypeID   string    `json:"document_type_id"`
	StepInstanceID   string    `json:"step_instance_id,omitempty"`
	CurrentVersionID string    `json:"current_version_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DocumentVersion is one immutable upload. Version numbers increase
// monotonically per document, starting at 1.
type DocumentVersion struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	VersionNumber int       `json:"version_number"`
	FileName      string    `json:"file_name"`
	FileURL       string    `json:"file_url"`
	FilePath      string    `json:"file_path"`
	SizeBytes     int64     `json:"size_bytes"`
	UploadedBy    string    `json:"uploaded_by"`
	UploadedAt    time.Time `json:"uploaded_at"`
}
