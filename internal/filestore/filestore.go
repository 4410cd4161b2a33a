// Package filestore abstracts the file storage collaborator. The engine only
// ever persists the pointer the collaborator returns; bytes never live in the
// primary store.
package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
)

// Stored is the pointer returned after a successful write.
type Stored struct {
	URL  string
	Path string
}

// Storage stores and retrieves file content.
type Storage interface {
	// Store writes the content under the given key and returns its pointer.
	Store(ctx context.Context, key string, r io.Reader) (Stored, error)

	// Download opens the content at the given path for reading.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the content at the given path.
	Delete(ctx context.Context, path string) error
}

// BlobStorage is a Storage backed by a gocloud.dev blob bucket, so the same
// code serves local disk (file://) in development and object storage in
// production.
type BlobStorage struct {
	bucket        *blob.Bucket
	publicBaseURL string
}

// NewBlobStorage creates a Storage over an open bucket. publicBaseURL, when
// non-empty, is prepended to keys to build public URLs.
func NewBlobStorage(bucket *blob.Bucket, publicBaseURL string) *BlobStorage {
	return &BlobStorage{
		bucket:        bucket,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// Store writes the content under the given key.
func (s *BlobStorage) Store(ctx context.Context, key string, r io.Reader) (Stored, error) {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return Stored{}, fmt.Errorf("filestore: open writer for %q: %w", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return Stored{}, fmt.Errorf("filestore: write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Stored{}, fmt.Errorf("filestore: close %q: %w", key, err)
	}

	url := key
	if s.publicBaseURL != "" {
		url = s.publicBaseURL + "/" + key
	}
	return Stored{URL: url, Path: key}, nil
}

// Download opens the content at the given path.
func (s *BlobStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %q: %w", path, err)
	}
	return r, nil
}

// Delete removes the content at the given path.
func (s *BlobStorage) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Delete(ctx, path); err != nil {
		return fmt.Errorf("filestore: delete %q: %w", path, err)
	}
	return nil
}
