package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage is an in-memory Storage for tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: make(map[string][]byte)}
}

// Store keeps the content in memory under the given key.
func (s *MemoryStorage) Store(_ context.Context, key string, r io.Reader) (Stored, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Stored{}, err
	}

	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()

	return Stored{URL: "mem://" + key, Path: key}, nil
}

// Download returns a reader over the stored content.
func (s *MemoryStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.files[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filestore: %q not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the stored content.
func (s *MemoryStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.files, path)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored files. For testing.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
