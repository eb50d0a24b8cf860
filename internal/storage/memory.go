package storage

import (
	"context"
	"sync"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// MemoryStore is an in-memory BlobStore used in tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// Write stores the blob under key.
func (s *MemoryStore) Write(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = memoryBlob{data: buf, contentType: contentType}
	return nil
}

// Read returns the blob stored under key.
func (s *MemoryStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, domain.NewNotFoundError("blob", key)
	}
	buf := make([]byte, len(b.data))
	copy(buf, b.data)
	return buf, nil
}

// Delete removes the blob stored under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Exists reports whether a blob is stored under key.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// ContentType returns the stored content type for key, if present.
func (s *MemoryStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[key].contentType
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ BlobStore = (*MemoryStore)(nil)
