// Package memory keeps artifacts and run history in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// BlobStore stores artifacts in memory and returns memory:// URIs.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// PutObject replaces the object at path with the reader's content.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = body
	s.contentTypes[path] = contentType
	return "memory://" + path, nil
}

// Object returns a copy of the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentTypes[path]
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
