// Package blobstore reads and writes extracted document text.
package blobstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store loads and saves text objects. LoadText returns "" without an error
// when the object does not exist.
type Store interface {
	LoadText(ctx context.Context, bucket, key string) (string, error)
	PutText(ctx context.Context, bucket, key, content, contentType string) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) LoadText(_ context.Context, bucket, key string) (string, error) {
	k, err := objectPath(bucket, key)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[k], nil
}

func (s *MemoryStore) PutText(_ context.Context, bucket, key, content, _ string) error {
	k, err := objectPath(bucket, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = content
	return nil
}

func objectPath(bucket, key string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bucket == "" {
		return "", fmt.Errorf("bucket is required")
	}
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	return bucket + "/" + key, nil
}
