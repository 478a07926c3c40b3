// Package blobstore keeps opaque blobs addressed by the SHA-256 of their
// bytes. Put returns a storage ref; Get resolves it. Writing the same bytes
// twice yields the same ref.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"mediaguard/pkg/platform/sentinel"
)

const refPrefix = "sha256:"

// RefFor returns the storage ref of blob.
func RefFor(blob []byte) string {
	sum := sha256.Sum256(blob)
	return refPrefix + hex.EncodeToString(sum[:])
}

func validRef(ref string) bool {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// MemoryStore is a process-local blob store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	keys  map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), keys: make(map[string]string)}
}

// Put stores blob and records key as an alias for its ref.
func (s *MemoryStore) Put(ctx context.Context, key string, blob []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := RefFor(blob)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = append([]byte(nil), blob...)
	if key != "" {
		s.keys[key] = ref
	}
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Lookup resolves the latest ref stored under key.
func (s *MemoryStore) Lookup(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.keys[key]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return ref, nil
}
