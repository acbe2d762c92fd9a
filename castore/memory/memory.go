// Package memory is an in-memory castore.Store, grounded on go-git's
// storage/memory: a plain mutex-guarded map standing in for a persistent
// backend, used by tests and by short-lived build invocations that don't
// want an on-disk cache.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/nimbusui/buildcache/castore"
)

// Store is a concurrency-safe in-memory castore.Store.
type Store struct {
	mu         sync.RWMutex
	byKey      map[string][]byte
	byIntegrity map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{byKey: map[string][]byte{}, byIntegrity: map[string][]byte{}}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.byKey[key]
	if !ok {
		return nil, castore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) GetByIntegrity(ctx context.Context, integrity string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.byIntegrity[integrity]
	if !ok {
		return nil, castore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	cp := append([]byte(nil), data...)
	sum := sha256.Sum256(cp)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = cp
	s.byIntegrity[hex.EncodeToString(sum[:])] = cp
	return nil
}

func (s *Store) PutStream(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}
