// Package mock provides an in-memory test double for blobstore.Store.
// Content hashes are derived from the blob bytes, so equal content yields
// equal hashes — the defining property of a content-addressed store.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/aurahq/aura/pkg/blobstore"
)

// Compile-time interface check.
var _ blobstore.Store = (*Store)(nil)

// Store is an in-memory content-addressed blob store.
// The zero value is ready to use. Set Err fields to inject failures.
type Store struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// PutErr, if non-nil, is returned by every PutBlob call.
	PutErr error

	// GetErr, if non-nil, is returned by every GetBlob call.
	GetErr error

	// PutCalls counts PutBlob invocations, including failed ones.
	PutCalls int
}

// PutBlob implements [blobstore.Store].
func (s *Store) PutBlob(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls++

	if s.PutErr != nil {
		return "", s.PutErr
	}

	sum := sha256.Sum256(data)
	hash := "bafk" + hex.EncodeToString(sum[:8])
	if s.blobs == nil {
		s.blobs = make(map[string][]byte)
	}
	s.blobs[hash] = append([]byte(nil), data...)
	return hash, nil
}

// GetBlob implements [blobstore.Store].
func (s *Store) GetBlob(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}
	data, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("mock blobstore: no blob for hash %q", hash)
	}
	return append([]byte(nil), data...), nil
}

// Seed stores data under an explicit hash, bypassing hashing. Useful for
// testing corrupt-archive handling.
func (s *Store) Seed(hash string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = make(map[string][]byte)
	}
	s.blobs[hash] = append([]byte(nil), data...)
}
