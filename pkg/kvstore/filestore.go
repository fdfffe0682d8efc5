package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists the full key-value map as a single JSON document on
// local disk, written through on every mutation. It is the Go analog of
// browser local storage: one origin, one file, survives restarts.
//
// Writes go to a temporary file followed by a rename so a crash mid-write
// never leaves a truncated store behind. Thread-safe for concurrent use
// within one process; two processes on the same path race with
// last-write-wins, matching the [Store] contract.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileStore opens (or creates) the store at path. An existing file is
// loaded eagerly; a corrupt file is an error rather than silent data loss.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh store; the file is created on first Set.
	case err != nil:
		return nil, fmt.Errorf("kvstore: read %q: %w", path, err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &fs.data); err != nil {
			return nil, fmt.Errorf("kvstore: parse %q: %w", path, err)
		}
	}

	return fs, nil
}

// Get implements [Store].
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.data[key]
	return v, ok
}

// Set implements [Store].
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data[key] = value
	return fs.flushLocked()
}

// Remove implements [Store].
func (fs *FileStore) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.data[key]; !ok {
		return nil
	}
	delete(fs.data, key)
	return fs.flushLocked()
}

// flushLocked writes the current map to disk. Caller must hold fs.mu.
func (fs *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".aura-kv-*")
	if err != nil {
		return fmt.Errorf("kvstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kvstore: write %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kvstore: close %q: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kvstore: rename into place: %w", err)
	}
	return nil
}
