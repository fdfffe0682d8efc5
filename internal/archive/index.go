// Package archive maintains the per-address index of transcripts exported to
// content-addressed storage. The remote backend offers no listing operation,
// so this local index is the only record of which hashes belong to a user.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/transcript"
	"github.com/aurahq/aura/pkg/blobstore"
	"github.com/aurahq/aura/pkg/kvstore"
)

// ErrCorruptArchive is returned by [Index.FetchByHash] when the fetched blob
// is not a well-formed transcript document.
var ErrCorruptArchive = errors.New("archive: fetched blob is not a valid transcript")

// Entry describes one exported transcript. Entries are never mutated or
// deleted; the list is prepended, most recent first.
type Entry struct {
	// ContentHash is the retrieval key returned by the storage backend.
	ContentHash string `json:"contentHash"`

	// CreatedAt is when the export happened.
	CreatedAt time.Time `json:"createdAt"`

	// Preview is roughly the first 50 characters of the first user turn.
	Preview string `json:"preview"`

	// CompanionID identifies which persona the conversation was with.
	CompanionID string `json:"companionId"`
}

// Index records and lists exported transcripts, and fetches them back from
// the blob store.
type Index struct {
	kv    kvstore.Store
	blobs blobstore.Store
}

// NewIndex creates an Index over kv and blobs.
func NewIndex(kv kvstore.Store, blobs blobstore.Store) *Index {
	return &Index{kv: kv, blobs: blobs}
}

// ListFor returns the address's archive entries, most recent first. A
// malformed stored list is reported as empty; the next Record overwrites it.
func (ix *Index) ListFor(address string) []Entry {
	address = access.NormalizeAddress(address)
	raw, ok := ix.kv.Get(kvstore.ArchiveKey(address))
	if !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("discarding unreadable archive index", "address", address)
		return nil
	}
	return entries
}

// Record prepends entry to the address's archive list and persists it.
func (ix *Index) Record(address string, entry Entry) error {
	address = access.NormalizeAddress(address)

	entries := append([]Entry{entry}, ix.ListFor(address)...)
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("archive: marshal index: %w", err)
	}
	if err := ix.kv.Set(kvstore.ArchiveKey(address), string(raw)); err != nil {
		return fmt.Errorf("archive: persist index: %w", err)
	}
	return nil
}

// FetchByHash retrieves an exported transcript from the blob store and
// validates its shape. A blob that is not a transcript document yields
// [ErrCorruptArchive].
func (ix *Index) FetchByHash(ctx context.Context, hash string) (transcript.Transcript, error) {
	raw, err := ix.blobs.GetBlob(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("archive: fetch %q: %w", hash, err)
	}
	tr, err := transcript.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return tr, nil
}
