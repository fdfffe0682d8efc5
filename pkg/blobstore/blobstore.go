// Package blobstore defines the content-addressed remote storage contract
// used to archive chat transcripts. A blob is stored once and retrieved by
// the content hash the backend returned on upload; no listing operation
// exists, so callers must keep their own index of hashes.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation — the backend guarantees no bounded latency, so callers are
// expected to impose their own deadlines.
package blobstore

import "context"

// Store is the put-blob/get-blob contract over a content-addressed backend.
type Store interface {
	// PutBlob uploads data and returns the content hash under which it can
	// later be retrieved.
	PutBlob(ctx context.Context, data []byte) (string, error)

	// GetBlob retrieves the blob stored under hash.
	GetBlob(ctx context.Context, hash string) ([]byte, error)
}
