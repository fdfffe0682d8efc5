// Package lighthouse provides a Lighthouse.storage-backed implementation of
// blobstore.Store. Uploads go to the Lighthouse node API as a multipart file
// and return an IPFS CID; reads go through the public IPFS gateway keyed by
// that CID.
package lighthouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/aurahq/aura/pkg/blobstore"
)

// Compile-time interface check.
var _ blobstore.Store = (*Store)(nil)

const (
	defaultUploadEndpoint = "https://node.lighthouse.storage/api/v0/add"
	defaultGatewayBase    = "https://gateway.lighthouse.storage/ipfs/"
)

// maxBlobSize caps GetBlob responses. Archived transcripts are small JSON
// documents; anything larger is a sign the hash points at the wrong content.
const maxBlobSize = 16 << 20

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithUploadEndpoint overrides the Lighthouse node add endpoint.
func WithUploadEndpoint(url string) Option {
	return func(s *Store) { s.uploadEndpoint = url }
}

// WithGatewayBase overrides the IPFS gateway prefix used for reads.
func WithGatewayBase(url string) Option {
	return func(s *Store) { s.gatewayBase = url }
}

// WithHTTPClient overrides the HTTP client, e.g. to set a transport-level
// timeout in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// Store talks to Lighthouse.storage. Safe for concurrent use.
type Store struct {
	apiKey         string
	uploadEndpoint string
	gatewayBase    string
	httpClient     *http.Client
}

// New creates a Store. apiKey must be non-empty; create one at
// https://files.lighthouse.storage/ under "API Key".
func New(apiKey string, opts ...Option) (*Store, error) {
	if apiKey == "" {
		return nil, errors.New("lighthouse: apiKey must not be empty")
	}
	s := &Store{
		apiKey:         apiKey,
		uploadEndpoint: defaultUploadEndpoint,
		gatewayBase:    defaultGatewayBase,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// addResponse is the JSON envelope returned by the node add endpoint.
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// PutBlob implements [blobstore.Store].
func (s *Store) PutBlob(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fileName := fmt.Sprintf("aura-chat-%d.json", time.Now().UnixMilli())
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("lighthouse: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("lighthouse: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("lighthouse: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("lighthouse: build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lighthouse: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("lighthouse: upload returned %s: %s", resp.Status, snippet)
	}

	var parsed addResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("lighthouse: decode upload response: %w", err)
	}
	if parsed.Hash == "" {
		return "", errors.New("lighthouse: upload response missing content hash")
	}
	return parsed.Hash, nil
}

// GetBlob implements [blobstore.Store].
func (s *Store) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" {
		return nil, errors.New("lighthouse: hash must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayBase+hash, nil)
	if err != nil {
		return nil, fmt.Errorf("lighthouse: build gateway request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lighthouse: gateway fetch %q: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lighthouse: gateway returned %s for %q", resp.Status, hash)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("lighthouse: read gateway response: %w", err)
	}
	return data, nil
}
