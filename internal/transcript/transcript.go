// Package transcript models the dialogue history of one conversation between
// a user and a companion persona, and persists it as a versioned JSON
// document in the key-value store.
//
// A transcript is append-only during a live session. Its insertion order is
// the conversation order and is semantically significant: it is the literal
// history replayed to the completion backend.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aurahq/aura/pkg/kvstore"
)

// docVersion is the schema version embedded in every persisted and exported
// transcript document. Unknown versions are treated as absent/invalid.
const docVersion = 1

// Speaker identifies who produced a turn.
type Speaker string

const (
	// SpeakerUser marks a turn typed by the user.
	SpeakerUser Speaker = "user"

	// SpeakerAssistant marks a turn generated by the companion.
	SpeakerAssistant Speaker = "assistant"
)

// Turn is a single utterance in a conversation.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcript is the ordered turn history of one conversation.
type Transcript []Turn

// Document is the versioned on-disk and on-export envelope for a transcript.
type Document struct {
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	Messages  Transcript `json:"messages"`
}

// Encode serializes tr into a versioned export document stamped createdAt.
func Encode(tr Transcript, createdAt time.Time) ([]byte, error) {
	doc := Document{Version: docVersion, CreatedAt: createdAt, Messages: tr}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("transcript: marshal document: %w", err)
	}
	return raw, nil
}

// Decode parses an export document and validates its shape: messages must be
// present and every turn must carry a known speaker.
func Decode(raw []byte) (Transcript, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("transcript: parse document: %w", err)
	}
	if doc.Version != docVersion {
		return nil, fmt.Errorf("transcript: unsupported document version %d", doc.Version)
	}
	if doc.Messages == nil {
		return nil, fmt.Errorf("transcript: document has no messages")
	}
	for i, turn := range doc.Messages {
		if turn.Speaker != SpeakerUser && turn.Speaker != SpeakerAssistant {
			return nil, fmt.Errorf("transcript: message %d has unknown speaker %q", i, turn.Speaker)
		}
	}
	return doc.Messages, nil
}

// Store persists transcripts in the key-value store, one document per
// (address, companion) partition.
type Store struct {
	kv kvstore.Store
}

// NewStore creates a transcript Store over kv.
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Load returns the stored transcript for the partition, or absent. A stored
// document that fails to decode is reported as absent; the next Save
// overwrites it.
func (s *Store) Load(address, companionID string) (Transcript, bool) {
	raw, ok := s.kv.Get(kvstore.TranscriptKey(address, companionID))
	if !ok {
		return nil, false
	}
	tr, err := Decode([]byte(raw))
	if err != nil {
		return nil, false
	}
	return tr, true
}

// Save writes the transcript for the partition.
func (s *Store) Save(address, companionID string, tr Transcript) error {
	raw, err := Encode(tr, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := s.kv.Set(kvstore.TranscriptKey(address, companionID), string(raw)); err != nil {
		return fmt.Errorf("transcript: persist: %w", err)
	}
	return nil
}
