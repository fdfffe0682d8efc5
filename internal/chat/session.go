// Package chat owns the lifecycle of one conversation between a user and a
// companion persona: loading and seeding the transcript, appending user
// turns, streaming the companion's reply fragment by fragment into an
// append-only transcript, and exporting the finished conversation to
// content-addressed storage.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/archive"
	"github.com/aurahq/aura/internal/persona"
	"github.com/aurahq/aura/internal/transcript"
	"github.com/aurahq/aura/pkg/blobstore"
	"github.com/aurahq/aura/pkg/completion"
)

var (
	// ErrInvalidInput is returned by Send when the user text is blank.
	ErrInvalidInput = errors.New("chat: message must not be blank")

	// ErrSendInFlight is returned by Send while a previous send is still
	// streaming. Concurrent sends are rejected, never queued, so a second
	// send can never corrupt the first stream's placeholder turn.
	ErrSendInFlight = errors.New("chat: a response is already streaming")

	// ErrExportFailed is returned by Export when the upload to remote
	// storage fails. The local transcript is never affected.
	ErrExportFailed = errors.New("chat: transcript export failed")

	// ErrSessionClosed is returned by Send and Export after Close.
	ErrSessionClosed = errors.New("chat: session is closed")
)

// FallbackReply replaces the in-progress companion turn when a stream fails.
// The user must never be left looking at an empty or partial bubble.
const FallbackReply = "I'm sorry, I'm having a little trouble connecting right now. Please try again in a moment."

// previewLen is how much of the first user turn is kept as the archive
// preview.
const previewLen = 50

// defaultStreamTimeout bounds a single reply stream when the configuration
// does not say otherwise. The completion backend guarantees no bounded
// latency, so the session imposes its own.
const defaultStreamTimeout = 2 * time.Minute

// Session is one live conversation for an (address, companion) partition.
//
// All exported methods are safe for concurrent use, but only one Send may
// stream at a time; concurrent Send calls fail with [ErrSendInFlight].
type Session struct {
	mu sync.Mutex

	address  string
	persona  persona.Persona
	userName string

	turns     transcript.Transcript
	streaming bool
	closed    bool

	// seq identifies the current send. Fragments carry the seq they were
	// started under and are dropped when it no longer matches, so a stream
	// abandoned by Close can never mutate a transcript it no longer owns.
	seq uint64

	store         *transcript.Store
	streamer      completion.Streamer
	index         *archive.Index
	blobs         blobstore.Store
	streamTimeout time.Duration
}

// Config holds the dependencies and identity of a [Session].
type Config struct {
	Address  string
	Persona  persona.Persona
	UserName string

	Transcripts *transcript.Store
	Streamer    completion.Streamer
	Archive     *archive.Index
	Blobs       blobstore.Store

	// StreamTimeout bounds one reply stream. Zero means the default.
	StreamTimeout time.Duration
}

// Open creates a session, loading the stored transcript for the partition or
// seeding a fresh one with the persona's greeting. A seeded transcript is
// persisted immediately so the greeting survives a restart.
func Open(cfg Config) (*Session, error) {
	address := access.NormalizeAddress(cfg.Address)

	s := &Session{
		address:       address,
		persona:       cfg.Persona,
		userName:      cfg.UserName,
		store:         cfg.Transcripts,
		streamer:      cfg.Streamer,
		index:         cfg.Archive,
		blobs:         cfg.Blobs,
		streamTimeout: cfg.StreamTimeout,
	}
	if s.streamTimeout <= 0 {
		s.streamTimeout = defaultStreamTimeout
	}

	if turns, ok := cfg.Transcripts.Load(address, cfg.Persona.ID); ok {
		s.turns = turns
		return s, nil
	}

	s.turns = transcript.Transcript{{
		Speaker: transcript.SpeakerAssistant,
		Text:    cfg.Persona.Greeting(cfg.UserName),
	}}
	if err := cfg.Transcripts.Save(address, cfg.Persona.ID, s.turns); err != nil {
		return nil, fmt.Errorf("chat: seed transcript: %w", err)
	}
	return s, nil
}

// Transcript returns a snapshot of the current turns, including any
// in-progress companion turn.
func (s *Session) Transcript() transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(transcript.Transcript(nil), s.turns...)
}

// IsStreaming reports whether a reply is currently being generated.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// CompanionID returns the persona this session talks to.
func (s *Session) CompanionID() string { return s.persona.ID }

// Close invalidates the session. Any in-flight stream is abandoned: its
// remaining fragments are dropped rather than applied to a session that is
// no longer active.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.streaming = false
	s.seq++
}

// Result reports how a completed send concluded.
type Result struct {
	// Fallback is true when the stream failed and [FallbackReply] was
	// substituted for the companion's turn.
	Fallback bool
}

// Send appends userText as a user turn, streams the companion's reply into a
// placeholder turn whose text grows monotonically, and persists the
// transcript when the stream ends.
//
// onFragment, when non-nil, is invoked after each applied fragment with the
// full accumulated reply text so far — the UI-visible pending message.
//
// A stream failure is recovered locally: the placeholder is replaced with
// [FallbackReply], the session stays usable, and Send returns a nil error
// with Result.Fallback set.
func (s *Session) Send(ctx context.Context, userText string, onFragment func(pending string)) (Result, error) {
	history, seq, err := s.begin(userText)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	defer cancel()

	req := completion.Request{
		History:           history,
		UserText:          strings.TrimSpace(userText),
		SystemInstruction: s.persona.Instruction(s.userName),
	}

	fragments, err := s.streamer.StreamChat(ctx, req)
	if err != nil {
		slog.Warn("chat: failed to start stream",
			"address", s.address, "companion", s.persona.ID, "err", err)
		return Result{Fallback: s.finish(seq, true)}, nil
	}

	failed := false
loop:
	for {
		select {
		case frag, open := <-fragments:
			if !open {
				break loop
			}
			if frag.Err != nil {
				slog.Warn("chat: stream failed",
					"address", s.address, "companion", s.persona.ID, "err", frag.Err)
				failed = true
				break loop
			}
			s.applyFragment(seq, frag.Text, onFragment)
		case <-ctx.Done():
			slog.Warn("chat: stream timed out or cancelled",
				"address", s.address, "companion", s.persona.ID, "err", ctx.Err())
			failed = true
			break loop
		}
	}

	return Result{Fallback: s.finish(seq, failed)}, nil
}

// begin validates userText, appends the user turn and the empty companion
// placeholder, and returns the history to hand the completion backend along
// with the send sequence number.
func (s *Session) begin(userText string) ([]completion.Turn, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	if strings.TrimSpace(userText) == "" {
		return nil, 0, ErrInvalidInput
	}
	if s.streaming {
		return nil, 0, ErrSendInFlight
	}

	// The history must never include the turn being generated. A transcript
	// that is exactly the seeded greeting yields an empty history so the
	// companion is not primed with its own greeting as prior user context.
	var history []completion.Turn
	if !s.onlySeededGreeting() {
		history = make([]completion.Turn, 0, len(s.turns))
		for _, turn := range s.turns {
			role := completion.RoleUser
			if turn.Speaker == transcript.SpeakerAssistant {
				role = completion.RoleAssistant
			}
			history = append(history, completion.Turn{Role: role, Text: turn.Text})
		}
	}

	s.turns = append(s.turns,
		transcript.Turn{Speaker: transcript.SpeakerUser, Text: strings.TrimSpace(userText)},
		transcript.Turn{Speaker: transcript.SpeakerAssistant, Text: ""},
	)
	s.streaming = true
	s.seq++
	return history, s.seq, nil
}

// onlySeededGreeting reports whether the transcript is exactly the single
// assistant greeting created by Open. Caller must hold s.mu.
func (s *Session) onlySeededGreeting() bool {
	return len(s.turns) == 1 && s.turns[0].Speaker == transcript.SpeakerAssistant
}

// applyFragment appends text to the placeholder turn if the session is still
// on the same send. Stale fragments are dropped silently.
func (s *Session) applyFragment(seq uint64, text string, onFragment func(string)) {
	s.mu.Lock()
	if s.seq != seq || !s.streaming {
		s.mu.Unlock()
		return
	}
	last := len(s.turns) - 1
	s.turns[last].Text += text
	pending := s.turns[last].Text
	s.mu.Unlock()

	if onFragment != nil {
		onFragment(pending)
	}
}

// finish ends the send identified by seq: on failure (or an empty reply) the
// placeholder becomes the fallback sentence, and the transcript is persisted.
// Reports whether the fallback was substituted.
func (s *Session) finish(seq uint64, failed bool) bool {
	s.mu.Lock()
	if s.seq != seq || !s.streaming {
		s.mu.Unlock()
		return failed
	}
	s.streaming = false

	last := len(s.turns) - 1
	fallback := failed || s.turns[last].Text == ""
	if fallback {
		s.turns[last].Text = FallbackReply
	}
	snapshot := append(transcript.Transcript(nil), s.turns...)
	s.mu.Unlock()

	if err := s.store.Save(s.address, s.persona.ID, snapshot); err != nil {
		slog.Warn("chat: persist transcript failed",
			"address", s.address, "companion", s.persona.ID, "err", err)
	}
	return fallback
}

// Export serializes the full transcript with a creation timestamp and schema
// version, uploads it to remote storage, and records an archive entry for
// the address. Returns the content hash.
func (s *Session) Export(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	snapshot := append(transcript.Transcript(nil), s.turns...)
	s.mu.Unlock()

	now := time.Now().UTC()
	raw, err := transcript.Encode(snapshot, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	hash, err := s.blobs.PutBlob(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	entry := archive.Entry{
		ContentHash: hash,
		CreatedAt:   now,
		Preview:     preview(snapshot, s.persona.Name),
		CompanionID: s.persona.ID,
	}
	if err := s.index.Record(s.address, entry); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	slog.Info("transcript exported",
		"address", s.address, "companion", s.persona.ID, "hash", hash)
	return hash, nil
}

// preview derives the archive preview: the first ~50 characters of the first
// user turn, or a fallback description when the user never spoke. Truncation
// happens on rune boundaries so a multi-byte character is never split.
func preview(turns transcript.Transcript, personaName string) string {
	for _, turn := range turns {
		if turn.Speaker != transcript.SpeakerUser {
			continue
		}
		runes := []rune(turn.Text)
		if len(runes) > previewLen {
			runes = runes[:previewLen]
		}
		return string(runes)
	}
	return "Conversation with " + personaName
}
