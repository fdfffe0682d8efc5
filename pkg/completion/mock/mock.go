// Package mock provides a test double for the completion.Streamer interface.
//
// Use Streamer in unit tests to verify the exact Request handed to the
// backend and to feed controlled fragment sequences without a live model.
//
// Example:
//
//	s := &mock.Streamer{Fragments: []string{"Hi", " there", "!"}}
//	ch, err := s.StreamChat(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/aurahq/aura/pkg/completion"
)

// Compile-time interface check.
var _ completion.Streamer = (*Streamer)(nil)

// Call records a single invocation of StreamChat.
type Call struct {
	// Ctx is the context passed to StreamChat.
	Ctx context.Context
	// Req is the Request passed to StreamChat.
	Req completion.Request
}

// Streamer is a mock implementation of completion.Streamer.
// The zero value streams nothing and returns no errors.
type Streamer struct {
	mu sync.Mutex

	// Fragments is the text sequence emitted, in order, before the channel
	// closes.
	Fragments []string

	// StartErr, if non-nil, is returned from StreamChat instead of starting
	// a stream.
	StartErr error

	// StreamErr, if non-nil, is emitted as a terminal error fragment after
	// all Fragments have been delivered.
	StreamErr error

	// Calls records every invocation of StreamChat in order.
	Calls []Call
}

// StreamChat implements [completion.Streamer].
func (s *Streamer) StreamChat(ctx context.Context, req completion.Request) (<-chan completion.Fragment, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, Call{Ctx: ctx, Req: req})
	startErr := s.StartErr
	fragments := append([]string(nil), s.Fragments...)
	streamErr := s.StreamErr
	s.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	ch := make(chan completion.Fragment, len(fragments)+1)
	go func() {
		defer close(ch)
		for _, text := range fragments {
			select {
			case ch <- completion.Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case ch <- completion.Fragment{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// LastCall returns the most recent recorded call, or false when none exist.
func (s *Streamer) LastCall() (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return Call{}, false
	}
	return s.Calls[len(s.Calls)-1], true
}
