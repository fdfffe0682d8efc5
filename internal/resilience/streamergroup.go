package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aurahq/aura/pkg/completion"
)

// ErrAllBackendsFailed is returned by [StreamerGroup.StreamChat] when every
// backend fails to start a stream or has an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all completion backends failed")

// backendEntry pairs a streamer with its dedicated breaker.
type backendEntry struct {
	name     string
	streamer completion.Streamer
	breaker  *Breaker
}

// StreamerGroup implements completion.Streamer across an ordered list of
// backends. The first healthy backend that starts a stream wins; only the
// start is covered by failover — once fragments flow, mid-stream errors
// reach the caller as terminal fragments like with any single backend.
type StreamerGroup struct {
	entries []backendEntry
	breaker BreakerConfig
}

var _ completion.Streamer = (*StreamerGroup)(nil)

// NewStreamerGroup creates a group with primary as the preferred backend.
// breaker is the per-backend breaker template; its Name is overridden per
// entry.
func NewStreamerGroup(primaryName string, primary completion.Streamer, breaker BreakerConfig) *StreamerGroup {
	g := &StreamerGroup{breaker: breaker}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback backend. Backends are tried in the order added.
func (g *StreamerGroup) Add(name string, s completion.Streamer) {
	cfg := g.breaker
	cfg.Name = name
	g.entries = append(g.entries, backendEntry{
		name:     name,
		streamer: s,
		breaker:  NewBreaker(cfg),
	})
}

// StreamChat implements completion.Streamer with failover across backends.
func (g *StreamerGroup) StreamChat(ctx context.Context, req completion.Request) (<-chan completion.Fragment, error) {
	var lastErr error
	for i := range g.entries {
		entry := &g.entries[i]

		var fragments <-chan completion.Fragment
		err := entry.breaker.Do(func() error {
			var startErr error
			fragments, startErr = entry.streamer.StreamChat(ctx, req)
			return startErr
		})
		if err == nil {
			return fragments, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping completion backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("completion backend failed, trying next",
				"backend", entry.name, "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
