package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aurahq/aura/internal/resilience"
	"github.com/aurahq/aura/pkg/completion"
	"github.com/aurahq/aura/pkg/completion/mock"
)

func collect(t *testing.T, fragments <-chan completion.Fragment) string {
	t.Helper()
	var out string
	for frag := range fragments {
		if frag.Err != nil {
			t.Fatalf("unexpected terminal error: %v", frag.Err)
		}
		out += frag.Text
	}
	return out
}

func TestStreamerGroup_PrimaryHealthy(t *testing.T) {
	primary := &mock.Streamer{Fragments: []string{"from primary"}}
	fallback := &mock.Streamer{Fragments: []string{"from fallback"}}

	g := resilience.NewStreamerGroup("primary", primary, resilience.BreakerConfig{})
	g.Add("fallback", fallback)

	fragments, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if got := collect(t, fragments); got != "from primary" {
		t.Errorf("got %q", got)
	}
	if _, called := fallback.LastCall(); called {
		t.Error("fallback was called although the primary is healthy")
	}
}

func TestStreamerGroup_FailsOverOnStartError(t *testing.T) {
	primary := &mock.Streamer{StartErr: errors.New("connection refused")}
	fallback := &mock.Streamer{Fragments: []string{"from fallback"}}

	g := resilience.NewStreamerGroup("primary", primary, resilience.BreakerConfig{})
	g.Add("fallback", fallback)

	fragments, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if got := collect(t, fragments); got != "from fallback" {
		t.Errorf("got %q", got)
	}
}

func TestStreamerGroup_AllBackendsFail(t *testing.T) {
	primary := &mock.Streamer{StartErr: errors.New("down")}
	fallback := &mock.Streamer{StartErr: errors.New("also down")}

	g := resilience.NewStreamerGroup("primary", primary, resilience.BreakerConfig{})
	g.Add("fallback", fallback)

	_, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"})
	if !errors.Is(err, resilience.ErrAllBackendsFailed) {
		t.Errorf("got %v, want ErrAllBackendsFailed", err)
	}
}

func TestStreamerGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &mock.Streamer{StartErr: errors.New("down")}
	fallback := &mock.Streamer{Fragments: []string{"ok"}}

	g := resilience.NewStreamerGroup("primary", primary, resilience.BreakerConfig{
		Threshold: 2,
		Cooldown:  time.Hour,
	})
	g.Add("fallback", fallback)

	// Two failing starts trip the primary's breaker.
	for i := 0; i < 2; i++ {
		if _, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	callsBefore := len(primary.Calls)

	if _, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"}); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if len(primary.Calls) != callsBefore {
		t.Error("primary was called while its breaker was open")
	}
}

func TestStreamerGroup_MidStreamErrorIsNotFailedOver(t *testing.T) {
	primary := &mock.Streamer{
		Fragments: []string{"partial"},
		StreamErr: errors.New("cut off"),
	}
	fallback := &mock.Streamer{Fragments: []string{"ok"}}

	g := resilience.NewStreamerGroup("primary", primary, resilience.BreakerConfig{})
	g.Add("fallback", fallback)

	fragments, err := g.StreamChat(context.Background(), completion.Request{UserText: "hi"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	var sawErr bool
	for frag := range fragments {
		if frag.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("terminal error fragment never surfaced")
	}
	if _, called := fallback.LastCall(); called {
		t.Error("mid-stream failure must not trigger failover")
	}
}
