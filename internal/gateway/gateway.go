// Package gateway is the HTTP and WebSocket surface of the application. A
// client opens one WebSocket that doubles as the wallet bridge (the server
// asks the client's wallet to act) and the push channel for chat fragments
// and notices. Every command — connect, pay, onboard, send, export, archive
// — goes over plain HTTP and returns either a success payload or a JSON
// error; nothing fails silently.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/archive"
	"github.com/aurahq/aura/internal/chat"
	"github.com/aurahq/aura/internal/health"
	"github.com/aurahq/aura/internal/mood"
	"github.com/aurahq/aura/internal/observe"
	"github.com/aurahq/aura/internal/onboarding"
	"github.com/aurahq/aura/internal/persona"
	"github.com/aurahq/aura/internal/router"
	"github.com/aurahq/aura/internal/transcript"
	"github.com/aurahq/aura/pkg/blobstore"
	"github.com/aurahq/aura/pkg/completion"
	"github.com/aurahq/aura/pkg/kvstore"
	"github.com/aurahq/aura/pkg/wallet"
	"github.com/aurahq/aura/pkg/wallet/bridge"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

// Config holds the gateway's collaborators and settings.
type Config struct {
	ListenAddr string
	TLSCert    string
	TLSKey     string

	Store       kvstore.Store
	Ledger      *access.Ledger
	Onboarding  *onboarding.Manager
	Personas    *persona.Registry
	Streamer    completion.Streamer
	Archive     *archive.Index
	Blobs       blobstore.Store
	Transcripts *transcript.Store
	Mood        *mood.Journal

	// CompletionBackend names the primary completion backend for the
	// completion metrics. Empty means "unknown".
	CompletionBackend string

	// Payment terms. Treasury empty disables the pay endpoint. Chain zero
	// value means the payment default (Polygon Amoy).
	Treasury  string
	Chain     wallet.ChainDescriptor
	AmountWei *big.Int

	Metrics *observe.Metrics
	Health  *health.Handler

	// StreamTimeout bounds one reply stream. Zero means the chat default.
	StreamTimeout time.Duration
}

// client is one connected browser: its wallet bridge, its view router and
// its open chat sessions.
type client struct {
	id     string
	bridge *bridge.Bridge
	router *router.Router

	mu       sync.Mutex
	sessions map[string]*chat.Session
}

// session returns the open chat session for companionID, creating it on
// first use.
func (c *client) session(g *Gateway, address, companionID, userName string) (*chat.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[companionID]; ok {
		return s, nil
	}
	p, ok := g.cfg.Personas.Lookup(companionID)
	if !ok {
		return nil, fmt.Errorf("unknown companion %q", companionID)
	}
	s, err := chat.Open(chat.Config{
		Address:       address,
		Persona:       p,
		UserName:      userName,
		Transcripts:   g.cfg.Transcripts,
		Streamer:      g.cfg.Streamer,
		Archive:       g.cfg.Archive,
		Blobs:         g.cfg.Blobs,
		StreamTimeout: g.cfg.StreamTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.sessions[companionID] = s
	g.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	return s, nil
}

// closeSessions closes all of a client's chat sessions.
func (c *client) closeSessions(g *Gateway) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sessions {
		s.Close()
		delete(c.sessions, id)
		g.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// notifier pushes router side effects to one client as notice events.
type notifier struct {
	c       *client
	metrics *observe.Metrics
}

var _ router.Notifier = notifier{}

func (n notifier) TrialStarted(address string, expiresAt time.Time) {
	n.metrics.TrialStarts.Add(context.Background(), 1)
	_ = n.c.bridge.Push(context.Background(), "notice", map[string]string{
		"kind":    "trialStarted",
		"message": "Your free trial has started.",
		"expires": expiresAt.UTC().Format(time.RFC3339),
	})
}

// Gateway serves the application over HTTP.
type Gateway struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a gateway. Metrics and Health must be non-nil.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Store == nil, cfg.Ledger == nil, cfg.Onboarding == nil,
		cfg.Personas == nil, cfg.Streamer == nil, cfg.Archive == nil,
		cfg.Blobs == nil, cfg.Transcripts == nil, cfg.Mood == nil:
		return nil, errors.New("gateway: all storage and chat collaborators must be set")
	case cfg.Metrics == nil:
		return nil, errors.New("gateway: metrics must be set")
	case cfg.Health == nil:
		return nil, errors.New("gateway: health handler must be set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.CompletionBackend == "" {
		cfg.CompletionBackend = "unknown"
	}
	return &Gateway{
		cfg:     cfg,
		clients: make(map[string]*client),
	}, nil
}

// Addr returns the listen address, defaults applied.
func (g *Gateway) Addr() string {
	return g.cfg.ListenAddr
}

// Routes builds the full HTTP handler, observability middleware included.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", g.handleWS)

	mux.HandleFunc("POST /api/connect", g.handleConnect)
	mux.HandleFunc("GET /api/state", g.handleState)
	mux.HandleFunc("POST /api/pay", g.handlePay)
	mux.HandleFunc("POST /api/onboarding", g.handleOnboarding)
	mux.HandleFunc("GET /api/personas", g.handlePersonas)

	mux.HandleFunc("POST /api/chat/send", g.handleSend)
	mux.HandleFunc("GET /api/chat/transcript", g.handleTranscript)
	mux.HandleFunc("POST /api/chat/export", g.handleExport)

	mux.HandleFunc("GET /api/archive", g.handleArchiveList)
	mux.HandleFunc("GET /api/archive/{hash}", g.handleArchiveFetch)

	mux.HandleFunc("POST /api/mood", g.handleMoodRecord)
	mux.HandleFunc("GET /api/mood", g.handleMoodList)

	mux.Handle("GET /metrics", promhttp.Handler())
	g.cfg.Health.Register(mux)

	return observe.Middleware(g.cfg.Metrics)(mux)
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (g *Gateway) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("gateway listening", "addr", g.cfg.ListenAddr, "tls", g.cfg.TLSCert != "")
		var err error
		if g.cfg.TLSCert != "" {
			err = srv.ListenAndServeTLS(g.cfg.TLSCert, g.cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// handleWS upgrades the connection, registers a client and relays its wallet
// account events into the router until the connection drops.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		bridge:   bridge.New(conn),
		sessions: make(map[string]*chat.Session),
	}
	c.router = router.New(router.Config{
		Store:      g.cfg.Store,
		Ledger:     g.cfg.Ledger,
		Onboarding: g.cfg.Onboarding,
		Notifier:   notifier{c: c, metrics: g.cfg.Metrics},
	})

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	if err := c.bridge.Push(r.Context(), "hello", map[string]string{"clientId": c.id}); err != nil {
		slog.Warn("hello push failed", "client", c.id, "err", err)
	}

	// Pick up where the last session left off: the stored last-connected
	// address re-enters the connected flow without a fresh wallet prompt.
	state, err := c.router.Resume()
	if err != nil {
		slog.Warn("resume failed", "client", c.id, "err", err)
	} else {
		_ = c.bridge.Push(r.Context(), "state", stateView(state))
	}
	slog.Info("client connected", "client", c.id)

	// Relay wallet account events until the bridge dies.
	for accounts := range c.bridge.AccountsChanged() {
		state, err := c.router.HandleAccountsChanged(accounts)
		if err != nil {
			slog.Warn("accounts change evaluation failed", "client", c.id, "err", err)
			continue
		}
		if len(accounts) == 0 {
			c.closeSessions(g)
		}
		_ = c.bridge.Push(context.Background(), "state", stateView(state))
	}

	c.closeSessions(g)
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
	slog.Info("client disconnected", "client", c.id)
}

// lookup resolves the client named by the X-Client-ID header or clientId
// query parameter.
func (g *Gateway) lookup(r *http.Request) (*client, error) {
	id := r.Header.Get("X-Client-ID")
	if id == "" {
		id = r.URL.Query().Get("clientId")
	}
	if id == "" {
		return nil, errors.New("missing client id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return nil, fmt.Errorf("unknown client %q", id)
	}
	return c, nil
}
