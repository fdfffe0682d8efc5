// Package app wires all aura subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the gateway until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithStreamer, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/archive"
	"github.com/aurahq/aura/internal/config"
	"github.com/aurahq/aura/internal/gateway"
	"github.com/aurahq/aura/internal/health"
	"github.com/aurahq/aura/internal/mood"
	"github.com/aurahq/aura/internal/observe"
	"github.com/aurahq/aura/internal/onboarding"
	"github.com/aurahq/aura/internal/persona"
	"github.com/aurahq/aura/internal/resilience"
	"github.com/aurahq/aura/internal/transcript"
	"github.com/aurahq/aura/pkg/blobstore"
	"github.com/aurahq/aura/pkg/blobstore/lighthouse"
	blobmock "github.com/aurahq/aura/pkg/blobstore/mock"
	"github.com/aurahq/aura/pkg/completion"
	"github.com/aurahq/aura/pkg/completion/anyllm"
	openaistreamer "github.com/aurahq/aura/pkg/completion/openai"
	"github.com/aurahq/aura/pkg/kvstore"
	kvpostgres "github.com/aurahq/aura/pkg/kvstore/postgres"
	"github.com/aurahq/aura/pkg/wallet"
)

// Default monetization terms, used when the config leaves them zero.
const (
	defaultTrialDays        = 3
	defaultSubscriptionDays = 30
)

// App owns all subsystem lifetimes and serves the aura gateway.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	store       kvstore.Store
	personas    *persona.Registry
	ledger      *access.Ledger
	onboarding  *onboarding.Manager
	streamer    completion.Streamer
	primary     string
	blobs       blobstore.Store
	archive     *archive.Index
	transcripts *transcript.Store
	moods       *mood.Journal
	metrics     *observe.Metrics
	checks      map[string]health.Check
	gateway     *gateway.Gateway

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a key-value store instead of creating one from config.
func WithStore(s kvstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithStreamer injects a completion streamer instead of building the
// failover group from config.
func WithStreamer(s completion.Streamer) Option {
	return func(a *App) { a.streamer = s }
}

// WithBlobStore injects a blob store instead of creating one from config.
func WithBlobStore(b blobstore.Store) Option {
	return func(a *App) { a.blobs = b }
}

// WithMetrics injects a metrics bundle instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, persona
// registry validation, completion backend construction, and gateway
// assembly. It does not listen; call Run for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		checks: map[string]health.Check{},
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Key-value store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Personas + access ledger ─────────────────────────────────────
	if err := a.initDomain(); err != nil {
		return nil, fmt.Errorf("app: init domain: %w", err)
	}

	// ── 3. Completion backends ───────────────────────────────────────────
	if err := a.initStreamer(); err != nil {
		return nil, fmt.Errorf("app: init completion: %w", err)
	}

	// ── 4. Blob store + archive ──────────────────────────────────────────
	if err := a.initArchive(); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 5. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 6. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the configured key-value backend or uses an injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	backend := a.cfg.Storage.Backend
	if backend == "" {
		backend = config.StorageMemory
	}

	switch backend {
	case config.StorageMemory:
		slog.Warn("using in-memory storage; records are lost on restart")
		a.store = kvstore.NewMemStore()

	case config.StorageFile:
		fs, err := kvstore.NewFileStore(a.cfg.Storage.FilePath)
		if err != nil {
			return err
		}
		a.store = fs

	case config.StoragePostgres:
		pg, err := kvpostgres.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		a.checks["postgres"] = health.ForPinger(pg)

	default:
		return fmt.Errorf("unknown storage backend %q", backend)
	}

	slog.Info("storage ready", "backend", backend)
	return nil
}

// initDomain builds the persona registry, the access ledger, the onboarding
// manager, and the transcript store.
func (a *App) initDomain() error {
	personas := persona.Defaults()
	if len(a.cfg.Personas) > 0 {
		personas = personas[:0]
		for _, pc := range a.cfg.Personas {
			personas = append(personas, persona.Persona{
				ID:                  pc.ID,
				Name:                pc.Name,
				Descriptor:          pc.Descriptor,
				GreetingTemplate:    pc.GreetingTemplate,
				InstructionTemplate: pc.InstructionTemplate,
			})
		}
	}
	reg, err := persona.NewRegistry(personas)
	if err != nil {
		return err
	}
	a.personas = reg

	trialDays := a.cfg.Access.TrialDays
	if trialDays == 0 {
		trialDays = defaultTrialDays
	}
	subDays := a.cfg.Access.SubscriptionDays
	if subDays == 0 {
		subDays = defaultSubscriptionDays
	}
	a.ledger = access.NewLedger(a.store,
		time.Duration(trialDays)*24*time.Hour,
		time.Duration(subDays)*24*time.Hour)

	a.onboarding = onboarding.NewManager(a.store, reg)
	a.transcripts = transcript.NewStore(a.store)
	a.moods = mood.NewJournal(a.store)
	return nil
}

// initStreamer builds the completion failover group from the configured
// backends. The first backend is primary; the rest are fallbacks in order.
func (a *App) initStreamer() error {
	if a.streamer != nil {
		return nil // injected
	}
	entries := a.cfg.Completion.Backends
	if len(entries) == 0 {
		return fmt.Errorf("completion.backends must not be empty")
	}

	breaker := resilience.BreakerConfig{
		Threshold: a.cfg.Completion.Breaker.Threshold,
		Cooldown:  a.cfg.Completion.Breaker.Cooldown,
		Probes:    a.cfg.Completion.Breaker.Probes,
	}

	var group *resilience.StreamerGroup
	for i, entry := range entries {
		s, err := buildStreamer(entry)
		if err != nil {
			return fmt.Errorf("backend %q (index %d): %w", entry.Name, i, err)
		}
		if group == nil {
			cfg := breaker
			cfg.Name = entry.Name
			group = resilience.NewStreamerGroup(entry.Name, s, cfg)
		} else {
			group.Add(entry.Name, s)
		}
		slog.Info("completion backend ready", "name", entry.Name, "model", entry.Model, "primary", i == 0)
	}
	a.streamer = group
	a.primary = entries[0].Name
	return nil
}

// buildStreamer constructs one completion backend. OpenAI uses the native
// client; every other provider goes through any-llm-go.
func buildStreamer(entry config.CompletionEntry) (completion.Streamer, error) {
	if entry.Name == "openai" {
		var opts []openaistreamer.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaistreamer.WithBaseURL(entry.BaseURL))
		}
		return openaistreamer.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// initArchive sets up the blob store and the archive index. Without a
// Lighthouse key, exports land in an in-process store so the feature stays
// usable in development.
func (a *App) initArchive() error {
	if a.blobs == nil {
		if key := a.cfg.Archive.LighthouseAPIKey; key != "" {
			var opts []lighthouse.Option
			if a.cfg.Archive.UploadEndpoint != "" {
				opts = append(opts, lighthouse.WithUploadEndpoint(a.cfg.Archive.UploadEndpoint))
			}
			if a.cfg.Archive.GatewayBase != "" {
				opts = append(opts, lighthouse.WithGatewayBase(a.cfg.Archive.GatewayBase))
			}
			ls, err := lighthouse.New(key, opts...)
			if err != nil {
				return err
			}
			a.blobs = ls
			slog.Info("archive exports go to Lighthouse")
		} else {
			slog.Warn("no Lighthouse API key; archive exports stay in process memory")
			a.blobs = &blobmock.Store{}
		}
	}
	a.archive = archive.NewIndex(a.store, a.blobs)
	return nil
}

// initGateway assembles the HTTP/WebSocket gateway from the subsystems.
func (a *App) initGateway() error {
	cfg := gateway.Config{
		ListenAddr:        a.cfg.Server.ListenAddr,
		Store:             a.store,
		Ledger:            a.ledger,
		Onboarding:        a.onboarding,
		Personas:          a.personas,
		Streamer:          a.streamer,
		Archive:           a.archive,
		Blobs:             a.blobs,
		Transcripts:       a.transcripts,
		Mood:              a.moods,
		CompletionBackend: a.primary,
		Treasury:          a.cfg.Payment.Treasury,
		Chain:             configChain(a.cfg.Payment.Chain),
		AmountWei:         a.cfg.PaymentAmountWei(),
		Metrics:           a.metrics,
		Health:            health.New(a.checks),
		StreamTimeout:     a.cfg.Limits.StreamTimeout,
	}
	if a.cfg.Server.TLS != nil {
		cfg.TLSCert = a.cfg.Server.TLS.CertFile
		cfg.TLSKey = a.cfg.Server.TLS.KeyFile
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}
	a.gateway = gw
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the gateway and blocks until ctx is cancelled or the listener
// fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Payment.Treasury == "" {
		slog.Warn("no treasury configured; the pay endpoint is disabled")
	}
	slog.Info("app running",
		"addr", a.gateway.Addr(),
		"personas", a.personas.IDs(),
	)
	return a.gateway.Serve(ctx)
}

// Gateway exposes the assembled gateway, mostly so tests can hit Routes()
// without opening a socket.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// configChain converts a config.ChainConfig to a wallet.ChainDescriptor. A
// zero config yields a zero descriptor, which downstream code replaces with
// the payment default.
func configChain(cc config.ChainConfig) wallet.ChainDescriptor {
	return wallet.ChainDescriptor{
		ChainID:           cc.ChainID,
		Name:              cc.Name,
		RPCURLs:           cc.RPCURLs,
		CurrencyName:      cc.CurrencyName,
		CurrencySymbol:    cc.CurrencySymbol,
		CurrencyDecimals:  cc.CurrencyDecimals,
		BlockExplorerURLs: cc.BlockExplorerURLs,
	}
}
