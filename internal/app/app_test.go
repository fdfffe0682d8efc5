package app_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aurahq/aura/internal/app"
	"github.com/aurahq/aura/internal/config"
	"github.com/aurahq/aura/internal/observe"
	blobmock "github.com/aurahq/aura/pkg/blobstore/mock"
	compmock "github.com/aurahq/aura/pkg/completion/mock"
	"github.com/aurahq/aura/pkg/kvstore"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// testConfig returns a minimal config that wires fully in-process.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Storage: config.StorageConfig{
			Backend: config.StorageMemory,
		},
		Completion: config.CompletionConfig{
			Backends: []config.CompletionEntry{
				{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			},
		},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		app.WithStore(kvstore.NewMemStore()),
		app.WithStreamer(&compmock.Streamer{Fragments: []string{"hi"}}),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Gateway() == nil {
		t.Fatal("New() left gateway unset")
	}
}

func TestNew_ServesHTTP(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		app.WithStore(kvstore.NewMemStore()),
		app.WithStreamer(&compmock.Streamer{}),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	srv := httptest.NewServer(application.Gateway().Routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestNew_PersonasFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Personas = []config.PersonaConfig{
		{
			ID:               "sage",
			Name:             "Sage",
			Descriptor:       "A calm listener",
			GreetingTemplate: "Hello {userName}.",
		},
	}

	application, err := app.New(
		context.Background(),
		cfg,
		app.WithStore(kvstore.NewMemStore()),
		app.WithStreamer(&compmock.Streamer{}),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	srv := httptest.NewServer(application.Gateway().Routes())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/api/personas")
	if err != nil {
		t.Fatalf("GET /api/personas: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	got := string(body)
	if want := `"id":"sage"`; !strings.Contains(got, want) {
		t.Errorf("personas response %q missing %q", got, want)
	}
	if strings.Contains(got, "luna") {
		t.Errorf("config personas should replace the defaults, got %q", got)
	}
}

func TestNew_NoBackendsFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Completion.Backends = nil

	_, err := app.New(
		context.Background(),
		cfg,
		app.WithStore(kvstore.NewMemStore()),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New() accepted a config without completion backends")
	}
}

func TestNew_UnknownStorageBackendFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = "etched-stone"

	_, err := app.New(
		context.Background(),
		cfg,
		app.WithStreamer(&compmock.Streamer{}),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New() accepted an unknown storage backend")
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		app.WithStore(kvstore.NewMemStore()),
		app.WithStreamer(&compmock.Streamer{}),
		app.WithBlobStore(&blobmock.Store{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() returned error: %v", err)
	}
}
