// Command aura is the main entry point for the aura companion server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurahq/aura/internal/app"
	"github.com/aurahq/aura/internal/config"
	"github.com/aurahq/aura/internal/observe"
	"github.com/aurahq/aura/internal/payment"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aura: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aura: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("aura starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "aura",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           aura — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Storage", storageLabel(cfg))
	printField("Completion", completionLabel(cfg))
	printField("Payments", paymentLabel(cfg))
	printField("Archive", archiveLabel(cfg))
	printField("Personas", personasLabel(cfg))
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func storageLabel(cfg *config.Config) string {
	if cfg.Storage.Backend == "" {
		return string(config.StorageMemory)
	}
	return string(cfg.Storage.Backend)
}

func completionLabel(cfg *config.Config) string {
	if len(cfg.Completion.Backends) == 0 {
		return ""
	}
	primary := cfg.Completion.Backends[0]
	label := primary.Name + " / " + primary.Model
	if n := len(cfg.Completion.Backends) - 1; n > 0 {
		label = fmt.Sprintf("%s +%d", label, n)
	}
	return label
}

func paymentLabel(cfg *config.Config) string {
	if cfg.Payment.Treasury == "" {
		return "(disabled)"
	}
	chain := cfg.Payment.Chain.Name
	if chain == "" {
		chain = payment.DefaultChain.Name
	}
	return chain
}

func archiveLabel(cfg *config.Config) string {
	if cfg.Archive.LighthouseAPIKey == "" {
		return "in-memory"
	}
	return "lighthouse"
}

func personasLabel(cfg *config.Config) string {
	if len(cfg.Personas) == 0 {
		return "built-in"
	}
	return fmt.Sprintf("%d configured", len(cfg.Personas))
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
