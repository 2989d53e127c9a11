// Command relay runs the transcript relay server: it accepts audio from
// authenticated sources, streams it to a transcription backend, and fans the
// resulting transcripts out to authenticated sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribear/transcript-relay/internal/auth"
	"github.com/scribear/transcript-relay/internal/config"
	"github.com/scribear/transcript-relay/internal/health"
	"github.com/scribear/transcript-relay/internal/observe"
	"github.com/scribear/transcript-relay/internal/relay"
	"github.com/scribear/transcript-relay/internal/server"
	"github.com/scribear/transcript-relay/internal/transcription"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	providersPath := flag.String("providers", "", "path to the YAML provider defaults file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("transcript relay starting",
		"listen_addr", cfg.Server.ListenAddr(),
		"log_level", cfg.Server.LogLevel,
		"transcription_service", cfg.Transcription.ServiceURL,
	)

	// ── Provider defaults ─────────────────────────────────────────────────────
	defaults, err := loadProviderDefaults(*providersPath)
	if err != nil {
		slog.Error("failed to load provider defaults", "path", *providersPath, "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "transcript-relay",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Wiring ────────────────────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	dial := relay.BackendDialer(cfg.Transcription.ServiceURL, cfg.Transcription.APIKey, logger)
	manager := relay.NewManager(dial, defaults, metrics, logger)
	srv := server.New(verifier, manager, health.New(), metrics, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadProviderDefaults turns the optional providers file into the map the
// room manager consults when a client names a provider key.
func loadProviderDefaults(path string) (relay.ProviderDefaults, error) {
	if path == "" {
		return nil, nil
	}
	pf, err := config.LoadProviders(path)
	if err != nil {
		return nil, err
	}
	defaults := make(relay.ProviderDefaults, len(pf.Providers))
	for _, p := range pf.Providers {
		defaults[p.ProviderKey] = transcription.SessionConfig{
			ProviderKey: p.ProviderKey,
			UseSSL:      p.UseSSL,
			SampleRate:  p.SampleRate,
			NumChannels: p.NumChannels,
		}
	}
	return defaults, nil
}

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
