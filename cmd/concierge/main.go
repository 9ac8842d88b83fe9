// Command concierge runs the real-estate voice concierge host: the realtime
// session, the property store and tools, MCP tool import and the HTTP API.
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

	"github.com/joho/godotenv"

	"github.com/MrWong99/concierge/internal/config"
	"github.com/MrWong99/concierge/internal/credential"
	"github.com/MrWong99/concierge/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	interactive := flag.Bool("prompt", false, "read typed user turns from the terminal")
	flag.Parse()

	// ── Environment and configuration ─────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "concierge: load %s: %v\n", *envFile, err)
		return 1
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	watcher, err := config.NewWatcher(*configPath, nil, config.WithWatcherLogger(logger))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "concierge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "concierge: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("concierge starting",
		"version", version,
		"config", *configPath,
		"transport", cfg.Realtime.Transport,
		"store", cfg.Properties.Backend,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Components ────────────────────────────────────────────────────────────
	h, err := build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise", "err", err)
		return 1
	}
	defer h.close()

	watcher.OnChange(func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RealtimeChanged {
			h.voice.Reconfigure(new)
			if h.minter != nil {
				h.minter.SetSession(credentialSession(new))
			}
			slog.Info("realtime settings changed, applied on next start", "fields", d.RealtimeFields)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart", "sections", d.RestartRequired)
		}
	})

	printStartupSummary(cfg, h)

	// ── HTTP API ──────────────────────────────────────────────────────────────
	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           h.api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		slog.Info("http api listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
	}

	if cfg.Realtime.AutoStart {
		if err := h.voice.Start(ctx); err != nil {
			slog.Error("auto start failed", "err", err)
		}
	}
	if *interactive {
		go func() {
			if err := runPrompt(ctx, h.voice); err != nil {
				slog.Warn("prompt ended", "err", err)
			}
			stop()
		}()
	}

	slog.Info("concierge ready, press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	h.voice.Stop()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "err", err)
			exit = 1
		}
	}
	slog.Info("goodbye")
	return exit
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func credentialSession(cfg *config.Config) credential.SessionConfig {
	return credential.SessionConfig{
		Model:              cfg.Realtime.Model,
		Voice:              cfg.Realtime.Voice,
		Instructions:       cfg.Realtime.Instructions,
		TranscriptionModel: cfg.Realtime.TranscriptionModel,
		Language:           cfg.Realtime.Language,
	}
}

func printStartupSummary(cfg *config.Config, h *host) {
	value := func(s, fallback string) string {
		if s == "" {
			return fallback
		}
		if len(s) > 22 {
			return s[:21] + "…"
		}
		return s
	}
	credSource := "in-process mint"
	if cfg.Realtime.CredentialURL != "" {
		credSource = "remote endpoint"
	}
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        Concierge: startup summary        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Transport      : %-22s ║\n", value(string(cfg.Realtime.Transport), "webrtc"))
	fmt.Printf("║  Model          : %-22s ║\n", value(cfg.Realtime.Model, "(default)"))
	fmt.Printf("║  Voice          : %-22s ║\n", value(cfg.Realtime.Voice, "(default)"))
	fmt.Printf("║  Credentials    : %-22s ║\n", credSource)
	fmt.Printf("║  Property store : %-22s ║\n", value(string(cfg.Properties.Backend), "memory"))
	fmt.Printf("║  Tools          : %-22d ║\n", h.tools.Len())
	fmt.Printf("║  MCP servers    : %-22d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Listen addr    : %-22s ║\n", value(cfg.Server.ListenAddr, "(disabled)"))
	fmt.Println("╚══════════════════════════════════════════╝")
}
