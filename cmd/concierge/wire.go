package main

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/concierge/internal/config"
	"github.com/MrWong99/concierge/internal/credential"
	"github.com/MrWong99/concierge/internal/health"
	"github.com/MrWong99/concierge/internal/httpapi"
	"github.com/MrWong99/concierge/internal/mcp"
	"github.com/MrWong99/concierge/internal/mcp/mcphost"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/property"
	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
	"github.com/MrWong99/concierge/pkg/realtime/webrtc"
	"github.com/MrWong99/concierge/pkg/realtime/websocket"
)

// upstreamClient is shared by the credential and property-context fetchers.
var upstreamClient = &http.Client{Timeout: 10 * time.Second}

// host bundles every long-lived component built from the config.
type host struct {
	store  property.Store
	tools  *realtime.Registry
	mcp    *mcphost.Host
	minter *credential.Minter
	voice  *voiceHost
	api    *httpapi.Server

	closers []func() error
}

func (h *host) close() {
	h.voice.Stop()
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			slog.Warn("shutdown step failed", "err", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *host, err error) {
	h := &host{tools: realtime.NewRegistry()}
	defer func() {
		if err != nil {
			for i := len(h.closers) - 1; i >= 0; i-- {
				_ = h.closers[i]()
			}
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Property store and tools ──────────────────────────────────────────────
	if h.store, err = openStore(ctx, cfg.Properties); err != nil {
		return nil, err
	}
	h.closers = append(h.closers, h.store.Close)
	for _, t := range property.Tools(h.store, metrics) {
		if err := h.tools.Register(t); err != nil {
			return nil, err
		}
	}

	// ── MCP servers ───────────────────────────────────────────────────────────
	h.mcp = mcphost.New(mcphost.WithLogger(log))
	h.closers = append(h.closers, h.mcp.Close)
	for _, srv := range cfg.MCP.Servers {
		sc := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Token:     srv.Token,
			Env:       srv.Env,
		}
		if err := h.mcp.Connect(ctx, sc); err != nil {
			log.Warn("mcp server unavailable, continuing without its tools", "server", srv.Name, "err", err)
		}
	}
	for _, t := range h.mcp.Tools() {
		if err := h.tools.Register(t); err != nil {
			log.Warn("skipping mcp tool", "tool", t.Name, "err", err)
		}
	}

	// ── Credentials ───────────────────────────────────────────────────────────
	if cfg.OpenAI.APIKey != "" {
		opts := []credential.Option{credential.WithLogger(log)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, credential.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if h.minter, err = credential.New(cfg.OpenAI.APIKey, credentialSession(cfg), opts...); err != nil {
			return nil, err
		}
	}
	var sources []resilience.Source
	if cfg.Realtime.CredentialURL != "" {
		sources = append(sources, resilience.Source{
			Name:    "remote",
			Fetcher: realtime.NewHTTPCredentialFetcher(cfg.Realtime.CredentialURL, upstreamClient),
		})
	}
	if h.minter != nil {
		sources = append(sources, resilience.Source{Name: "minter", Fetcher: h.minter})
	}
	if len(sources) == 0 {
		return nil, errors.New("no credential source: set realtime.credential_url or openai.api_key")
	}
	creds, err := resilience.NewFailoverFetcher(resilience.BreakerConfig{Logger: log}, sources...)
	if err != nil {
		return nil, err
	}

	// ── Session ───────────────────────────────────────────────────────────────
	transport := newTransport(cfg.Realtime, log)
	var loader realtime.ContextLoader
	switch {
	case cfg.Realtime.DisableContext:
	case cfg.Realtime.ContextURL != "":
		loader = realtime.NewHTTPContextLoader(cfg.Realtime.ContextURL, upstreamClient)
	default:
		loader = property.ContextLoader(h.store, cfg.Properties.ContextSample)
	}
	sink, closeSink, err := openSink(cfg.Audio.OutputPath)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, closeSink)
	mic := newMicrophone(cfg.Audio)

	h.voice = newVoiceHost(cfg, func(cfg *config.Config) *realtime.Session {
		rc := cfg.Realtime
		opts := []realtime.Option{
			realtime.WithMicrophone(mic),
			realtime.WithSink(sink),
			realtime.WithRegistry(h.tools),
			realtime.WithModel(cmp.Or(rc.Model, realtime.DefaultModel)),
			realtime.WithVoice(cmp.Or(rc.Voice, realtime.DefaultVoice)),
			realtime.WithInstructions(rc.Instructions),
			realtime.WithTranscriptionModel(cmp.Or(rc.TranscriptionModel, realtime.DefaultTranscriptionModel)),
			realtime.WithLanguage(cmp.Or(rc.Language, realtime.DefaultLanguage)),
			realtime.WithToolTimeout(rc.ToolTimeout),
			realtime.WithLogger(log),
			realtime.WithRecorder(metrics),
		}
		if loader != nil {
			opts = append(opts, realtime.WithContextLoader(loader))
		}
		return realtime.New(transport, creds, opts...)
	})

	// ── HTTP API ──────────────────────────────────────────────────────────────
	checks := health.New(
		health.PingChecker("properties", h.store),
		health.Checker{Name: "credentials", Check: creds.Check},
		health.Checker{Name: "session", Check: func(context.Context) error {
			if snap := h.voice.Snapshot(); snap.State == realtime.StateError {
				return errors.New(snap.Status)
			}
			return nil
		}},
	)
	apiCfg := httpapi.Config{
		Store:         h.store,
		ContextSample: cfg.Properties.ContextSample,
		Voice:         h.voice,
		Tools:         h.tools,
		MCP:           h.mcp,
		Health:        checks,
		Metrics:       metrics,
		Logger:        log,
	}
	if h.minter != nil {
		apiCfg.Credentials = h.minter
	}
	h.api = httpapi.New(apiCfg)
	return h, nil
}

func openStore(ctx context.Context, cfg config.PropertiesConfig) (property.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := property.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.SeedFile != "" {
			props, err := property.LoadSeed(cfg.SeedFile)
			if err == nil {
				err = store.Upsert(ctx, props...)
			}
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed postgres store: %w", err)
			}
			slog.Info("property store seeded", "listings", len(props), "file", cfg.SeedFile)
		}
		return store, nil
	default:
		props, err := property.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		slog.Info("memory property store loaded", "listings", len(props))
		return property.NewMemoryStore(props), nil
	}
}

func newTransport(cfg config.RealtimeConfig, log *slog.Logger) realtime.Transport {
	if cfg.Transport == config.TransportWebSocket {
		opts := []websocket.Option{websocket.WithLogger(log)}
		if cfg.Endpoint != "" {
			opts = append(opts, websocket.WithURL(cfg.Endpoint))
		}
		return websocket.New(opts...)
	}
	return webrtc.New(realtime.NewHTTPNegotiator(cfg.Endpoint, nil),
		webrtc.WithICEServers(cfg.ICEServers...),
		webrtc.WithLogger(log),
	)
}

func newMicrophone(cfg config.AudioConfig) audio.Microphone {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if cfg.Input == config.InputFile {
		return audio.NewFileMicrophone(cfg.InputPath, audio.WithFormat(format))
	}
	return audio.SilenceMicrophone{Format: format}
}

// openSink returns a sink appending raw PCM to path, or [audio.Discard]
// when path is empty.
func openSink(path string) (audio.Sink, func() error, error) {
	if path == "" {
		return audio.Discard, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio output: %w", err)
	}
	var mu sync.Mutex
	w := bufio.NewWriter(f)
	sink := audio.SinkFunc(func(frame audio.AudioFrame) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(frame.Data)
	})
	closeFn := func() error {
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(w.Flush(), f.Close())
	}
	return sink, closeFn, nil
}
