// Package httpapi serves the host HTTP API: credential minting, the
// property context and lookups, voice session control, tool listing,
// health probes and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/concierge/internal/health"
	"github.com/MrWong99/concierge/internal/mcp"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/property"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// startTimeout bounds session setup triggered over HTTP. Setup is detached
// from the request so a disconnecting client does not abort it.
const startTimeout = 30 * time.Second

// maxTextBytes caps the body of a text injection request.
const maxTextBytes = 16 << 10

// Voice is the session surface the API drives. [*realtime.Session]
// implements it.
type Voice interface {
	Start(ctx context.Context) error
	Stop()
	SendText(text string)
	Snapshot() realtime.Snapshot
}

var _ Voice = (*realtime.Session)(nil)

// ToolLister reports the tools advertised to the model.
type ToolLister interface {
	Definitions() []realtime.ToolDefinition
}

// Config wires the server's collaborators. Nil fields disable the routes
// that need them.
type Config struct {
	Store         property.Store
	ContextSample int

	// Credentials serves POST /api/session.
	Credentials http.Handler

	Voice Voice
	Tools ToolLister
	MCP   mcp.Host

	Health  *health.Handler
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Default: [promhttp.Handler].
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// Server is the host HTTP API.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.ContextSample <= 0 {
		cfg.ContextSample = 20
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.cfg.Metrics != nil {
		r.Use(observe.Middleware(s.cfg.Metrics, s.log))
	}

	if s.cfg.Health != nil {
		s.cfg.Health.Register(r)
	}
	r.Handle("/metrics", s.cfg.MetricsHandler)

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Credentials != nil {
			r.Method(http.MethodPost, "/session", s.cfg.Credentials)
		}
		if s.cfg.Store != nil {
			r.Get("/properties", s.handleSearch)
			r.Get("/properties/context", s.handleContext)
			r.Get("/properties/{id}", s.handleProperty)
		}
		r.Get("/tools", s.handleTools)
		if s.cfg.Voice != nil {
			r.Route("/voice", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/text", s.handleText)
				r.Get("/state", s.handleState)
			})
		}
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, limit int64, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// clientMessage trims a wrapped error to its last segment for API output.
func clientMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 && i+2 < len(msg) {
		return msg[i+2:]
	}
	return msg
}
