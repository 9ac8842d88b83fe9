// Package mcphost provides a concrete implementation of the [mcp.Host]
// interface using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// Typical usage:
//
//	h := mcphost.New()
//	err := h.Connect(ctx, mcp.ServerConfig{
//	    Name:      "calendar",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-calendar --tz UTC",
//	})
//	for _, t := range h.Tools() {
//	    registry.Register(t)
//	}
//	defer h.Close()
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/concierge/internal/mcp"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// maxToolName is the longest function name the realtime API accepts.
const maxToolName = 64

// server holds a live connection and the catalogue it advertised.
type server struct {
	name    string
	session *mcpsdk.ClientSession
	tools   []*mcpsdk.Tool
}

// Host is the concrete [mcp.Host]. The zero value is not usable; create
// instances with [New].
type Host struct {
	client     *mcpsdk.Client
	httpClient *http.Client
	log        *slog.Logger

	mu      sync.RWMutex
	servers map[string]*server
	stats   map[string]*latencyWindow // keyed by exposed tool name
	closed  bool
}

var _ mcp.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithHTTPClient sets the client used for streamable-http servers.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) { h.httpClient = c }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New creates a Host with no servers.
func New(opts ...Option) *Host {
	h := &Host{
		client:     mcpsdk.NewClient(&mcpsdk.Implementation{Name: "concierge", Version: "1.0.0"}, nil),
		httpClient: http.DefaultClient,
		log:        slog.Default(),
		servers:    make(map[string]*server),
		stats:      make(map[string]*latencyWindow),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect dials the server described by cfg and imports its tools.
//
// For [mcp.TransportStdio] the Command is split on whitespace and started as
// a subprocess that outlives ctx; it is stopped by [Host.Close]. For
// [mcp.TransportStreamableHTTP] the Token, if any, is sent as a Bearer token
// on every request.
func (h *Host) Connect(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("mcp host: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		client := h.httpClient
		if cfg.Token != "" {
			base := client.Transport
			if base == nil {
				base = http.DefaultTransport
			}
			client = &http.Client{Transport: bearer{token: cfg.Token, base: base}, Timeout: client.Timeout}
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: client}

	default:
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	return h.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport imports the tools of a server reachable over an already
// constructed SDK transport. It backs [Host.Connect] and lets callers plug in
// in-memory transports.
func (h *Host) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to server %q: %w", name, err)
	}

	var tools []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of server %q: %w", name, err)
		}
		tools = append(tools, tool)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = session.Close()
		return errors.New("mcp host: closed")
	}
	old := h.servers[name]
	if old != nil {
		for _, t := range old.tools {
			delete(h.stats, exposedName(name, t.Name))
		}
	}
	h.servers[name] = &server{name: name, session: session, tools: tools}
	for _, t := range tools {
		h.stats[exposedName(name, t.Name)] = newLatencyWindow(defaultWindowSize)
	}
	h.mu.Unlock()

	if old != nil {
		_ = old.session.Close()
	}
	h.log.Info("mcp server connected", "server", name, "tools", len(tools))
	return nil
}

// Tools returns every imported tool, grouped by server name and in the order
// each server listed them.
func (h *Host) Tools() []realtime.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.servers))
	for name := range h.servers {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []realtime.Tool
	for _, name := range names {
		for _, t := range h.servers[name].tools {
			exposed := exposedName(name, t.Name)
			out = append(out, realtime.Tool{
				ToolDefinition: realtime.ToolDefinition{
					Name:        exposed,
					Description: t.Description,
					Parameters:  schemaToMap(t.InputSchema),
				},
				Func: h.forward(name, t.Name, exposed),
			})
		}
	}
	return out
}

// forward returns a tool function that calls toolName on the named server.
// Structured results are returned as-is, JSON text is passed through raw and
// anything else becomes a JSON string.
func (h *Host) forward(serverName, toolName, exposed string) realtime.ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		h.mu.RLock()
		srv, ok := h.servers[serverName]
		window := h.stats[exposed]
		h.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("mcp host: server %q is not connected", serverName)
		}

		var argsMap map[string]any
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: arguments for %q must be a JSON object: %w", toolName, err)
		}

		start := time.Now()
		res, err := srv.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: argsMap})
		if window != nil {
			window.record(time.Since(start), err != nil || res.IsError)
		}
		if err != nil {
			return nil, fmt.Errorf("mcp host: call %q on %q: %w", toolName, serverName, err)
		}

		text := textContent(res)
		if res.IsError {
			return nil, errors.New(cmp.Or(text, "tool reported an error"))
		}
		if res.StructuredContent != nil {
			return res.StructuredContent, nil
		}
		if text != "" && json.Valid([]byte(text)) {
			return json.RawMessage(text), nil
		}
		return text, nil
	}
}

// Stats returns per-tool statistics sorted by exposed name.
func (h *Host) Stats() []mcp.ToolStats {
	h.mu.RLock()
	out := make([]mcp.ToolStats, 0, len(h.stats))
	for name, srv := range h.servers {
		for _, t := range srv.tools {
			exposed := exposedName(name, t.Name)
			w, ok := h.stats[exposed]
			if !ok {
				continue
			}
			calls, errs, last := w.counts()
			p50, p99 := w.quantiles()
			out = append(out, mcp.ToolStats{
				Name:       exposed,
				Server:     name,
				Calls:      calls,
				Errors:     errs,
				P50:        p50,
				P99:        p99,
				LastCalled: last,
			})
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b mcp.ToolStats) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Close shuts down every server connection. Further calls to imported tools
// fail.
func (h *Host) Close() error {
	h.mu.Lock()
	servers := h.servers
	h.servers = make(map[string]*server)
	h.closed = true
	h.mu.Unlock()

	var errs []error
	for name, srv := range servers {
		if err := srv.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close server %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// exposedName builds the model-facing function name. The realtime API only
// accepts [a-zA-Z0-9_-] up to 64 characters.
func exposedName(serverName, toolName string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, serverName+"_"+toolName)
	if len(clean) > maxToolName {
		clean = clean[:maxToolName]
	}
	return clean
}

func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaToMap converts an SDK schema value to a plain JSON Schema map.
func schemaToMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

// bearer adds an Authorization header to every request.
type bearer struct {
	token string
	base  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}
