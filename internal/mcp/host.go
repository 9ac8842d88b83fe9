// Package mcp defines the interface for importing tools from Model Context
// Protocol (MCP) servers into a realtime session.
//
// Lifecycle:
//
//  1. Call [Host.Connect] for each configured server.
//  2. Register [Host.Tools] with the session's tool registry.
//  3. Inspect [Host.Stats] for per-tool call counts and latency.
//  4. Call [Host.Close] to release all connections and subprocesses.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"time"

	"github.com/MrWong99/concierge/pkg/realtime"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server. Imported tools are exposed to the model as
	// "<Name>_<tool>".
	Name string

	Transport Transport

	// Command is the executable and its arguments, split on whitespace.
	// Used with [TransportStdio].
	Command string

	// URL is the endpoint used with [TransportStreamableHTTP].
	URL string

	// Token, if set, is sent as a Bearer token to streamable-http servers.
	Token string

	// Env holds additional environment variables for the stdio subprocess.
	Env map[string]string
}

// ToolStats captures the observed behaviour of one imported tool.
type ToolStats struct {
	Name       string        `json:"name"`
	Server     string        `json:"server"`
	Calls      int           `json:"calls"`
	Errors     int           `json:"errors"`
	P50        time.Duration `json:"p50_ns"`
	P99        time.Duration `json:"p99_ns"`
	LastCalled time.Time     `json:"last_called,omitzero"`
}

// Host manages connections to MCP servers and adapts their tools for the
// realtime session.
type Host interface {
	// Connect dials the server described by cfg and imports its tool
	// catalogue. Connecting a name twice replaces the earlier connection.
	Connect(ctx context.Context, cfg ServerConfig) error

	// Tools returns every imported tool as a [realtime.Tool] whose function
	// forwards the call to the owning server.
	Tools() []realtime.Tool

	// Stats returns per-tool call statistics sorted by tool name.
	Stats() []ToolStats

	// Close shuts down all server connections.
	Close() error
}
