// Package mock provides an in-memory test double for the [mcp.Host] interface.
//
// Typical usage:
//
//	h := &mock.Host{ToolsResult: []realtime.Tool{tool}}
//	// inject h into the system under test …
//	if got := h.CallCount("Connect"); got != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/internal/mcp"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Host is a configurable test double for [mcp.Host].
type Host struct {
	mu    sync.Mutex
	calls []Call

	// ConnectErr is returned by [Host.Connect] when non-nil.
	ConnectErr error

	// ToolsResult is returned by [Host.Tools].
	ToolsResult []realtime.Tool

	// StatsResult is returned by [Host.Stats].
	StatsResult []mcp.ToolStats

	// CloseErr is returned by [Host.Close].
	CloseErr error
}

var _ mcp.Host = (*Host)(nil)

func (h *Host) record(method string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: method, Args: args})
}

// Connect records the call and returns ConnectErr.
func (h *Host) Connect(_ context.Context, cfg mcp.ServerConfig) error {
	h.record("Connect", cfg)
	return h.ConnectErr
}

// Tools records the call and returns ToolsResult.
func (h *Host) Tools() []realtime.Tool {
	h.record("Tools")
	return h.ToolsResult
}

// Stats records the call and returns StatsResult.
func (h *Host) Stats() []mcp.ToolStats {
	h.record("Stats")
	return h.StatsResult
}

// Close records the call and returns CloseErr.
func (h *Host) Close() error {
	h.record("Close")
	return h.CloseErr
}

// Calls returns a copy of all recorded calls in order.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount returns how many times method was called.
func (h *Host) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
