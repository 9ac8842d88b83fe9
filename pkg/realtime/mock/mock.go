// Package mock provides in-memory implementations of [realtime.Transport],
// [realtime.Conn], [realtime.CredentialFetcher] and [realtime.Recorder] for
// unit tests.
//
// A test drives the remote side through the Conn helpers:
//
//	conn := mock.NewConn()
//	tr := &mock.Transport{Conn: conn}
//	sess := realtime.New(tr, mock.Credential("ek_test"))
//	_ = sess.Start(ctx)
//	conn.Open()
//	conn.Message(map[string]any{"type": "response.audio_transcript.delta", "delta": "Hi"})
//	frames := conn.WaitSent(t, 2)
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock [realtime.Conn]. Outbound frames are recorded; inbound
// events are injected with Open, Message and Close.
type Conn struct {
	mu     sync.Mutex
	events chan realtime.ConnEvent
	open   bool
	closed bool
	sent   [][]byte
	signal chan struct{}

	// SendError, when set, is returned by every Send.
	SendError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewConn returns a connection whose control channel is not yet open.
func NewConn() *Conn {
	return &Conn{
		events: make(chan realtime.ConnEvent, 256),
		signal: make(chan struct{}, 1),
	}
}

// Events implements [realtime.Conn].
func (c *Conn) Events() <-chan realtime.ConnEvent { return c.events }

// Send implements [realtime.Conn].
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	if !c.open || c.closed {
		return fmt.Errorf("mock: %w", realtime.ErrChannelClosed)
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	select {
	case c.signal <- struct{}{}:
	default:
	}
	return nil
}

// Close implements [realtime.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		c.open = false
		close(c.events)
	}
	return nil
}

// Open marks the control channel open and emits the open event.
func (c *Conn) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.open = true
	c.events <- realtime.ConnEvent{Type: realtime.ConnOpen}
}

// Message emits v as an inbound frame. v is marshalled unless it is a
// []byte or string, which are sent verbatim.
func (c *Conn) Message(v any) {
	var data []byte
	switch m := v.(type) {
	case []byte:
		data = m
	case string:
		data = []byte(m)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			panic(err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- realtime.ConnEvent{Type: realtime.ConnMessage, Data: data}
}

// RemoteClose emits a closed event as if the peer hung up.
func (c *Conn) RemoteClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.open = false
	c.events <- realtime.ConnEvent{Type: realtime.ConnClosed, Err: err}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns every outbound frame decoded as a JSON object.
func (c *Conn) Sent() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

// WaitSent blocks until at least n frames were sent and returns them. It
// fails the test after two seconds.
func (c *Conn) WaitSent(t testing.TB, n int) []map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if frames := c.Sent(); len(frames) >= n {
			return frames
		}
		select {
		case <-c.signal:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("mock: waited for %d sent frames, got %d", n, len(c.Sent()))
			return nil
		}
	}
}

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock [realtime.Transport].
type Transport struct {
	mu sync.Mutex

	// Conn is returned by Dial. When nil or already closed a fresh [Conn]
	// is created and stored here.
	Conn *Conn

	// DialError is returned by Dial when non-nil.
	DialError error

	// Block, when non-nil, makes Dial wait until it is closed or ctx ends.
	Block chan struct{}

	// Requests records every DialRequest.
	Requests []realtime.DialRequest
}

// Dial implements [realtime.Transport].
func (t *Transport) Dial(ctx context.Context, req realtime.DialRequest) (realtime.Conn, error) {
	t.mu.Lock()
	t.Requests = append(t.Requests, req)
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialError != nil {
		return nil, t.DialError
	}
	if t.Conn == nil || t.Conn.Closed() {
		t.Conn = NewConn()
	}
	return t.Conn, nil
}

// LastRequest returns the most recent DialRequest.
func (t *Transport) LastRequest() realtime.DialRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Requests) == 0 {
		return realtime.DialRequest{}
	}
	return t.Requests[len(t.Requests)-1]
}

// PlayInbound delivers frame through the last request's OnAudio callback.
func (t *Transport) PlayInbound(frame audio.AudioFrame) {
	if cb := t.LastRequest().OnAudio; cb != nil {
		cb(frame)
	}
}

// ─── Credentials ──────────────────────────────────────────────────────────────

// Credential returns a fetcher that always yields value.
func Credential(value string) realtime.CredentialFetcher {
	return realtime.CredentialFunc(func(context.Context) (realtime.Credential, error) {
		return realtime.Credential{Value: value}, nil
	})
}

// FailingCredential returns a fetcher that always fails with err.
func FailingCredential(err error) realtime.CredentialFetcher {
	return realtime.CredentialFunc(func(context.Context) (realtime.Credential, error) {
		return realtime.Credential{}, err
	})
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock [realtime.Recorder] that counts calls.
type Recorder struct {
	mu sync.Mutex

	SetupOK     int
	SetupFailed int
	Active      int64
	Frames      map[realtime.EventKind]int
	ToolOK      map[string]int
	ToolFailed  map[string]int
}

// SetupFinished implements [realtime.Recorder].
func (r *Recorder) SetupFinished(_ context.Context, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.SetupFailed++
		return
	}
	r.SetupOK++
}

// ActiveSessions implements [realtime.Recorder].
func (r *Recorder) ActiveSessions(_ context.Context, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Active += delta
}

// FrameReceived implements [realtime.Recorder].
func (r *Recorder) FrameReceived(_ context.Context, kind realtime.EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Frames == nil {
		r.Frames = make(map[realtime.EventKind]int)
	}
	r.Frames[kind]++
}

// ToolFinished implements [realtime.Recorder].
func (r *Recorder) ToolFinished(_ context.Context, tool string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ToolOK == nil {
		r.ToolOK = make(map[string]int)
		r.ToolFailed = make(map[string]int)
	}
	if err != nil {
		r.ToolFailed[tool]++
		return
	}
	r.ToolOK[tool]++
}

// Snapshot returns a copy of the counters safe to read while the session
// is running.
func (r *Recorder) Snapshot() (setupOK, setupFailed int, active int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SetupOK, r.SetupFailed, r.Active
}
