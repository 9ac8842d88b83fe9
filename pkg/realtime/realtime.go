// Package realtime orchestrates a live voice session with a realtime speech
// model.
//
// A [Session] acquires the microphone and a short-lived credential
// concurrently, dials a [Transport] (WebRTC peer connection plus the
// "oai-events" data channel, or a WebSocket), configures the remote session
// once the control channel opens, and from then on consumes inbound JSON
// frames strictly in arrival order on a single loop goroutine. Frames drive
// the conversation [transcript.Log] and the tool bridge; tools registered in
// a [Registry] are awaited inside the loop so that no later frame is handled
// before the tool's result has been sent back.
//
// Hosts observe the session through copies: [Session.Snapshot],
// [Session.Conversation], [Session.RawEvents], or the [Session.OnChange]
// callback.
package realtime

import "errors"

// Sentinel errors. Setup failures wrap one of these so that hosts can branch
// with [errors.Is].
var (
	// ErrNetwork is returned when an HTTP exchange fails at the transport
	// level or returns an unexpected status.
	ErrNetwork = errors.New("realtime: network error")

	// ErrAuth is returned when a credential is rejected (401/403) or the
	// credential response carries no token.
	ErrAuth = errors.New("realtime: authorization failed")

	// ErrNegotiation is returned when the offer/answer exchange or the
	// initial session configuration fails.
	ErrNegotiation = errors.New("realtime: negotiation failed")

	// ErrChannelClosed is returned by [Conn.Send] when the control channel is
	// not open.
	ErrChannelClosed = errors.New("realtime: control channel closed")

	// ErrAlreadyStarted is returned by [Session.Start] while a session is
	// negotiating or active.
	ErrAlreadyStarted = errors.New("realtime: session already started")

	// ErrStopped is returned by [Session.Start] when Stop was called before
	// negotiation completed.
	ErrStopped = errors.New("realtime: session stopped during setup")
)

// State is the lifecycle state of a [Session].
type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// Running reports whether the state holds live resources.
func (s State) Running() bool {
	return s == StateNegotiating || s == StateActive
}
