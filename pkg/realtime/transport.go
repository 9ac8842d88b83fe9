package realtime

import (
	"context"

	"github.com/MrWong99/concierge/pkg/audio"
)

// DataChannelLabel is the label of the control/event data channel.
const DataChannelLabel = "oai-events"

// Transport dials connections to the realtime service. One Transport can
// serve any number of sequential sessions; each Dial yields an independent
// [Conn].
type Transport interface {
	// Dial negotiates a connection: peer connection, control channel,
	// local audio track and the offer/answer exchange. It returns once the
	// remote description is applied; the control channel opens later and
	// is reported through [Conn.Events]. On error Dial releases everything
	// it created.
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// DialRequest carries everything a Transport needs to negotiate.
type DialRequest struct {
	Credential Credential
	Model      string
	Voice      string

	// Audio is the local capture stream to send. May be nil for text-only
	// transports.
	Audio audio.Stream

	// OnAudio receives decoded inbound PCM. Called from a transport
	// goroutine; must not block.
	OnAudio func(audio.AudioFrame)
}

// Conn is one negotiated connection.
type Conn interface {
	// Events delivers open, message and closed notifications in order. The
	// channel is closed after the closed event or when Close is called.
	Events() <-chan ConnEvent

	// Send writes one text frame on the control channel. It returns an
	// error wrapping [ErrChannelClosed] when the channel is not open.
	Send(data []byte) error

	// Close closes the control channel, then the underlying connection.
	// Safe to call more than once.
	Close() error
}

// ConnEventType discriminates [ConnEvent].
type ConnEventType int

const (
	// ConnOpen reports that the control channel is open.
	ConnOpen ConnEventType = iota
	// ConnMessage carries one inbound text frame in Data.
	ConnMessage
	// ConnClosed reports that the remote side or the network closed the
	// connection. Err is set when the close was abnormal.
	ConnClosed
)

// ConnEvent is a notification from a [Conn].
type ConnEvent struct {
	Type ConnEventType
	Data []byte
	Err  error
}
