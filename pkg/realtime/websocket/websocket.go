// Package websocket implements [realtime.Transport] over the OpenAI Realtime
// WebSocket endpoint.
//
// It is the server-side alternative to the WebRTC transport: the control
// frames travel as WebSocket text messages, local audio is sent as
// base64-encoded 24 kHz PCM16 in input_audio_buffer.append events and the
// model's audio arrives in response.audio.delta events. The connection counts
// as open as soon as the handshake completes.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// Compile-time interface assertions.
var (
	_ realtime.Transport = (*Transport)(nil)
	_ realtime.Conn      = (*Conn)(nil)
)

const (
	// DefaultURL is the OpenAI Realtime WebSocket endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	// SampleRate is the PCM16 rate the endpoint expects and produces.
	SampleRate = 24000

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Transport].
type Option func(*Transport)

// WithURL overrides the endpoint. Primarily used in tests to point at a local
// server.
func WithURL(u string) Option {
	return func(t *Transport) { t.url = u }
}

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// ── Transport ──────────────────────────────────────────────────────────────────

// Transport dials WebSocket sessions.
type Transport struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// New creates a Transport for [DefaultURL].
func New(opts ...Option) *Transport {
	t := &Transport{url: DefaultURL, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial implements [realtime.Transport].
func (t *Transport) Dial(ctx context.Context, req realtime.DialRequest) (realtime.Conn, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", realtime.ErrNegotiation, err)
	}
	q := u.Query()
	if req.Model != "" {
		q.Set("model", req.Model)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + req.Credential.Value},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: websocket handshake: status %d", realtime.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: websocket dial: %w", realtime.ErrNetwork, err)
	}
	ws.SetReadLimit(-1)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		ctx:     connCtx,
		cancel:  cancel,
		events:  make(chan realtime.ConnEvent, eventBuffer),
		onAudio: req.OnAudio,
		log:     t.log,
	}
	c.events <- realtime.ConnEvent{Type: realtime.ConnOpen}

	c.wg.Add(1)
	go c.receiveLoop()
	if req.Audio != nil {
		c.wg.Add(1)
		go c.sendAudio(req.Audio)
	}
	return c, nil
}

// ── Conn ───────────────────────────────────────────────────────────────────────

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type audioDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// Conn is one WebSocket session.
type Conn struct {
	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan realtime.ConnEvent
	onAudio func(audio.AudioFrame)
	log     *slog.Logger
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// receiveLoop reads frames until the socket ends. It owns events: it closes
// the channel when it exits.
func (c *Conn) receiveLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.isClosed() || c.ctx.Err() != nil {
				return
			}
			var closeErr error
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				closeErr = fmt.Errorf("websocket: read: %w", err)
			}
			c.deliver(realtime.ConnEvent{Type: realtime.ConnClosed, Err: closeErr})
			return
		}
		c.playAudio(data)
		if !c.deliver(realtime.ConnEvent{Type: realtime.ConnMessage, Data: data}) {
			return
		}
	}
}

func (c *Conn) deliver(ev realtime.ConnEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// playAudio forwards response.audio.delta payloads to OnAudio. Every frame
// is still delivered as a message.
func (c *Conn) playAudio(data []byte) {
	if c.onAudio == nil {
		return
	}
	var evt audioDelta
	if err := json.Unmarshal(data, &evt); err != nil || evt.Type != "response.audio.delta" || evt.Delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil || len(pcm) == 0 {
		return
	}
	c.onAudio(audio.AudioFrame{Data: pcm, SampleRate: SampleRate, Channels: 1})
}

// sendAudio streams local capture as input_audio_buffer.append events.
func (c *Conn) sendAudio(stream audio.Stream) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			pcm := frame.Data
			if frame.Channels == 2 {
				pcm = audio.StereoToMono(pcm)
			}
			pcm = audio.ResampleMono16(pcm, frame.SampleRate, SampleRate)
			if len(pcm) == 0 {
				continue
			}
			data, err := json.Marshal(appendAudioMessage{
				Type:  "input_audio_buffer.append",
				Audio: base64.StdEncoding.EncodeToString(pcm),
			})
			if err != nil {
				continue
			}
			if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
				c.log.Debug("websocket: send audio", "err", err)
				return
			}
		}
	}
}

// Events implements [realtime.Conn].
func (c *Conn) Events() <-chan realtime.ConnEvent { return c.events }

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send implements [realtime.Conn].
func (c *Conn) Send(data []byte) error {
	if c.isClosed() {
		return fmt.Errorf("websocket: %w", realtime.ErrChannelClosed)
	}
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket: %w: %v", realtime.ErrChannelClosed, err)
	}
	return nil
}

// Close implements [realtime.Conn]. It performs the close handshake, then
// waits for the reader and audio sender to exit. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		err = c.ws.Close(websocket.StatusNormalClosure, "session closed")
		c.cancel()
		c.wg.Wait()
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	})
	return err
}
