// Package webrtc implements [realtime.Transport] over a pion/webrtc peer
// connection.
//
// Each Dial creates one peer connection carrying a sendrecv Opus audio track
// and the "oai-events" data channel. The SDP offer is produced with all ICE
// candidates gathered (no trickle) and handed to a [realtime.SDPExchanger];
// the returned answer completes the negotiation. Local capture frames are
// Opus-encoded onto the outbound track, and the first inbound audio track is
// decoded to PCM and delivered through [realtime.DialRequest.OnAudio].
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// Compile-time interface assertions.
var (
	_ realtime.Transport = (*Transport)(nil)
	_ realtime.Conn      = (*Conn)(nil)
)

const (
	eventBuffer = 64
	trackID     = "audio"
	streamID    = "concierge"
)

// Transport dials peer connections. It is safe for concurrent use.
type Transport struct {
	exchanger realtime.SDPExchanger
	config    pion.Configuration
	log       *slog.Logger
}

// Option configures a [Transport].
type Option func(*Transport)

// WithICEServers sets the STUN/TURN server URLs offered to ICE. Without any,
// only host candidates are gathered, which is enough for a public endpoint.
func WithICEServers(urls ...string) Option {
	return func(t *Transport) {
		if len(urls) > 0 {
			t.config.ICEServers = append(t.config.ICEServers, pion.ICEServer{URLs: urls})
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New returns a Transport that negotiates through exchanger.
func New(exchanger realtime.SDPExchanger, opts ...Option) *Transport {
	t := &Transport{exchanger: exchanger, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial implements [realtime.Transport]. On any error every resource created
// so far is released before returning.
func (t *Transport) Dial(ctx context.Context, req realtime.DialRequest) (realtime.Conn, error) {
	pc, err := pion.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %v", realtime.ErrNegotiation, err)
	}
	c := &Conn{
		pc:      pc,
		events:  make(chan realtime.ConnEvent, eventBuffer),
		done:    make(chan struct{}),
		onAudio: req.OnAudio,
		log:     t.log,
	}

	if err := c.setup(); err != nil {
		_ = c.Close()
		return nil, err
	}
	offer, err := c.offer(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	answer, err := t.exchanger.Exchange(ctx, offer, req)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("webrtc: exchange offer: %w", err)
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: apply answer: %v", realtime.ErrNegotiation, err)
	}

	if req.Audio != nil {
		c.spawn(func() { c.sendAudio(req.Audio) })
	}
	t.log.Debug("webrtc: remote description applied")
	return c, nil
}

// Conn is one negotiated peer connection. Create it with [Transport.Dial].
type Conn struct {
	pc      *pion.PeerConnection
	dc      *pion.DataChannel
	track   *pion.TrackLocalStaticSample
	onAudio func(audio.AudioFrame)
	log     *slog.Logger

	events chan realtime.ConnEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex // guards emission, closing and worker starts
	eventsDone bool
	closing    bool
	receiving  bool
	closeOnce  sync.Once
	remoteOnce sync.Once
}

// spawn runs fn on a worker goroutine that Close waits for. It reports
// false, without running fn, once Close has begun.
func (c *Conn) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Conn) setup() error {
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: audio.OpusSampleRate,
		Channels:  audio.OpusChannels,
	}, trackID, streamID)
	if err != nil {
		return fmt.Errorf("%w: create audio track: %v", realtime.ErrNegotiation, err)
	}
	if _, err := c.pc.AddTrack(track); err != nil {
		return fmt.Errorf("%w: add audio track: %v", realtime.ErrNegotiation, err)
	}
	c.track = track

	dc, err := c.pc.CreateDataChannel(realtime.DataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("%w: create data channel: %v", realtime.ErrNegotiation, err)
	}
	c.dc = dc

	dc.OnOpen(func() {
		c.emit(realtime.ConnEvent{Type: realtime.ConnOpen})
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		c.emit(realtime.ConnEvent{Type: realtime.ConnMessage, Data: data})
	})
	dc.OnClose(func() {
		c.remoteClosed(nil)
	})
	c.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		c.log.Debug("webrtc: connection state", "state", state.String())
		if state == pion.PeerConnectionStateFailed {
			c.remoteClosed(errors.New("webrtc: peer connection failed"))
		}
	})
	c.pc.OnTrack(func(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
		if remote.Kind() != pion.RTPCodecTypeAudio {
			return
		}
		c.mu.Lock()
		first := !c.receiving
		c.receiving = true
		c.mu.Unlock()
		if first {
			c.spawn(func() { c.receiveAudio(remote) })
		}
	})
	return nil
}

// offer creates the local description and waits for ICE gathering so that
// the returned SDP carries every candidate.
func (c *Conn) offer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", realtime.ErrNegotiation, err)
	}
	gathered := pion.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", realtime.ErrNegotiation, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("%w: no local description", realtime.ErrNegotiation)
	}
	return local.SDP, nil
}

// sendAudio encodes local capture onto the outbound track until the stream
// ends or the connection closes. It never stops the stream; the caller owns
// it.
func (c *Conn) sendAudio(stream audio.Stream) {
	enc, err := audio.NewOpusEncoder()
	if err != nil {
		c.log.Error("webrtc: outbound audio disabled", "err", err)
		return
	}
	const packetDuration = 20 * time.Millisecond
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			packets, err := enc.Encode(frame)
			if err != nil {
				c.log.Warn("webrtc: encode outbound audio", "err", err)
			}
			for _, pkt := range packets {
				if err := c.track.WriteSample(media.Sample{Data: pkt, Duration: packetDuration}); err != nil {
					c.log.Debug("webrtc: write sample", "err", err)
				}
			}
		}
	}
}

// receiveAudio decodes the remote track until it ends.
func (c *Conn) receiveAudio(remote *pion.TrackRemote) {
	dec, err := audio.NewOpusDecoder()
	if err != nil {
		c.log.Error("webrtc: inbound audio disabled", "err", err)
		return
	}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		if len(pkt.Payload) == 0 || c.onAudio == nil {
			continue
		}
		frame, err := dec.Decode(pkt.Payload)
		if err != nil {
			c.log.Debug("webrtc: decode inbound audio", "err", err)
			continue
		}
		c.onAudio(frame)
	}
}

// emit delivers ev unless the connection is closing. It never blocks past
// Close.
func (c *Conn) emit(ev realtime.ConnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsDone {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// remoteClosed reports the first remote-side close and ends the event
// stream.
func (c *Conn) remoteClosed(err error) {
	c.remoteOnce.Do(func() {
		c.emit(realtime.ConnEvent{Type: realtime.ConnClosed, Err: err})
		c.mu.Lock()
		if !c.eventsDone {
			c.eventsDone = true
			close(c.events)
		}
		c.mu.Unlock()
	})
}

// Events implements [realtime.Conn].
func (c *Conn) Events() <-chan realtime.ConnEvent { return c.events }

// Send implements [realtime.Conn].
func (c *Conn) Send(data []byte) error {
	if c.dc == nil || c.dc.ReadyState() != pion.DataChannelStateOpen {
		return fmt.Errorf("webrtc: %w", realtime.ErrChannelClosed)
	}
	if err := c.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("webrtc: %w: %v", realtime.ErrChannelClosed, err)
	}
	return nil
}

// Close implements [realtime.Conn]. It closes the data channel, then the
// peer connection, and waits for the media goroutines to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// Suppress the close callbacks our own shutdown triggers.
		c.remoteOnce.Do(func() {})

		c.mu.Lock()
		c.closing = true
		if !c.eventsDone {
			c.eventsDone = true
			close(c.events)
		}
		c.mu.Unlock()

		if c.dc != nil {
			if cerr := c.dc.Close(); cerr != nil {
				c.log.Debug("webrtc: close data channel", "err", cerr)
			}
		}
		err = c.pc.Close()
		c.wg.Wait()
	})
	return err
}
