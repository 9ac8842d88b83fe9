package webrtc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
	"github.com/MrWong99/concierge/pkg/realtime/webrtc"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exchangeFunc adapts a function to [realtime.SDPExchanger].
type exchangeFunc func(ctx context.Context, offer string, req realtime.DialRequest) (string, error)

func (f exchangeFunc) Exchange(ctx context.Context, offer string, req realtime.DialRequest) (string, error) {
	return f(ctx, offer, req)
}

// answerer is an in-process remote peer standing in for the realtime
// service. It echoes nothing; tests drive it directly.
type answerer struct {
	pc       *pion.PeerConnection
	track    *pion.TrackLocalStaticSample
	received chan string

	mu sync.Mutex
	dc *pion.DataChannel
}

func newAnswerer(t *testing.T) *answerer {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("remote peer: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2,
	}, "audio", "remote")
	if err != nil {
		t.Fatalf("remote track: %v", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		t.Fatalf("remote AddTrack: %v", err)
	}

	a := &answerer{pc: pc, track: track, received: make(chan string, 16)}
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != realtime.DataChannelLabel {
			t.Errorf("data channel label = %q, want %q", dc.Label(), realtime.DataChannelLabel)
		}
		a.mu.Lock()
		a.dc = dc
		a.mu.Unlock()
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			a.received <- string(msg.Data)
		})
	})
	return a
}

func (a *answerer) Exchange(_ context.Context, offer string, _ realtime.DialRequest) (string, error) {
	if err := a.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		return "", err
	}
	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := pion.GatheringCompletePromise(a.pc)
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gathered
	return a.pc.LocalDescription().SDP, nil
}

func (a *answerer) send(t *testing.T, text string) {
	t.Helper()
	a.mu.Lock()
	dc := a.dc
	a.mu.Unlock()
	if dc == nil {
		t.Fatal("remote has no data channel")
	}
	if err := dc.SendText(text); err != nil {
		t.Fatalf("remote SendText: %v", err)
	}
}

func nextEvent(t *testing.T, conn realtime.Conn) realtime.ConnEvent {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for connection event")
	}
	return realtime.ConnEvent{}
}

func TestTransport_Loopback(t *testing.T) {
	remote := newAnswerer(t)

	var (
		inboundMu sync.Mutex
		inbound   []audio.AudioFrame
	)
	tr := webrtc.New(remote, webrtc.WithLogger(quietLogger()))
	conn, err := tr.Dial(context.Background(), realtime.DialRequest{
		Credential: realtime.Credential{Value: "ek_test"},
		OnAudio: func(f audio.AudioFrame) {
			inboundMu.Lock()
			inbound = append(inbound, f)
			inboundMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte(`{"type":"early"}`)); !errors.Is(err, realtime.ErrChannelClosed) {
		t.Errorf("Send before open error = %v, want ErrChannelClosed", err)
	}

	if ev := nextEvent(t, conn); ev.Type != realtime.ConnOpen {
		t.Fatalf("first event = %v, want ConnOpen", ev.Type)
	}

	if err := conn.Send([]byte(`{"type":"session.update"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-remote.received:
		if got != `{"type":"session.update"}` {
			t.Errorf("remote received %q", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("remote never received the frame")
	}

	remote.send(t, `{"type":"session.created"}`)
	if ev := nextEvent(t, conn); ev.Type != realtime.ConnMessage || string(ev.Data) != `{"type":"session.created"}` {
		t.Errorf("message event = %+v", ev)
	}

	enc, err := audio.NewOpusEncoder()
	if err != nil {
		t.Fatalf("NewOpusEncoder: %v", err)
	}
	silence := audio.AudioFrame{Data: make([]byte, 1920*2), SampleRate: 48000, Channels: 2}
	deadline := time.Now().Add(10 * time.Second)
	for {
		inboundMu.Lock()
		n := len(inbound)
		inboundMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no inbound audio decoded")
		}
		pkts, err := enc.Encode(silence)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		for _, p := range pkts {
			_ = remote.track.WriteSample(media.Sample{Data: p, Duration: 20 * time.Millisecond})
		}
		time.Sleep(20 * time.Millisecond)
	}
	inboundMu.Lock()
	first := inbound[0]
	inboundMu.Unlock()
	if first.SampleRate != 48000 || first.Channels != 2 {
		t.Errorf("inbound format = %d/%d, want 48000/2", first.SampleRate, first.Channels)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	_ = conn.Close()
	for range conn.Events() {
	}
	if err := conn.Send([]byte(`{}`)); !errors.Is(err, realtime.ErrChannelClosed) {
		t.Errorf("Send after close error = %v, want ErrChannelClosed", err)
	}
}

func TestTransport_DialErrors(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name     string
		exchange exchangeFunc
		want     error
	}{
		{
			name: "exchange failure propagates",
			exchange: func(context.Context, string, realtime.DialRequest) (string, error) {
				return "", errBoom
			},
			want: errBoom,
		},
		{
			name: "auth failure propagates",
			exchange: func(context.Context, string, realtime.DialRequest) (string, error) {
				return "", realtime.ErrAuth
			},
			want: realtime.ErrAuth,
		},
		{
			name: "unparseable answer",
			exchange: func(context.Context, string, realtime.DialRequest) (string, error) {
				return "this is not sdp", nil
			},
			want: realtime.ErrNegotiation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := webrtc.New(tc.exchange, webrtc.WithLogger(quietLogger()))
			conn, err := tr.Dial(context.Background(), realtime.DialRequest{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Dial error = %v, want %v", err, tc.want)
			}
			if conn != nil {
				t.Error("Dial returned a connection alongside an error")
			}
		})
	}
}

func TestTransport_OfferShape(t *testing.T) {
	t.Parallel()

	var offer string
	tr := webrtc.New(exchangeFunc(func(_ context.Context, o string, _ realtime.DialRequest) (string, error) {
		offer = o
		return "", errors.New("stop here")
	}), webrtc.WithLogger(quietLogger()))
	_, _ = tr.Dial(context.Background(), realtime.DialRequest{})

	for _, want := range []string{"m=audio", "opus/48000/2", "m=application"} {
		if !strings.Contains(offer, want) {
			t.Errorf("offer lacks %q", want)
		}
	}
}
