package websocket_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/concierge/pkg/audio"
	audiomock "github.com/MrWong99/concierge/pkg/audio/mock"
	"github.com/MrWong99/concierge/pkg/realtime"
	rtws "github.com/MrWong99/concierge/pkg/realtime/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn and the upgrade request.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTransport(srv *httptest.Server) *rtws.Transport {
	return rtws.New(
		rtws.WithURL(wsURL(srv)),
		rtws.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
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
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return realtime.ConnEvent{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_Handshake(t *testing.T) {
	t.Parallel()

	type upgrade struct{ model, auth, beta string }
	seen := make(chan upgrade, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		seen <- upgrade{r.URL.Query().Get("model"), r.Header.Get("Authorization"), r.Header.Get("OpenAI-Beta")}
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{
		Credential: realtime.Credential{Value: "sk-test"},
		Model:      "gpt-4o-mini-realtime",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if ev := nextEvent(t, conn); ev.Type != realtime.ConnOpen {
		t.Errorf("first event = %v, want ConnOpen", ev.Type)
	}
	select {
	case u := <-seen:
		if u.model != "gpt-4o-mini-realtime" || u.auth != "Bearer sk-test" || u.beta != "realtime=v1" {
			t.Errorf("upgrade = %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the upgrade")
	}
}

func TestDial_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{})
	if !errors.Is(err, realtime.ErrAuth) {
		t.Errorf("Dial error = %v, want ErrAuth", err)
	}
}

func TestConn_Frames(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var m map[string]any
		readJSON(t, conn, &m)
		got <- m
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hi"})
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	nextEvent(t, conn) // open

	if err := conn.Send([]byte(`{"type":"response.create"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-got:
		if m["type"] != "response.create" {
			t.Errorf("server received %v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}

	ev := nextEvent(t, conn)
	if ev.Type != realtime.ConnMessage || !strings.Contains(string(ev.Data), `"delta":"Hi"`) {
		t.Errorf("event = %+v", ev)
	}
}

func TestConn_Audio(t *testing.T) {
	t.Parallel()

	appended := make(chan []byte, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var m struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &m)
		if m.Type != "input_audio_buffer.append" {
			t.Errorf("first client event = %q", m.Type)
		}
		pcm, _ := base64.StdEncoding.DecodeString(m.Audio)
		appended <- pcm
		writeJSON(t, conn, map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(make([]byte, 480)),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	stream := audiomock.NewStream(audio.Format{SampleRate: 48000, Channels: 1})
	inbound := make(chan audio.AudioFrame, 1)
	conn, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{
		Audio:   stream,
		OnAudio: func(f audio.AudioFrame) { inbound <- f },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	stream.Push(audio.AudioFrame{Data: make([]byte, 960*2), SampleRate: 48000, Channels: 1})

	select {
	case pcm := <-appended:
		// 960 samples at 48 kHz resampled to 24 kHz.
		if len(pcm) != 480*2 {
			t.Errorf("appended %d bytes, want %d", len(pcm), 480*2)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no audio appended")
	}
	select {
	case f := <-inbound:
		if f.SampleRate != rtws.SampleRate || f.Channels != 1 || len(f.Data) != 480 {
			t.Errorf("inbound frame = %d Hz / %d ch / %d bytes", f.SampleRate, f.Channels, len(f.Data))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no inbound audio")
	}
}

func TestConn_RemoteClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  websocket.StatusCode
		wantErr bool
	}{
		{"normal", websocket.StatusNormalClosure, false},
		{"abnormal", websocket.StatusInternalError, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
				conn.Close(tc.status, "bye")
			})

			conn, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer conn.Close()
			nextEvent(t, conn) // open

			ev := nextEvent(t, conn)
			if ev.Type != realtime.ConnClosed {
				t.Fatalf("event = %v, want ConnClosed", ev.Type)
			}
			if (ev.Err != nil) != tc.wantErr {
				t.Errorf("Err = %v, wantErr %v", ev.Err, tc.wantErr)
			}
			if _, ok := <-conn.Events(); ok {
				t.Error("events channel still open after close event")
			}
		})
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	conn, err := newTransport(srv).Dial(context.Background(), realtime.DialRequest{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()

	for range conn.Events() {
	}
	if err := conn.Send([]byte(`{}`)); !errors.Is(err, realtime.ErrChannelClosed) {
		t.Errorf("Send after close error = %v, want ErrChannelClosed", err)
	}
}
