package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/concierge/pkg/realtime"
	"github.com/MrWong99/concierge/pkg/realtime/transcript"
)

type fakeVoice struct {
	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	sent     []string
	startErr error
	listener func(realtime.Snapshot)
}

func (f *fakeVoice) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	return nil
}

func (f *fakeVoice) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
}

func (f *fakeVoice) SendText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
}

func (f *fakeVoice) Snapshot() realtime.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return realtime.Snapshot{State: realtime.StateActive, Active: true}
	}
	return realtime.Snapshot{State: realtime.StateIdle}
}

func (f *fakeVoice) OnChange(fn func(realtime.Snapshot)) { f.listener = fn }

func script(lines ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		if i == len(lines) {
			return "", io.EOF
		}
		i++
		return lines[i-1], nil
	}
}

func TestPromptLoop_Commands(t *testing.T) {
	t.Parallel()

	v := &fakeVoice{}
	var out bytes.Buffer
	err := promptLoop(context.Background(), v, &out, script(
		"hello before start",
		"/start",
		"  two bedrooms in Porto?  ",
		"/bogus",
		"/state",
		"/stop",
	))
	if err != nil {
		t.Fatalf("promptLoop: %v", err)
	}
	if v.starts != 1 || v.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1/1", v.starts, v.stops)
	}
	if len(v.sent) != 1 || v.sent[0] != "two bedrooms in Porto?" {
		t.Errorf("sent = %q", v.sent)
	}
	for _, want := range []string{"type /start first", "unknown command /bogus", "state=active"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPromptLoop_QuitStopsReading(t *testing.T) {
	t.Parallel()

	v := &fakeVoice{}
	err := promptLoop(context.Background(), v, io.Discard, script("/quit", "/start"))
	if err != nil {
		t.Fatalf("promptLoop: %v", err)
	}
	if v.starts != 0 {
		t.Errorf("starts = %d after /quit, want 0", v.starts)
	}
}

func TestPromptLoop_ReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("tty gone")
	err := promptLoop(context.Background(), &fakeVoice{}, io.Discard, func() (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPromptLoop_StartFailureIsReported(t *testing.T) {
	t.Parallel()

	v := &fakeVoice{startErr: realtime.ErrAuth}
	var out bytes.Buffer
	if err := promptLoop(context.Background(), v, &out, script("/start")); err != nil {
		t.Fatalf("promptLoop: %v", err)
	}
	if !strings.Contains(out.String(), "start failed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTranscriptPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &transcriptPrinter{out: &out, printed: make(map[string]bool)}
	user := transcript.Entry{ID: "u1", Role: transcript.RoleUser, Text: "Any flats in Lisbon?", Final: true}
	partial := transcript.Entry{ID: "a1", Role: transcript.RoleAssistant, Text: "Let me", Final: false}

	p.print(realtime.Snapshot{State: realtime.StateActive, Status: "connected", Conversation: []transcript.Entry{user, partial}})
	partial.Text, partial.Final = "Let me check.", true
	p.print(realtime.Snapshot{State: realtime.StateActive, Conversation: []transcript.Entry{user, partial}})

	want := "[active] connected\nyou: Any flats in Lisbon?\nconcierge: Let me check.\n"
	if out.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), want)
	}
}
