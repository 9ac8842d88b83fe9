package transcript_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/concierge/pkg/realtime/transcript"
)

func newLog() *transcript.Log {
	var n int
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return transcript.New(
		transcript.WithIDGenerator(func() string { n++; return fmt.Sprintf("e%d", n) }),
		transcript.WithClock(func() time.Time { return base.Add(time.Duration(n) * time.Second) }),
	)
}

func nonFinal(entries []transcript.Entry, role transcript.Role) []transcript.Entry {
	var out []transcript.Entry
	for _, e := range entries {
		if e.Role == role && !e.Final {
			out = append(out, e)
		}
	}
	return out
}

// ─── user partials ───────────────────────────────────────────────────────────

func TestUserPartial_ReplacesText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		started  bool
		partials []string
		want     string
	}{
		{"after speech started", true, []string{"h", "he", "hel"}, "hel"},
		{"without speech started", false, []string{"h", "he", "hel"}, "hel"},
		{"single partial", true, []string{"hello"}, "hello"},
		{"shrinking partial", true, []string{"hello wor", "hello"}, "hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l := newLog()
			if tc.started {
				l.SpeechStarted()
			}
			for _, p := range tc.partials {
				l.UserPartial(p)
			}
			entries := l.Entries()
			if len(entries) != 1 {
				t.Fatalf("len(entries) = %d, want 1", len(entries))
			}
			open := nonFinal(entries, transcript.RoleUser)
			if len(open) != 1 {
				t.Fatalf("non-final user entries = %d, want 1", len(open))
			}
			if open[0].Text != tc.want {
				t.Errorf("Text = %q, want %q", open[0].Text, tc.want)
			}
			if open[0].Status != transcript.StatusSpeaking {
				t.Errorf("Status = %q, want %q", open[0].Status, transcript.StatusSpeaking)
			}
		})
	}
}

func TestUserLifecycle(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.SpeechStarted()
	if l.Ephemeral() != 0 {
		t.Fatalf("Ephemeral() = %d, want 0", l.Ephemeral())
	}
	e := l.Entries()[0]
	if e.Role != transcript.RoleUser || e.Status != transcript.StatusSpeaking || e.Text != "" || e.Final {
		t.Fatalf("opened entry = %+v", e)
	}

	l.SpeechStopped()
	if got := l.Entries()[0].Status; got != transcript.StatusSpeaking {
		t.Errorf("after speech stopped Status = %q, want %q", got, transcript.StatusSpeaking)
	}

	l.InputCommitted()
	e = l.Entries()[0]
	if e.Text != transcript.ProcessingText || e.Status != transcript.StatusProcessing {
		t.Errorf("after commit = %+v", e)
	}

	l.UserFinal("show me flats in Lisbon")
	e = l.Entries()[0]
	if !e.Final || e.Status != transcript.StatusFinal || e.Text != "show me flats in Lisbon" {
		t.Errorf("after final = %+v", e)
	}
	if l.Ephemeral() != transcript.NoEntry {
		t.Errorf("Ephemeral() after final = %d, want %d", l.Ephemeral(), transcript.NoEntry)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestSpeechStarted_ReusesInFlightEntry(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.SpeechStarted()
	l.InputCommitted()
	l.SpeechStarted()

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Status != transcript.StatusSpeaking {
		t.Errorf("Status = %q, want %q", entries[0].Status, transcript.StatusSpeaking)
	}
}

// ─── assistant deltas ────────────────────────────────────────────────────────

func TestAssistantDelta_Concatenates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		deltas []string
		want   string
	}{
		{"three deltas", []string{"Hel", "lo ", "world"}, "Hello world"},
		{"empty delta", []string{"a", "", "b"}, "ab"},
		{"single", []string{"Hi"}, "Hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l := newLog()
			for _, d := range tc.deltas {
				l.AssistantDelta(d)
			}
			entries := l.Entries()
			if len(entries) != 1 {
				t.Fatalf("len(entries) = %d, want 1", len(entries))
			}
			tail := entries[len(entries)-1]
			if tail.Role != transcript.RoleAssistant || tail.Final {
				t.Fatalf("tail = %+v, want non-final assistant", tail)
			}
			if tail.Text != tc.want {
				t.Errorf("Text = %q, want %q", tail.Text, tc.want)
			}
			if tail.Status != "" {
				t.Errorf("assistant Status = %q, want empty", tail.Status)
			}
		})
	}
}

func TestAssistantDelta_AfterUserEntryStartsNew(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.AssistantDelta("Hi")
	l.SpeechStarted()
	l.AssistantDelta(" there")

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Text != "Hi" || entries[2].Text != " there" {
		t.Errorf("assistant texts = %q, %q", entries[0].Text, entries[2].Text)
	}

	// The user handle still points behind the tail.
	l.UserPartial("hello")
	if got := l.Entries()[1].Text; got != "hello" {
		t.Errorf("user entry text = %q, want %q", got, "hello")
	}
}

func TestAssistantDone(t *testing.T) {
	t.Parallel()

	t.Run("finalizes tail without changing text", func(t *testing.T) {
		t.Parallel()
		l := newLog()
		l.AssistantDelta("Hello")
		l.AssistantDone()
		e := l.Entries()[0]
		if !e.Final || e.Text != "Hello" {
			t.Errorf("entry = %+v", e)
		}
	})

	t.Run("empty log", func(t *testing.T) {
		t.Parallel()
		l := newLog()
		l.AssistantDone()
		if l.Len() != 0 {
			t.Errorf("Len() = %d, want 0", l.Len())
		}
	})

	t.Run("barge-in finalizes the user tail", func(t *testing.T) {
		t.Parallel()
		l := newLog()
		l.AssistantDelta("Sure, the flat in")
		l.SpeechStarted()
		l.AssistantDone()

		entries := l.Entries()
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if tail := entries[1]; tail.Role != transcript.RoleUser || !tail.Final {
			t.Errorf("tail = %+v, want a final user entry", tail)
		}
		if head := entries[0]; head.Final || head.Text != "Sure, the flat in" {
			t.Errorf("interrupted assistant entry = %+v, want unchanged", head)
		}
	})
}

// ─── finalization freezes identity ───────────────────────────────────────────

func TestFinalizedEntriesAreFrozen(t *testing.T) {
	t.Parallel()

	t.Run("user", func(t *testing.T) {
		t.Parallel()
		l := newLog()
		l.UserPartial("first")
		l.UserFinal("first utterance")
		frozen := l.Entries()[0]

		l.UserPartial("sec")
		entries := l.Entries()
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if entries[0] != frozen {
			t.Errorf("frozen entry mutated: %+v, was %+v", entries[0], frozen)
		}
		if entries[1].ID == frozen.ID {
			t.Error("new partial reused the frozen entry ID")
		}
		if entries[1].Text != "sec" {
			t.Errorf("new entry text = %q, want %q", entries[1].Text, "sec")
		}
	})

	t.Run("assistant", func(t *testing.T) {
		t.Parallel()
		l := newLog()
		l.AssistantDelta("one")
		l.AssistantDone()
		frozen := l.Entries()[0]

		l.AssistantDelta("two")
		entries := l.Entries()
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if entries[0] != frozen {
			t.Errorf("frozen entry mutated: %+v", entries[0])
		}
		if entries[1].Text != "two" || entries[1].Final {
			t.Errorf("new entry = %+v", entries[1])
		}
	})
}

// ─── locally authored entries ────────────────────────────────────────────────

func TestAppendUserText_BypassesHandle(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.SpeechStarted()
	e := l.AppendUserText("typed question")

	if !e.Final || e.Status != transcript.StatusFinal || e.Role != transcript.RoleUser {
		t.Errorf("appended entry = %+v", e)
	}
	if l.Ephemeral() != 0 {
		t.Errorf("Ephemeral() = %d, want 0 (unchanged)", l.Ephemeral())
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.AssistantDelta("keep")
	got := l.Entries()
	got[0].Text = "mutated"
	if l.Entries()[0].Text != "keep" {
		t.Error("Entries() exposed internal storage")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.SpeechStarted()
	l.AssistantDelta("x")
	l.Reset()
	if l.Len() != 0 || l.Ephemeral() != transcript.NoEntry {
		t.Errorf("after Reset: Len=%d Ephemeral=%d", l.Len(), l.Ephemeral())
	}
	l.Reset()
}

func TestCreatedAtMonotonic(t *testing.T) {
	t.Parallel()

	l := newLog()
	l.SpeechStarted()
	l.AssistantDelta("a")
	l.AppendUserText("b")
	entries := l.Entries()
	for i := 1; i < len(entries); i++ {
		if !entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("entry %d CreatedAt %v not after %v", i, entries[i].CreatedAt, entries[i-1].CreatedAt)
		}
	}
}
