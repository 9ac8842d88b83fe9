// Package transcript assembles a streaming conversation log from the partial
// and final transcript fragments emitted by a realtime speech session.
//
// The log is append-ordered. Entries are mutated in place while non-final and
// frozen once finalized; nothing is ever reordered or removed except by
// [Log.Reset]. A single in-flight user entry is tracked by index (the
// ephemeral handle) so that speech-to-text fragments land on the right entry
// even when assistant output has been appended after it. Assistant fragments
// always target the tail of the log.
//
// A Log is not safe for concurrent use; the owning session serialises access.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of an [Entry].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle tag of a user entry. Assistant entries leave it
// empty.
type Status string

const (
	StatusSpeaking   Status = "speaking"
	StatusProcessing Status = "processing"
	StatusFinal      Status = "final"
)

// ProcessingText is the placeholder shown while committed user audio is being
// transcribed.
const ProcessingText = "processing"

// NoEntry is the value of the ephemeral handle when no user utterance is in
// flight.
const NoEntry = -1

// Entry is one logical utterance turn.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
	Final     bool      `json:"isFinal"`
	Status    Status    `json:"status,omitempty"`
}

// Option configures a [Log].
type Option func(*Log)

// WithClock overrides the timestamp source. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithIDGenerator overrides the entry ID source. Default: random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(l *Log) { l.newID = gen }
}

// Log is the ordered conversation log of one session.
type Log struct {
	entries   []Entry
	ephemeral int
	now       func() time.Time
	newID     func() string
}

// New returns an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		ephemeral: NoEntry,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ─── user speech ─────────────────────────────────────────────────────────────

// SpeechStarted opens a new user entry, or marks the in-flight one as
// speaking again.
func (l *Log) SpeechStarted() {
	if e := l.current(); e != nil {
		e.Status = StatusSpeaking
		return
	}
	l.openUser()
}

// SpeechStopped is a deliberate no-op: the in-flight entry keeps its
// speaking status until the input buffer is committed.
func (l *Log) SpeechStopped() {}

// InputCommitted replaces the in-flight entry's text with [ProcessingText].
func (l *Log) InputCommitted() {
	e := l.ensureUser()
	e.Text = ProcessingText
	e.Status = StatusProcessing
}

// UserPartial replaces the in-flight entry's text with the latest partial
// transcription. Partials are snapshots, not deltas.
func (l *Log) UserPartial(text string) {
	e := l.ensureUser()
	e.Text = text
	e.Status = StatusSpeaking
	e.Final = false
}

// UserFinal freezes the in-flight entry with its final text and clears the
// handle so the next utterance starts a fresh entry.
func (l *Log) UserFinal(text string) {
	e := l.ensureUser()
	e.Text = text
	e.Status = StatusFinal
	e.Final = true
	l.ephemeral = NoEntry
}

// AppendUserText appends an already-final user entry authored locally. It
// does not touch the ephemeral handle.
func (l *Log) AppendUserText(text string) Entry {
	l.entries = append(l.entries, Entry{
		ID:        l.newID(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: l.now(),
		Final:     true,
		Status:    StatusFinal,
	})
	return l.entries[len(l.entries)-1]
}

// ─── assistant speech ────────────────────────────────────────────────────────

// AssistantDelta appends delta to the tail entry when it is a non-final
// assistant entry, and starts a new assistant entry otherwise.
func (l *Log) AssistantDelta(delta string) {
	if n := len(l.entries); n > 0 {
		tail := &l.entries[n-1]
		if tail.Role == RoleAssistant && !tail.Final {
			tail.Text += delta
			return
		}
	}
	l.entries = append(l.entries, Entry{
		ID:        l.newID(),
		Role:      RoleAssistant,
		Text:      delta,
		CreatedAt: l.now(),
	})
}

// AssistantDone finalizes the tail entry whatever its role. After a
// barge-in the tail is the user's new entry, and the interrupted assistant
// entry before it stays non-final. The text is left unchanged.
func (l *Log) AssistantDone() {
	if n := len(l.entries); n > 0 {
		l.entries[n-1].Final = true
	}
}

// ─── reads ───────────────────────────────────────────────────────────────────

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Ephemeral returns the index of the in-flight user entry, or [NoEntry].
func (l *Log) Ephemeral() int { return l.ephemeral }

// ClearEphemeral drops the handle without touching the entry.
func (l *Log) ClearEphemeral() { l.ephemeral = NoEntry }

// Reset empties the log and clears the handle.
func (l *Log) Reset() {
	l.entries = nil
	l.ephemeral = NoEntry
}

func (l *Log) current() *Entry {
	if l.ephemeral == NoEntry || l.ephemeral >= len(l.entries) {
		return nil
	}
	return &l.entries[l.ephemeral]
}

// ensureUser returns the in-flight user entry, opening one if a fragment
// arrives without a preceding speech-started event.
func (l *Log) ensureUser() *Entry {
	if e := l.current(); e != nil {
		return e
	}
	return l.openUser()
}

func (l *Log) openUser() *Entry {
	l.entries = append(l.entries, Entry{
		ID:        l.newID(),
		Role:      RoleUser,
		CreatedAt: l.now(),
		Status:    StatusSpeaking,
	})
	l.ephemeral = len(l.entries) - 1
	return &l.entries[l.ephemeral]
}
