package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/concierge/pkg/audio"
)

const (
	DefaultModel              = "gpt-4o-realtime-preview"
	DefaultVoice              = "alloy"
	DefaultTranscriptionModel = "whisper-1"
	DefaultLanguage           = "English"

	// DefaultPreloadTimeout bounds how long activation waits for the
	// property context.
	DefaultPreloadTimeout = 5 * time.Second
)

// Recorder receives session telemetry. The zero-cost default discards
// everything.
type Recorder interface {
	// SetupFinished is called once per Start with the time from Start to
	// active, or the setup error.
	SetupFinished(ctx context.Context, d time.Duration, err error)
	// ActiveSessions adjusts the live session gauge by delta.
	ActiveSessions(ctx context.Context, delta int64)
	// FrameReceived is called for every inbound control frame.
	FrameReceived(ctx context.Context, kind EventKind)
	// ToolFinished is called after every dispatched tool call.
	ToolFinished(ctx context.Context, tool string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) SetupFinished(context.Context, time.Duration, error)        {}
func (nopRecorder) ActiveSessions(context.Context, int64)                      {}
func (nopRecorder) FrameReceived(context.Context, EventKind)                   {}
func (nopRecorder) ToolFinished(context.Context, string, time.Duration, error) {}

// Option configures a [Session].
type Option func(*Session)

// WithMicrophone sets the capture device. Default: [audio.SilenceMicrophone].
func WithMicrophone(m audio.Microphone) Option {
	return func(s *Session) { s.mic = m }
}

// WithSink sets where decoded assistant audio is played. Default:
// [audio.Discard].
func WithSink(sink audio.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithContextLoader enables the property-context preload.
func WithContextLoader(l ContextLoader) Option {
	return func(s *Session) { s.preload = l }
}

// WithRegistry shares an existing tool registry with the session.
func WithRegistry(r *Registry) Option {
	return func(s *Session) { s.tools = r }
}

// WithModel sets the realtime model. Default: [DefaultModel].
func WithModel(model string) Option {
	return func(s *Session) { s.model = model }
}

// WithVoice sets the synthesis voice. Default: [DefaultVoice].
func WithVoice(voice string) Option {
	return func(s *Session) { s.voice = voice }
}

// WithInstructions sets the system instructions sent in session.update.
func WithInstructions(text string) Option {
	return func(s *Session) { s.instructions = text }
}

// WithTranscriptionModel sets the input transcription model. Default:
// [DefaultTranscriptionModel].
func WithTranscriptionModel(model string) Option {
	return func(s *Session) { s.transcriptionModel = model }
}

// WithLanguage sets the language named in the priming message. Default:
// [DefaultLanguage].
func WithLanguage(language string) Option {
	return func(s *Session) { s.language = language }
}

// WithToolTimeout bounds each tool invocation. Zero (the default) means no
// limit beyond the session lifetime.
func WithToolTimeout(d time.Duration) Option {
	return func(s *Session) { s.toolTimeout = d }
}

// WithPreloadTimeout bounds how long the session waits for the property
// context before activating without it. Default: [DefaultPreloadTimeout].
// Zero or negative waits as long as the session lives.
func WithPreloadTimeout(d time.Duration) Option {
	return func(s *Session) { s.preloadTimeout = d }
}

// WithMeterIntervals overrides the local loudness and remote volume sampling
// cadences.
func WithMeterIntervals(loud, volume time.Duration) Option {
	return func(s *Session) {
		s.loudInterval = loud
		s.volumeInterval = volume
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.rec = r }
}
