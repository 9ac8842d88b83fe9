// Package mock provides in-memory mock implementations of [audio.Microphone],
// [audio.Stream] and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. Set the exported Result fields before
// use and inspect the CallCount / recorded fields afterwards.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 48000, Channels: 1})
//	mic := &mock.Microphone{AcquireResult: stream}
//	s, err := mic.Acquire(ctx)
//	stream.Push(audio.AudioFrame{Data: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.AudioFrame
	closed bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewStream returns an open stream with a small frame buffer.
func NewStream(f audio.Format) *Stream {
	return &Stream{format: f, frames: make(chan audio.AudioFrame, 64)}
}

// Push delivers a frame to readers. Frames pushed after Stop are dropped.
func (s *Stream) Push(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Stop implements [audio.Stream]. Closes the frame channel on first call.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Stopped reports whether Stop has been called at least once.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// AcquireResult is returned by Acquire. When nil a fresh 48 kHz mono
	// [Stream] is created per call.
	AcquireResult audio.Stream

	// AcquireError is returned by Acquire when non-nil.
	AcquireError error

	// Block, when non-nil, makes Acquire wait until it is closed or ctx ends.
	Block chan struct{}

	// CallCountAcquire records how many times Acquire was called.
	CallCountAcquire int
}

// Acquire implements [audio.Microphone].
func (m *Microphone) Acquire(ctx context.Context) (audio.Stream, error) {
	m.mu.Lock()
	m.CallCountAcquire++
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireError != nil {
		return nil, m.AcquireError
	}
	if m.AcquireResult != nil {
		return m.AcquireResult, nil
	}
	return NewStream(audio.Format{SampleRate: 48000, Channels: 1}), nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every played frame.
type Sink struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
}

// Play implements [audio.Sink].
func (s *Sink) Play(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

// Frames returns a copy of every frame played so far.
func (s *Sink) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.frames))
	copy(out, s.frames)
	return out
}
