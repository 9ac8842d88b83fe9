package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned (wrapped) when the capture device
	// refuses access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned (wrapped) when no capture device can
	// be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// DefaultFrameDuration is the capture chunk size. It matches the Opus frame
// duration used on the WebRTC track.
const DefaultFrameDuration = 20 * time.Millisecond

// Stream is a live capture stream. Frames is closed when the stream ends,
// either because the source is exhausted or because Stop was called.
type Stream interface {
	Frames() <-chan AudioFrame
	Format() Format

	// Stop releases the underlying device. Safe to call more than once.
	Stop()
}

// Microphone acquires capture streams.
type Microphone interface {
	// Acquire opens the device. Errors wrap [ErrPermissionDenied] or
	// [ErrDeviceUnavailable] where the cause is known.
	Acquire(ctx context.Context) (Stream, error)
}

// ReaderOption configures a [ReaderMicrophone].
type ReaderOption func(*ReaderMicrophone)

// WithFormat sets the PCM format of the source. Default: 48 kHz mono.
func WithFormat(f Format) ReaderOption {
	return func(m *ReaderMicrophone) { m.format = f }
}

// WithFrameDuration sets the chunk size. Default: [DefaultFrameDuration].
func WithFrameDuration(d time.Duration) ReaderOption {
	return func(m *ReaderMicrophone) { m.frameDur = d }
}

// WithRealtimePacing controls whether frames are emitted at wall-clock pace
// (one frame per frame duration) or as fast as the reader yields them.
// Default: true.
func WithRealtimePacing(enabled bool) ReaderOption {
	return func(m *ReaderMicrophone) { m.paced = enabled }
}

// ReaderMicrophone captures raw PCM from an [io.ReadCloser] supplied by an
// opener. It is the microphone used for headless hosts: a file, a named pipe
// fed by arecord/ffmpeg, or stdin.
type ReaderMicrophone struct {
	open     func() (io.ReadCloser, error)
	format   Format
	frameDur time.Duration
	paced    bool
}

// NewReaderMicrophone returns a microphone that calls open on every Acquire.
func NewReaderMicrophone(open func() (io.ReadCloser, error), opts ...ReaderOption) *ReaderMicrophone {
	m := &ReaderMicrophone{
		open:     open,
		format:   Format{SampleRate: 48000, Channels: 1},
		frameDur: DefaultFrameDuration,
		paced:    true,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewFileMicrophone returns a [ReaderMicrophone] reading raw PCM from path.
// Missing files map to [ErrDeviceUnavailable], permission errors to
// [ErrPermissionDenied].
func NewFileMicrophone(path string, opts ...ReaderOption) *ReaderMicrophone {
	return NewReaderMicrophone(func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return f, nil
	}, opts...)
}

// Acquire opens the source and starts the capture goroutine.
func (m *ReaderMicrophone) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.open == nil {
		return nil, fmt.Errorf("%w: no source configured", ErrDeviceUnavailable)
	}
	rc, err := m.open()
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &readerStream{
		rc:     rc,
		format: m.format,
		frames: make(chan AudioFrame, 16),
		done:   make(chan struct{}),
	}
	go s.run(m.format.FrameBytes(m.frameDur), m.frameDur, m.paced)
	return s, nil
}

type readerStream struct {
	rc     io.ReadCloser
	format Format
	frames chan AudioFrame
	done   chan struct{}
	once   sync.Once
}

func (s *readerStream) Frames() <-chan AudioFrame { return s.frames }
func (s *readerStream) Format() Format            { return s.format }

func (s *readerStream) Stop() {
	s.once.Do(func() {
		close(s.done)
		_ = s.rc.Close()
	})
}

func (s *readerStream) run(frameBytes int, frameDur time.Duration, paced bool) {
	defer close(s.frames)

	var tick <-chan time.Time
	if paced {
		t := time.NewTicker(frameDur)
		defer t.Stop()
		tick = t.C
	}

	var ts time.Duration
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.rc, buf)
		if n > 0 {
			frame := AudioFrame{
				Data:       buf[:n-n%2],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}
			ts += frameDur
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
		if tick != nil {
			select {
			case <-tick:
			case <-s.done:
				return
			}
		}
	}
}

// SilenceMicrophone produces an endless stream of zeroed frames. Hosts that
// only use the text path still need a local track to negotiate audio.
type SilenceMicrophone struct {
	Format Format
}

// Acquire starts emitting silence every [DefaultFrameDuration].
func (m SilenceMicrophone) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := m.Format
	if f.SampleRate == 0 {
		f = Format{SampleRate: 48000, Channels: 1}
	}
	s := &silenceStream{
		format: f,
		frames: make(chan AudioFrame, 4),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type silenceStream struct {
	format Format
	frames chan AudioFrame
	done   chan struct{}
	once   sync.Once
}

func (s *silenceStream) Frames() <-chan AudioFrame { return s.frames }
func (s *silenceStream) Format() Format            { return s.format }
func (s *silenceStream) Stop()                     { s.once.Do(func() { close(s.done) }) }

func (s *silenceStream) run() {
	defer close(s.frames)
	t := time.NewTicker(DefaultFrameDuration)
	defer t.Stop()

	size := s.format.FrameBytes(DefaultFrameDuration)
	var ts time.Duration
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			frame := AudioFrame{Data: make([]byte, size), SampleRate: s.format.SampleRate, Channels: s.format.Channels, Timestamp: ts}
			ts += DefaultFrameDuration
			select {
			case s.frames <- frame:
			default:
				// Consumer is behind; silence is safe to drop.
			}
		}
	}
}

// Tap returns a Stream that calls fn for every frame of s before forwarding
// it. Stopping the returned stream stops s; frames not yet read are dropped.
func Tap(s Stream, fn func(AudioFrame)) Stream {
	t := &tapStream{
		src:    s,
		frames: make(chan AudioFrame, cap(s.Frames())),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.frames)
		for frame := range s.Frames() {
			fn(frame)
			select {
			case t.frames <- frame:
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type tapStream struct {
	src    Stream
	frames chan AudioFrame
	done   chan struct{}
	once   sync.Once
}

func (t *tapStream) Frames() <-chan AudioFrame { return t.frames }
func (t *tapStream) Format() Format            { return t.src.Format() }

func (t *tapStream) Stop() {
	t.once.Do(func() { close(t.done) })
	t.src.Stop()
}
