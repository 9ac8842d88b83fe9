// Package audio provides the local audio plumbing used by a realtime voice
// session: microphone capture, playback sinks, Opus coding and the two
// advisory meters (local "loud" indicator and remote volume).
//
// All PCM handled by this package is little-endian signed 16-bit. The
// primary abstractions are:
//
//   - [Microphone]: acquires a capture [Stream] of PCM frames.
//   - [Sink]: receives decoded inbound audio for playback.
//   - [LoudnessMeter] and [VolumeMeter]: periodic sampling of a PCM window.
//
// This package lives under pkg/ because hosts are expected to plug in their
// own Microphone and Sink implementations.
package audio

import "time"

// AudioFrame represents a single chunk of PCM audio flowing through a session.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (48000 for WebRTC Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of bytes in one frame of duration d.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * 2
}

// Sink receives decoded inbound audio, typically for playback.
// Play must not block for longer than one frame duration.
type Sink interface {
	Play(frame AudioFrame)
}

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(AudioFrame)

// Play calls f(frame).
func (f SinkFunc) Play(frame AudioFrame) { f(frame) }

// Discard is a [Sink] that drops every frame.
var Discard Sink = SinkFunc(func(AudioFrame) {})
