package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// WebRTC Opus tracks are negotiated as 48 kHz stereo with 20 ms packets.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 2
	opusFrameSizeMs = 20
	// OpusFrameSize is the number of samples per channel in one packet.
	OpusFrameSize = OpusSampleRate * opusFrameSizeMs / 1000 // 960

	opusFrameBytes = OpusFrameSize * OpusChannels * 2
)

// OpusEncoder turns captured PCM of any rate and channel count into 20 ms
// Opus packets. PCM that does not fill a whole packet is buffered until the
// next Encode.
type OpusEncoder struct {
	enc     *gopus.Encoder
	pending []byte
}

// NewOpusEncoder creates an encoder for the WebRTC track format.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, OpusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode converts frame to 48 kHz stereo and returns every complete packet
// it produces. It may return zero packets.
func (e *OpusEncoder) Encode(frame AudioFrame) ([][]byte, error) {
	e.pending = append(e.pending, toOpusPCM(frame)...)

	var packets [][]byte
	for len(e.pending) >= opusFrameBytes {
		chunk := e.pending[:opusFrameBytes]
		pkt, err := e.enc.Encode(BytesToInt16s(chunk), OpusFrameSize, opusFrameBytes)
		if err != nil {
			return packets, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[opusFrameBytes:]
	}
	return packets, nil
}

// OpusDecoder decodes inbound packets from a single remote track. One decoder
// per track, since Opus decoding is stateful across packets.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder for the WebRTC track format.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode returns the packet as an interleaved 48 kHz stereo frame.
func (d *OpusDecoder) Decode(packet []byte) (AudioFrame, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSize, false)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return AudioFrame{
		Data:       Int16sToBytes(pcm),
		SampleRate: OpusSampleRate,
		Channels:   OpusChannels,
	}, nil
}

func toOpusPCM(frame AudioFrame) []byte {
	pcm := frame.Data
	if frame.Channels == 2 {
		if frame.SampleRate == OpusSampleRate {
			return pcm
		}
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, OpusSampleRate)
	return MonoToStereo(pcm)
}
