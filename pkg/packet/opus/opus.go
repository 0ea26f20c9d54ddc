// Package opus decodes Opus frames into raw PCM suitable for the packetizer.
// Capture adapters that deliver Opus (voice platforms, WebRTC tracks) decode
// through a per-stream [Decoder] before handing bytes to
// [github.com/aevum-labs/cadence/pkg/packet.Packetizer].
package opus

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Decoder wraps a gopus Opus decoder for a single audio stream. Each stream
// needs its own decoder to keep decoder state correct across consecutive
// frames. Not safe for concurrent use.
type Decoder struct {
	dec *gopus.Decoder

	// frameSize is the maximum samples per channel per Opus frame (60 ms at
	// the configured rate, the largest frame Opus allows).
	frameSize int
	channels  int
}

// NewDecoder creates a decoder producing PCM at the given sample rate and
// channel count. sampleRate must be one of the Opus rates (8, 12, 16, 24, or
// 48 kHz).
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{
		dec:       dec,
		frameSize: sampleRate * 60 / 1000,
		channels:  channels,
	}, nil
}

// Decode decodes one Opus frame into interleaved little-endian int16 PCM
// bytes, ready for [packet.Packetizer.Process].
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 samples to little-endian bytes.
func int16sToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
