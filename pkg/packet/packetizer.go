// Package packet frames raw audio into fixed-duration, overlap-aware packets
// and provides the binary and JSON wire codecs for them.
//
// Overlap is a small trailing slice of one packet's audio repeated at the
// head of the next packet so decoders can cross-fade across packet
// boundaries. Overlap bytes are a copy of already-emitted payload and never
// advance the sequence counter or the timestamp.
package packet

import (
	"errors"
	"fmt"

	"github.com/aevum-labs/cadence/pkg/clock"
)

// Config fixes the audio format and framing parameters of a [Packetizer] at
// construction time.
type Config struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Channels is the channel count (1 = mono).
	Channels int

	// BitDepth is bits per sample (8, 16, 24, or 32).
	BitDepth int

	// PacketMs is the nominal packet duration in milliseconds.
	PacketMs int

	// OverlapMs is the cross-fade overlap duration in milliseconds. Must be
	// smaller than PacketMs. Zero disables overlap entirely.
	OverlapMs int

	// Codec is the codec tag carried in packet metadata. At most 8 bytes so
	// it fits the binary header field (e.g. "pcm_s16", "opus").
	Codec string
}

// DefaultConfig returns the standard Cadence audio framing: 16 kHz mono
// 16-bit PCM in 20 ms packets with 5 ms overlap.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
		PacketMs:   20,
		OverlapMs:  5,
		Codec:      "pcm_s16",
	}
}

// Validate checks that cfg describes a representable packet layout.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("packet: sample rate %d must be positive", c.SampleRate))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("packet: channel count %d must be positive", c.Channels))
	}
	switch c.BitDepth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("packet: bit depth %d is not one of 8, 16, 24, 32", c.BitDepth))
	}
	if c.PacketMs <= 0 {
		errs = append(errs, fmt.Errorf("packet: packet duration %dms must be positive", c.PacketMs))
	}
	if c.OverlapMs < 0 || c.OverlapMs >= c.PacketMs {
		errs = append(errs, fmt.Errorf("packet: overlap %dms must be in [0, packet duration)", c.OverlapMs))
	}
	if len(c.Codec) > codecLen {
		errs = append(errs, fmt.Errorf("packet: codec tag %q exceeds %d bytes", c.Codec, codecLen))
	}
	return errors.Join(errs...)
}

// bytesPerMs returns the PCM byte rate per millisecond for this config.
func (c Config) bytesPerMs() int {
	return c.SampleRate * c.Channels * (c.BitDepth / 8) / 1000
}

// Packet is one framed unit of audio. Immutable once yielded by the
// packetizer: callers must not modify Payload.
type Packet struct {
	// SessionID identifies the session the packet belongs to.
	SessionID string

	// Seq is the per-session sequence number, starting at 0.
	Seq uint32

	// TimestampMs is the session-relative emission time in milliseconds,
	// read fresh from the clock — never wall-clock, never derived from Seq.
	TimestampMs int64

	// DurationMs is the nominal packet duration.
	DurationMs uint16

	// OverlapMs is the overlap carried at the head of Payload. Zero on the
	// first packet of a session and after a reset.
	OverlapMs uint16

	// Codec is the codec tag.
	Codec string

	// Payload is the audio bytes, prefixed with the previous packet's tail
	// when OverlapMs > 0.
	Payload []byte
}

// Packetizer turns a raw byte stream into timestamped, sequenced packets for
// one session. It is a pure synchronous computation owned by a single
// producer; it performs no internal locking.
type Packetizer struct {
	cfg       Config
	clk       *clock.Clock
	sessionID string

	packetBytes  int
	overlapBytes int

	buf  []byte
	tail []byte // previous payload's trailing overlapBytes; nil until the first packet
	seq  uint32
}

// NewPacketizer creates a packetizer for the given session. Timestamps are
// read from clk at emission time, so the session must be started on clk
// before the first packet is emitted.
func NewPacketizer(cfg Config, clk *clock.Clock, sessionID string) (*Packetizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		return nil, errors.New("packet: clock must not be nil")
	}
	if sessionID == "" {
		return nil, errors.New("packet: session id must not be empty")
	}
	return &Packetizer{
		cfg:          cfg,
		clk:          clk,
		sessionID:    sessionID,
		packetBytes:  cfg.bytesPerMs() * cfg.PacketMs,
		overlapBytes: cfg.bytesPerMs() * cfg.OverlapMs,
	}, nil
}

// Process appends raw to the internal buffer and yields one packet per
// complete packet-worth of buffered bytes, in order. Partial remainders stay
// buffered for the next call. Clock contract errors propagate.
func (p *Packetizer) Process(raw []byte) ([]Packet, error) {
	p.buf = append(p.buf, raw...)

	var packets []Packet
	for len(p.buf) >= p.packetBytes {
		payload := make([]byte, p.packetBytes)
		copy(payload, p.buf[:p.packetBytes])
		p.buf = p.buf[p.packetBytes:]

		pkt, err := p.emit(payload)
		if err != nil {
			return packets, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// Flush zero-pads and emits any buffered partial packet. Intended for
// end-of-stream; an empty buffer yields nothing.
func (p *Packetizer) Flush() ([]Packet, error) {
	if len(p.buf) == 0 {
		return nil, nil
	}
	payload := make([]byte, p.packetBytes)
	copy(payload, p.buf)
	p.buf = p.buf[:0]

	pkt, err := p.emit(payload)
	if err != nil {
		return nil, err
	}
	return []Packet{pkt}, nil
}

// Reset clears buffered state and restarts the sequence counter at 0. The
// next emitted packet carries zero overlap, as at session start.
func (p *Packetizer) Reset() {
	p.buf = nil
	p.tail = nil
	p.seq = 0
}

// emit builds one packet from an exactly packet-sized payload, prepending the
// previous payload's tail as overlap and saving this payload's own tail for
// the next packet.
func (p *Packetizer) emit(payload []byte) (Packet, error) {
	ts, err := p.clk.ElapsedMs(p.sessionID)
	if err != nil {
		return Packet{}, fmt.Errorf("packet: timestamp for session %q: %w", p.sessionID, err)
	}

	overlapMs := uint16(0)
	wire := payload
	if p.tail != nil && p.overlapBytes > 0 {
		wire = make([]byte, 0, p.overlapBytes+len(payload))
		wire = append(wire, p.tail...)
		wire = append(wire, payload...)
		overlapMs = uint16(p.cfg.OverlapMs)
	}

	if p.overlapBytes > 0 {
		tail := make([]byte, p.overlapBytes)
		copy(tail, payload[len(payload)-p.overlapBytes:])
		p.tail = tail
	}

	pkt := Packet{
		SessionID:   p.sessionID,
		Seq:         p.seq,
		TimestampMs: ts,
		DurationMs:  uint16(p.cfg.PacketMs),
		OverlapMs:   overlapMs,
		Codec:       p.cfg.Codec,
		Payload:     wire,
	}
	p.seq++
	return pkt, nil
}
