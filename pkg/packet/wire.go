package packet

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Binary wire layout: a fixed 60-byte header followed by the payload.
//
//	offset  size  field
//	0       36    session id, UTF-8, NUL-padded
//	36      4     sequence number, big-endian
//	40      4     session-relative timestamp in ms, big-endian
//	44      2     duration in ms, big-endian
//	46      2     overlap in ms, big-endian
//	48      8     codec tag, NUL-padded
//	56      4     payload length, big-endian
const (
	sessionIDLen = 36
	codecLen     = 8
	headerLen    = 60
)

// ErrShortPacket is returned by [Decode] when the input is shorter than the
// header or the declared payload length.
var ErrShortPacket = errors.New("packet: input shorter than declared length")

// Encode serialises p into the binary wire format.
func Encode(p Packet) ([]byte, error) {
	if len(p.SessionID) > sessionIDLen {
		return nil, fmt.Errorf("packet: session id %q exceeds %d bytes", p.SessionID, sessionIDLen)
	}
	if len(p.Codec) > codecLen {
		return nil, fmt.Errorf("packet: codec tag %q exceeds %d bytes", p.Codec, codecLen)
	}
	if p.TimestampMs < 0 || p.TimestampMs > int64(^uint32(0)) {
		return nil, fmt.Errorf("packet: timestamp %dms does not fit the 4-byte wire field", p.TimestampMs)
	}
	if uint64(len(p.Payload)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("packet: payload of %d bytes does not fit the 4-byte wire field", len(p.Payload))
	}

	buf := make([]byte, headerLen+len(p.Payload))
	copy(buf[0:sessionIDLen], p.SessionID)
	binary.BigEndian.PutUint32(buf[36:40], p.Seq)
	binary.BigEndian.PutUint32(buf[40:44], uint32(p.TimestampMs))
	binary.BigEndian.PutUint16(buf[44:46], p.DurationMs)
	binary.BigEndian.PutUint16(buf[46:48], p.OverlapMs)
	copy(buf[48:56], p.Codec)
	binary.BigEndian.PutUint32(buf[56:60], uint32(len(p.Payload)))
	copy(buf[headerLen:], p.Payload)
	return buf, nil
}

// Decode parses one binary-encoded packet from data. Trailing bytes beyond
// the declared payload length are ignored.
func Decode(data []byte) (Packet, error) {
	if len(data) < headerLen {
		return Packet{}, fmt.Errorf("%w: %d header bytes, need %d", ErrShortPacket, len(data), headerLen)
	}
	payloadLen := binary.BigEndian.Uint32(data[56:60])
	if uint32(len(data)-headerLen) < payloadLen {
		return Packet{}, fmt.Errorf("%w: %d payload bytes, declared %d", ErrShortPacket, len(data)-headerLen, payloadLen)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[headerLen:headerLen+int(payloadLen)])

	return Packet{
		SessionID:   trimNUL(data[0:sessionIDLen]),
		Seq:         binary.BigEndian.Uint32(data[36:40]),
		TimestampMs: int64(binary.BigEndian.Uint32(data[40:44])),
		DurationMs:  binary.BigEndian.Uint16(data[44:46]),
		OverlapMs:   binary.BigEndian.Uint16(data[46:48]),
		Codec:       trimNUL(data[48:56]),
		Payload:     payload,
	}, nil
}

// MarshalBinary implements [encoding.BinaryMarshaler].
func (p Packet) MarshalBinary() ([]byte, error) {
	return Encode(p)
}

// UnmarshalBinary implements [encoding.BinaryUnmarshaler].
func (p *Packet) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// wireJSON is the JSON wire shape: identical field names to the binary
// header, payload hex-encoded for text-based transports.
type wireJSON struct {
	SessionID   string `json:"session_id"`
	Seq         uint32 `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	DurationMs  uint16 `json:"duration_ms"`
	OverlapMs   uint16 `json:"overlap_ms"`
	Codec       string `json:"codec"`
	Payload     string `json:"payload"`
}

// MarshalJSON implements [json.Marshaler] with a hex-encoded payload.
func (p Packet) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireJSON{
		SessionID:   p.SessionID,
		Seq:         p.Seq,
		TimestampMs: p.TimestampMs,
		DurationMs:  p.DurationMs,
		OverlapMs:   p.OverlapMs,
		Codec:       p.Codec,
		Payload:     hex.EncodeToString(p.Payload),
	})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (p *Packet) UnmarshalJSON(data []byte) error {
	var w wireJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("packet: decode json: %w", err)
	}
	payload, err := hex.DecodeString(w.Payload)
	if err != nil {
		return fmt.Errorf("packet: decode payload hex: %w", err)
	}
	*p = Packet{
		SessionID:   w.SessionID,
		Seq:         w.Seq,
		TimestampMs: w.TimestampMs,
		DurationMs:  w.DurationMs,
		OverlapMs:   w.OverlapMs,
		Codec:       w.Codec,
		Payload:     payload,
	}
	return nil
}

// trimNUL returns b as a string with trailing NUL padding removed.
func trimNUL(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
