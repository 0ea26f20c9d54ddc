package packet_test

import (
	"bytes"
	"testing"

	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/packet"
)

// newPacketizer starts a clock session and builds a packetizer with the
// default 16 kHz mono 16-bit / 20 ms / 5 ms config (640-byte packets,
// 160-byte overlap).
func newPacketizer(t *testing.T) *packet.Packetizer {
	t.Helper()
	clk := clock.New()
	if _, err := clk.StartSession("s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	p, err := packet.NewPacketizer(packet.DefaultConfig(), clk, "s1")
	if err != nil {
		t.Fatalf("NewPacketizer: %v", err)
	}
	return p
}

// pattern returns n bytes of a repeating non-zero pattern so payload slices
// can be compared positionally.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func TestProcess_SequenceAndOverlap(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	const packetBytes = 640
	const overlapBytes = 160
	raw := pattern(3*packetBytes, 1)

	pkts, err := p.Process(raw)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pkts) != 3 {
		t.Fatalf("packet count: want 3, got %d", len(pkts))
	}

	for i, pkt := range pkts {
		if pkt.Seq != uint32(i) {
			t.Errorf("packet %d: seq want %d, got %d", i, i, pkt.Seq)
		}
		if pkt.DurationMs != 20 {
			t.Errorf("packet %d: duration want 20, got %d", i, pkt.DurationMs)
		}
	}

	// First packet: no overlap, exactly one packet of source bytes.
	if pkts[0].OverlapMs != 0 {
		t.Errorf("packet 0: overlap want 0, got %d", pkts[0].OverlapMs)
	}
	if !bytes.Equal(pkts[0].Payload, raw[:packetBytes]) {
		t.Error("packet 0: payload does not match source bytes")
	}

	// Subsequent packets: 5 ms overlap whose leading bytes equal the
	// previous packet's trailing bytes.
	for i := 1; i < 3; i++ {
		pkt := pkts[i]
		if pkt.OverlapMs != 5 {
			t.Errorf("packet %d: overlap want 5, got %d", i, pkt.OverlapMs)
		}
		if len(pkt.Payload) != packetBytes+overlapBytes {
			t.Fatalf("packet %d: payload length want %d, got %d", i, packetBytes+overlapBytes, len(pkt.Payload))
		}
		prevTail := pkts[i-1].Payload[len(pkts[i-1].Payload)-overlapBytes:]
		if !bytes.Equal(pkt.Payload[:overlapBytes], prevTail) {
			t.Errorf("packet %d: overlap head does not equal previous packet tail", i)
		}
		want := raw[i*packetBytes : (i+1)*packetBytes]
		if !bytes.Equal(pkt.Payload[overlapBytes:], want) {
			t.Errorf("packet %d: body does not match source bytes", i)
		}
	}
}

func TestProcess_BuffersPartials(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	// 1.5 packets in two irregular writes.
	pkts, err := p.Process(pattern(500, 1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pkts) != 0 {
		t.Fatalf("partial write yielded %d packets, want 0", len(pkts))
	}

	pkts, err = p.Process(pattern(460, 7))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("completed packet: want 1, got %d", len(pkts))
	}
	if pkts[0].Seq != 0 {
		t.Errorf("seq: want 0, got %d", pkts[0].Seq)
	}
}

func TestProcess_TimestampsNonDecreasing(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	var prev int64 = -1
	for i := 0; i < 10; i++ {
		pkts, err := p.Process(pattern(640, byte(i)))
		if err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
		if len(pkts) != 1 {
			t.Fatalf("Process #%d: want 1 packet, got %d", i, len(pkts))
		}
		if pkts[0].TimestampMs < prev {
			t.Fatalf("packet %d timestamp decreased: %d < %d", i, pkts[0].TimestampMs, prev)
		}
		prev = pkts[0].TimestampMs
	}
}

func TestFlush_ZeroPadsPartial(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	if _, err := p.Process(pattern(100, 1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	pkts, err := p.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("Flush: want 1 packet, got %d", len(pkts))
	}
	pkt := pkts[0]
	if len(pkt.Payload) != 640 {
		t.Fatalf("flushed payload length: want 640, got %d", len(pkt.Payload))
	}
	if !bytes.Equal(pkt.Payload[:100], pattern(100, 1)) {
		t.Error("flushed payload head does not match buffered bytes")
	}
	for i, b := range pkt.Payload[100:] {
		if b != 0 {
			t.Fatalf("flushed payload byte %d not zero-padded: %d", 100+i, b)
		}
	}
}

func TestFlush_EmptyYieldsNothing(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	pkts, err := p.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(pkts) != 0 {
		t.Fatalf("Flush on empty buffer: want 0 packets, got %d", len(pkts))
	}
}

func TestReset_RestartsSequenceAndOverlap(t *testing.T) {
	t.Parallel()
	p := newPacketizer(t)

	if _, err := p.Process(pattern(2*640, 1)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	p.Reset()

	pkts, err := p.Process(pattern(640, 9))
	if err != nil {
		t.Fatalf("Process after reset: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("want 1 packet after reset, got %d", len(pkts))
	}
	if pkts[0].Seq != 0 {
		t.Errorf("seq after reset: want 0, got %d", pkts[0].Seq)
	}
	if pkts[0].OverlapMs != 0 {
		t.Errorf("overlap after reset: want 0, got %d", pkts[0].OverlapMs)
	}
	if len(pkts[0].Payload) != 640 {
		t.Errorf("payload length after reset: want 640, got %d", len(pkts[0].Payload))
	}
}

func TestProcess_UnknownSessionPropagates(t *testing.T) {
	t.Parallel()
	clk := clock.New()
	p, err := packet.NewPacketizer(packet.DefaultConfig(), clk, "never-started")
	if err != nil {
		t.Fatalf("NewPacketizer: %v", err)
	}
	_, err = p.Process(pattern(640, 1))
	if err == nil {
		t.Fatal("Process with unknown clock session: want error, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*packet.Config)
		wantErr bool
	}{
		{"default", func(c *packet.Config) {}, false},
		{"zero overlap", func(c *packet.Config) { c.OverlapMs = 0 }, false},
		{"overlap >= packet", func(c *packet.Config) { c.OverlapMs = 20 }, true},
		{"bad bit depth", func(c *packet.Config) { c.BitDepth = 12 }, true},
		{"zero sample rate", func(c *packet.Config) { c.SampleRate = 0 }, true},
		{"long codec tag", func(c *packet.Config) { c.Codec = "pcm_s16le" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := packet.DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("want validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
