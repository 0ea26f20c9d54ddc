// Package session wires the Cadence timing core together per session: one
// clock registration, one packetizer, one yield controller, one heartbeat
// emitter/monitor pair, and one cancellation controller, all sharing the
// session's authoritative clock.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aevum-labs/cadence/internal/observe"
	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/frame"
	"github.com/aevum-labs/cadence/pkg/heartbeat"
	"github.com/aevum-labs/cadence/pkg/interrupt"
	"github.com/aevum-labs/cadence/pkg/packet"
	packetopus "github.com/aevum-labs/cadence/pkg/packet/opus"
	"github.com/aevum-labs/cadence/pkg/yield"
)

// FrameSink receives outgoing animation frames (real, degraded, and
// heartbeat). Implementations are transport adapters and must be safe for
// concurrent use: the heartbeat emitter delivers from its own goroutine.
type FrameSink func(frame.Frame)

// Session owns the timing-core components for one live session. The audio
// and frame-producing methods are intended for a single producer; the
// cancellation controller and heartbeat components synchronise internally.
type Session struct {
	id  string
	clk *clock.Clock
	met *observe.Metrics

	packetizer *packet.Packetizer
	yield      *yield.Controller
	emitter    *heartbeat.Emitter
	monitor    *heartbeat.Monitor
	interrupts *interrupt.Controller
	sink       FrameSink
	fps        float64

	mu      sync.Mutex
	opusDec *packetopus.Decoder
	seq     uint64
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Interrupts returns the session's cancellation controller, for registering
// in-flight handlers and triggering barge-in.
func (s *Session) Interrupts() *interrupt.Controller { return s.interrupts }

// Monitor returns the consumer-side heartbeat monitor.
func (s *Session) Monitor() *heartbeat.Monitor { return s.monitor }

// ProduceAudio feeds raw PCM bytes into the packetizer and returns the
// packets completed by this write.
func (s *Session) ProduceAudio(ctx context.Context, raw []byte) ([]packet.Packet, error) {
	pkts, err := s.packetizer.Process(raw)
	if len(pkts) > 0 {
		s.met.PacketsEmitted.Add(ctx, int64(len(pkts)),
			metric.WithAttributes(attribute.String("session_id", s.id)))
	}
	return pkts, err
}

// ProduceOpus decodes one Opus frame to PCM and feeds it to the packetizer.
// The decoder is created lazily on first use, matched to the session's audio
// config.
func (s *Session) ProduceOpus(ctx context.Context, opusFrame []byte, cfg packet.Config) ([]packet.Packet, error) {
	s.mu.Lock()
	if s.opusDec == nil {
		dec, err := packetopus.NewDecoder(cfg.SampleRate, cfg.Channels)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("session %q: %w", s.id, err)
		}
		s.opusDec = dec
	}
	pcm, err := s.opusDec.Decode(opusFrame)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", s.id, err)
	}
	return s.ProduceAudio(ctx, pcm)
}

// FlushAudio zero-pads and emits any buffered partial packet at end of
// stream.
func (s *Session) FlushAudio(ctx context.Context) ([]packet.Packet, error) {
	pkts, err := s.packetizer.Flush()
	if len(pkts) > 0 {
		s.met.PacketsEmitted.Add(ctx, int64(len(pkts)),
			metric.WithAttributes(attribute.String("session_id", s.id)))
	}
	return pkts, err
}

// Backpressure runs the yield decision for the current frame given the
// producer's lag. When the producer must degrade, it synthesizes the
// degraded pose frame, hands it to the sink, and returns it; otherwise it
// returns nil and the producer should compute a real frame and call
// [Session.EmitFrame]. Degraded frames count as stream activity: they mark
// the heartbeat emitter's silence timer so fillers do not interleave with a
// yielding stream.
func (s *Session) Backpressure(lagMs int64) (*frame.Frame, error) {
	now, err := s.clk.ElapsedMs(s.id)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", s.id, err)
	}
	if !s.yield.ShouldYield(lagMs, now) {
		return nil, nil
	}

	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	f := frame.Frame{
		SessionID:   s.id,
		Seq:         seq,
		TAudioMs:    now,
		FPS:         s.fps,
		Blendshapes: s.yield.YieldPose(now),
	}
	s.emitter.FrameSent(now)
	s.sink(f)
	return &f, nil
}

// EmitFrame records values as the producer's last known-good frame, stamps
// and sequences a real frame, hands it to the sink, and marks the heartbeat
// emitter's silence timer.
func (s *Session) EmitFrame(values map[string]float64) (frame.Frame, error) {
	now, err := s.clk.ElapsedMs(s.id)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("session %q: %w", s.id, err)
	}
	s.yield.RecordFrame(values, now)

	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	f := frame.Frame{
		SessionID:   s.id,
		Seq:         seq,
		TAudioMs:    now,
		FPS:         s.fps,
		Blendshapes: frame.MergeNeutral(values, frame.Neutral()),
	}
	s.emitter.FrameSent(now)
	s.sink(f)
	return f, nil
}

// ObserveFrame feeds a received frame into the consumer-side heartbeat
// monitor.
func (s *Session) ObserveFrame(f frame.Frame) {
	s.monitor.FrameReceived(f)
}

// Cancel triggers the session's cancellation fan-out with a clock-derived
// event time and the configured budget. Returns true when every handler
// acknowledged within budget.
func (s *Session) Cancel(ctx context.Context, reason interrupt.Reason) bool {
	start := time.Now()
	complete := s.interrupts.Cancel(ctx, reason)
	s.met.RecordCancel(ctx, string(reason), time.Since(start).Seconds(), complete)
	return complete
}

// DispatchCancel fans out an externally constructed CANCEL message (e.g.
// received over the control channel) with the configured budget.
func (s *Session) DispatchCancel(ctx context.Context, msg interrupt.Message) bool {
	start := time.Now()
	complete := s.interrupts.Dispatch(ctx, msg, 0)
	s.met.RecordCancel(ctx, string(msg.Reason), time.Since(start).Seconds(), complete)
	return complete
}
