package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aevum-labs/cadence/internal/config"
	"github.com/aevum-labs/cadence/internal/observe"
	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/frame"
	"github.com/aevum-labs/cadence/pkg/heartbeat"
	"github.com/aevum-labs/cadence/pkg/interrupt"
	"github.com/aevum-labs/cadence/pkg/packet"
	"github.com/aevum-labs/cadence/pkg/yield"
)

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Clock is the process-wide authoritative clock. Required.
	Clock *clock.Clock

	// Config supplies the timing constants. Required.
	Config *config.Config

	// Metrics receives instrumentation. When nil, the package-level default
	// metrics are used.
	Metrics *observe.Metrics

	// Sink receives all outgoing frames. Required.
	Sink FrameSink
}

// Manager owns the lifecycle of all live sessions in the process.
// All exported methods are safe for concurrent use.
type Manager struct {
	clk  *clock.Clock
	cfg  *config.Config
	met  *observe.Metrics
	sink FrameSink

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager with the given dependencies.
func NewManager(mc ManagerConfig) (*Manager, error) {
	if mc.Clock == nil {
		return nil, fmt.Errorf("session: clock is required")
	}
	if mc.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if mc.Sink == nil {
		return nil, fmt.Errorf("session: frame sink is required")
	}
	met := mc.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Manager{
		clk:      mc.Clock,
		cfg:      mc.Config,
		met:      met,
		sink:     mc.Sink,
		sessions: make(map[string]*Session),
	}, nil
}

// Open starts a new session: registers it with the clock, builds its timing
// components, and starts the heartbeat emitter and monitor. An empty id
// mints a fresh UUID. Starting an id that is already live fails with the
// clock's contract error.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := m.clk.StartSession(id); err != nil {
		return nil, fmt.Errorf("session: open %q: %w", id, err)
	}

	pktCfg := packet.Config{
		SampleRate: m.cfg.Audio.SampleRate,
		Channels:   m.cfg.Audio.Channels,
		BitDepth:   m.cfg.Audio.BitDepth,
		PacketMs:   m.cfg.Audio.PacketMs,
		OverlapMs:  *m.cfg.Audio.OverlapMs,
		Codec:      m.cfg.Audio.Codec,
	}
	packetizer, err := packet.NewPacketizer(pktCfg, m.clk, id)
	if err != nil {
		m.clk.EndSession(id)
		return nil, fmt.Errorf("session: open %q: %w", id, err)
	}

	s := &Session{
		id:  id,
		clk: m.clk,
		met: m.met,

		packetizer: packetizer,
		sink:       m.sink,
		fps:        m.cfg.Heartbeat.FPS,
	}

	sessionAttr := metric.WithAttributes(attribute.String("session_id", id))
	s.yield = yield.New(yield.Config{
		YieldThresholdMs: m.cfg.Yield.ThresholdMs,
		FreezeTriggerMs:  m.cfg.Yield.FreezeTriggerMs,
		FreezeDurationMs: m.cfg.Yield.FreezeDurationMs,
	}, yield.Callbacks{
		OnYieldStart: func(lagMs int64) {
			m.met.YieldStarts.Add(ctx, 1, sessionAttr)
			slog.Debug("yield episode started", "session_id", id, "lag_ms", lagMs)
		},
		OnFreezeStart: func() {
			m.met.FreezeStarts.Add(ctx, 1, sessionAttr)
			slog.Debug("yield episode entered freeze", "session_id", id)
		},
		OnYieldEnd: func(durationMs int64, skipped int) {
			m.met.RecordYieldEnd(ctx, id, float64(durationMs)/1000, skipped)
			slog.Debug("yield episode ended", "session_id", id, "duration_ms", durationMs, "skipped", skipped)
		},
	})

	s.emitter = heartbeat.NewEmitter(m.clk, heartbeat.EmitterConfig{
		SessionID: id,
		Interval:  time.Duration(m.cfg.Heartbeat.IntervalMs) * time.Millisecond,
		FPS:       m.cfg.Heartbeat.FPS,
		Emit: func(f frame.Frame) {
			m.met.HeartbeatsEmitted.Add(ctx, 1, sessionAttr)
			m.sink(f)
		},
	})

	s.monitor = heartbeat.NewMonitor(m.clk, heartbeat.MonitorConfig{
		SessionID: id,
		Threshold: time.Duration(m.cfg.Heartbeat.MissingThresholdMs) * time.Millisecond,
		OnMissing: func(elapsedMs int64) {
			m.met.MissingFrameEvents.Add(ctx, 1, sessionAttr)
			slog.Warn("frame stream stalled", "session_id", id, "elapsed_ms", elapsedMs)
		},
	})

	s.interrupts = interrupt.NewController(m.clk, id,
		time.Duration(m.cfg.Cancel.BudgetMs)*time.Millisecond)

	s.emitter.Start()
	s.monitor.Start()

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.met.ActiveSessions.Add(ctx, 1)
	slog.Info("session opened", "session_id", id, "live_sessions", m.clk.SessionCount())
	return s, nil
}

// Get returns the live session with the given id, or (nil, false).
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close ends a live session: stops its heartbeat timers, removes it from the
// registry, and ends its clock session. Closing an unknown id returns an
// error.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: close %q: not found", id)
	}

	s.emitter.Stop()
	s.monitor.Stop()

	durationMs, _ := m.clk.EndSession(id)
	m.met.ActiveSessions.Add(ctx, -1)
	m.met.SessionDuration.Record(ctx, float64(durationMs)/1000,
		metric.WithAttributes(attribute.String("session_id", id)))

	slog.Info("session closed", "session_id", id, "duration_ms", durationMs)
	return nil
}

// CloseAll closes every live session. Used during server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			slog.Warn("session close error during shutdown", "session_id", id, "err", err)
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
