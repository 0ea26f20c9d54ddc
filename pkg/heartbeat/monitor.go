package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/frame"
)

// MonitorConfig configures a heartbeat [Monitor].
type MonitorConfig struct {
	// SessionID is the session whose frame stream is being watched.
	SessionID string

	// Threshold is the silence span after which frames are declared missing.
	// The check period is half the threshold to bound detection latency.
	// Default 300 ms.
	Threshold time.Duration

	// OnMissing fires once per silence episode with the elapsed silence in
	// milliseconds. It is not re-raised until a frame arrives to clear the
	// missing flag. May be nil.
	OnMissing func(elapsedMs int64)
}

// DefaultMonitorThreshold is the missing-frame threshold when none is
// configured.
const DefaultMonitorThreshold = 300 * time.Millisecond

// Monitor is the consumer-side detector for a stalled frame stream. It lets
// a consumer trigger local degrade-to-still behaviour without needing a live
// connection back to the producer.
type Monitor struct {
	clk *clock.Clock
	cfg MonitorConfig

	mu      sync.Mutex
	lastMs  int64
	lastSeq uint64
	missing bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a Monitor for the given session.
func NewMonitor(clk *clock.Clock, cfg MonitorConfig) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMonitorThreshold
	}
	return &Monitor{clk: clk, cfg: cfg}
}

// Start launches the periodic check at half the missing threshold.
// Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	if now, err := m.clk.ElapsedMs(m.cfg.SessionID); err == nil {
		m.lastMs = now
	}
	go m.loop(m.stopCh, m.doneCh)
}

// Stop halts the periodic check and waits for the loop to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stop)
	<-done
}

// FrameReceived records an arriving frame (real or heartbeat) and clears the
// missing flag, re-arming the one-shot callback.
func (m *Monitor) FrameReceived(f frame.Frame) {
	m.mu.Lock()
	m.lastMs = f.TAudioMs
	m.lastSeq = f.Seq
	m.missing = false
	m.mu.Unlock()
}

// IsMissing reports whether the stream is currently considered stalled.
func (m *Monitor) IsMissing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missing
}

// LastSeq returns the sequence number of the most recently received frame.
func (m *Monitor) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Threshold / 2)
	defer ticker.Stop()

	thresholdMs := m.cfg.Threshold.Milliseconds()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now, err := m.clk.ElapsedMs(m.cfg.SessionID)
			if err != nil {
				slog.Debug("heartbeat: monitor clock read failed", "session_id", m.cfg.SessionID, "err", err)
				continue
			}
			m.mu.Lock()
			elapsed := now - m.lastMs
			raise := !m.missing && elapsed >= thresholdMs
			if raise {
				m.missing = true
			}
			m.mu.Unlock()

			if raise && m.cfg.OnMissing != nil {
				m.cfg.OnMissing(elapsed)
			}
		}
	}
}
