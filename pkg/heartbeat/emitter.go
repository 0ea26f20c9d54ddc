// Package heartbeat keeps a frame stream observably alive during legitimate
// silence. The [Emitter] injects neutral filler frames when the real producer
// goes quiet; the [Monitor] is the consumer-side detector that raises a
// one-shot missing-frame callback when frames stop arriving. The two are
// independent: either may run without the other present.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/frame"
)

// EmitterConfig configures a heartbeat [Emitter].
type EmitterConfig struct {
	// SessionID is the session the filler frames belong to.
	SessionID string

	// Interval is both the check period and the silence span after which a
	// filler frame is synthesized. Default 100 ms.
	Interval time.Duration

	// FPS is the nominal frame rate stamped on filler frames.
	FPS float64

	// Neutral is the baseline channel map carried by filler frames. When
	// nil, the canonical [frame.Neutral] baseline is used.
	Neutral map[string]float64

	// Emit hands a synthesized filler frame to the transport. Must be
	// non-nil before Start is called.
	Emit func(frame.Frame)
}

// DefaultEmitterInterval is the emitter check period when none is configured.
const DefaultEmitterInterval = 100 * time.Millisecond

// Emitter periodically checks the clock and synthesizes one neutral filler
// frame whenever the real producer has been silent for at least the
// configured interval. Filler frames carry Heartbeat=true and their own
// sequence counter, independent of real frame sequencing.
type Emitter struct {
	clk *clock.Clock
	cfg EmitterConfig

	mu         sync.Mutex
	lastRealMs int64
	seq        uint64
	running    bool
	stop       chan struct{}
	done       chan struct{}
}

// NewEmitter creates an Emitter for the given session. The session must be
// live on clk while the emitter runs.
func NewEmitter(clk *clock.Clock, cfg EmitterConfig) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultEmitterInterval
	}
	if cfg.Neutral == nil {
		cfg.Neutral = frame.Neutral()
	}
	return &Emitter{clk: clk, cfg: cfg}
}

// Start launches the periodic check. Idempotent: starting a running emitter
// is a no-op.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	if now, err := e.clk.ElapsedMs(e.cfg.SessionID); err == nil {
		e.lastRealMs = now
	}
	go e.loop(e.stop, e.done)
}

// Stop halts the periodic check and waits for the loop to exit. Idempotent.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
}

// FrameSent records that the real producer emitted a frame at session time
// tMs, postponing the next filler frame by one full interval.
func (e *Emitter) FrameSent(tMs int64) {
	e.mu.Lock()
	if tMs > e.lastRealMs {
		e.lastRealMs = tMs
	}
	e.mu.Unlock()
}

func (e *Emitter) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	intervalMs := e.cfg.Interval.Milliseconds()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now, err := e.clk.ElapsedMs(e.cfg.SessionID)
			if err != nil {
				// Session ended under us; Stop is on its way.
				slog.Debug("heartbeat: emitter clock read failed", "session_id", e.cfg.SessionID, "err", err)
				continue
			}
			e.mu.Lock()
			silent := now-e.lastRealMs >= intervalMs
			var seq uint64
			if silent {
				seq = e.seq
				e.seq++
			}
			e.mu.Unlock()
			if !silent {
				continue
			}

			e.cfg.Emit(frame.Frame{
				SessionID:   e.cfg.SessionID,
				Seq:         seq,
				TAudioMs:    now,
				FPS:         e.cfg.FPS,
				Heartbeat:   true,
				Blendshapes: frame.MergeNeutral(nil, e.cfg.Neutral),
			})
		}
	}
}
