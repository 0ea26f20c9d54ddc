// Package yield implements the backpressure degradation state machine for a
// frame producer: Normal → Yielding → Freezing → Normal.
//
// When the producer's lag behind real time exceeds a threshold it yields,
// holding its last known-good frame instead of computing new ones. If the
// yield persists past a second trigger, the output eases toward a neutral
// baseline ("slow freeze") so the avatar settles rather than snapping.
// Degradation is not an error: every operation here is a plain state
// transition with a defined recovery path.
//
// A Controller is owned by exactly one producer per session and performs no
// internal locking. All times are session-relative milliseconds from the
// authoritative clock, passed in by the caller.
package yield

import (
	"github.com/aevum-labs/cadence/pkg/frame"
)

// Config fixes the controller's thresholds and baseline at construction.
type Config struct {
	// YieldThresholdMs is the lag above which the producer must yield.
	YieldThresholdMs int64

	// FreezeTriggerMs is how long a yield must persist before the freeze
	// phase begins.
	FreezeTriggerMs int64

	// FreezeDurationMs is how long the ease toward neutral takes once the
	// freeze phase has begun.
	FreezeDurationMs int64

	// Neutral is the baseline channel map eased toward during a freeze.
	// When nil, the canonical [frame.Neutral] baseline is used.
	Neutral map[string]float64
}

// DefaultConfig returns the standard thresholds: yield above 120 ms lag,
// freeze after 100 ms of sustained yield, easing over 150 ms.
func DefaultConfig() Config {
	return Config{
		YieldThresholdMs: 120,
		FreezeTriggerMs:  100,
		FreezeDurationMs: 150,
	}
}

// Callbacks are observability hooks invoked on state transitions. Any field
// may be nil. OnYieldStart fires at most once per continuous yield episode.
type Callbacks struct {
	// OnYieldStart fires when a new yield episode begins, with the lag that
	// triggered it.
	OnYieldStart func(lagMs int64)

	// OnFreezeStart fires when a yield episode enters the freeze phase.
	OnFreezeStart func()

	// OnYieldEnd fires when lag recovers, with the episode duration and the
	// number of frames skipped while yielding.
	OnYieldEnd func(durationMs int64, skipped int)
}

// Controller tracks one producer's yield state.
type Controller struct {
	cfg     Config
	cbs     Callbacks
	neutral map[string]float64

	yielding       bool
	freezing       bool
	yieldStartMs   int64
	skipped        int
	freezeProgress float64
	lastFrame      map[string]float64
}

// New creates a Controller. Thresholds of zero or below disable nothing:
// they simply trigger immediately, which is occasionally useful in tests.
func New(cfg Config, cbs Callbacks) *Controller {
	neutral := cfg.Neutral
	if neutral == nil {
		neutral = frame.Neutral()
	}
	return &Controller{cfg: cfg, cbs: cbs, neutral: neutral}
}

// ShouldYield decides, for one output frame at session time tMs, whether the
// producer must degrade given its current lag. Crossing the threshold starts
// a yield episode exactly once; dropping back to or below the threshold ends
// it and clears both the yielding and freezing flags.
func (c *Controller) ShouldYield(lagMs, tMs int64) bool {
	if lagMs > c.cfg.YieldThresholdMs {
		if !c.yielding {
			c.yielding = true
			c.freezing = false
			c.yieldStartMs = tMs
			c.skipped = 0
			c.freezeProgress = 0
			if c.cbs.OnYieldStart != nil {
				c.cbs.OnYieldStart(lagMs)
			}
		}
		return true
	}

	if c.yielding {
		duration := tMs - c.yieldStartMs
		skipped := c.skipped
		c.yielding = false
		c.freezing = false
		c.freezeProgress = 0
		c.skipped = 0
		if c.cbs.OnYieldEnd != nil {
			c.cbs.OnYieldEnd(duration, skipped)
		}
	}
	return false
}

// RecordFrame stores a defensive copy of values, merged against the neutral
// baseline, as the last known-good frame. Call only when not yielding.
func (c *Controller) RecordFrame(values map[string]float64, tMs int64) {
	_ = tMs // reserved for frame-age accounting
	c.lastFrame = frame.MergeNeutral(values, c.neutral)
}

// YieldPose returns the degraded pose for one skipped frame at session time
// tMs. Before the freeze trigger it holds the last known-good frame verbatim
// (or the neutral baseline if none was ever recorded); afterwards it eases
// per-channel toward neutral with a deceleration curve so motion settles
// instead of snapping.
func (c *Controller) YieldPose(tMs int64) map[string]float64 {
	c.skipped++

	yieldDuration := tMs - c.yieldStartMs
	if c.yielding && yieldDuration >= c.cfg.FreezeTriggerMs {
		if !c.freezing {
			c.freezing = true
			if c.cbs.OnFreezeStart != nil {
				c.cbs.OnFreezeStart()
			}
		}
		progress := float64(yieldDuration-c.cfg.FreezeTriggerMs) / float64(c.cfg.FreezeDurationMs)
		if progress > 1 {
			progress = 1
		}
		// Monotonically non-decreasing within one episode.
		if progress > c.freezeProgress {
			c.freezeProgress = progress
		}
	}

	last := c.lastFrame
	if last == nil {
		return frame.MergeNeutral(nil, c.neutral)
	}
	if !c.freezing {
		out := make(map[string]float64, len(last))
		for ch, v := range last {
			out[ch] = v
		}
		return out
	}

	// Ease-out: output decelerates as it approaches neutral.
	eased := 1 - (1-c.freezeProgress)*(1-c.freezeProgress)
	out := make(map[string]float64, len(last))
	for ch, v := range last {
		out[ch] = frame.Clamp(v + (c.neutral[ch]-v)*eased)
	}
	// Neutral channels absent from the last frame cannot occur after
	// RecordFrame's merge, but guard against a caller-provided baseline
	// growing between calls.
	for ch, nv := range c.neutral {
		if _, ok := out[ch]; !ok {
			out[ch] = nv
		}
	}
	return out
}

// Reset clears all yield and freeze state, including the stored last frame.
func (c *Controller) Reset() {
	c.yielding = false
	c.freezing = false
	c.yieldStartMs = 0
	c.skipped = 0
	c.freezeProgress = 0
	c.lastFrame = nil
}

// IsYielding reports whether a yield episode is active.
func (c *Controller) IsYielding() bool { return c.yielding }

// IsFreezing reports whether the active episode has entered its freeze phase.
func (c *Controller) IsFreezing() bool { return c.freezing }

// FreezeProgress returns the current freeze progress in [0,1].
func (c *Controller) FreezeProgress() float64 { return c.freezeProgress }

// SkippedFrames returns the number of frames skipped in the current episode.
func (c *Controller) SkippedFrames() int { return c.skipped }
