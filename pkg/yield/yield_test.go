package yield_test

import (
	"testing"

	"github.com/aevum-labs/cadence/pkg/yield"
)

// cfg returns the default thresholds: yield > 120 ms lag, freeze after
// 100 ms of sustained yield, easing over 150 ms.
func cfg() yield.Config {
	return yield.DefaultConfig()
}

func TestShouldYield_ThresholdBoundary(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})

	if c.ShouldYield(120, 0) {
		t.Error("lag at threshold: want false")
	}
	if !c.ShouldYield(121, 0) {
		t.Error("lag above threshold: want true")
	}
	if !c.IsYielding() {
		t.Error("controller should be yielding")
	}
}

func TestShouldYield_StartCallbackOncePerEpisode(t *testing.T) {
	t.Parallel()
	var starts, ends int
	var endDuration int64
	c := yield.New(cfg(), yield.Callbacks{
		OnYieldStart: func(lagMs int64) { starts++ },
		OnYieldEnd:   func(durationMs int64, skipped int) { ends++; endDuration = durationMs },
	})

	c.ShouldYield(150, 1000)
	c.ShouldYield(180, 1020) // continued high lag: no re-trigger
	c.ShouldYield(200, 1040)
	if starts != 1 {
		t.Errorf("yield-start callbacks: want 1, got %d", starts)
	}

	if c.ShouldYield(10, 1100) {
		t.Error("recovered lag: want false")
	}
	if ends != 1 {
		t.Errorf("yield-end callbacks: want 1, got %d", ends)
	}
	if endDuration != 100 {
		t.Errorf("episode duration: want 100, got %d", endDuration)
	}
	if c.IsYielding() || c.IsFreezing() {
		t.Error("episode end must clear yielding and freezing flags")
	}

	// A new episode re-triggers the start callback.
	c.ShouldYield(150, 1200)
	if starts != 2 {
		t.Errorf("yield-start callbacks after second episode: want 2, got %d", starts)
	}
}

func TestYieldPose_HoldsLastFrameBeforeFreeze(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})

	c.RecordFrame(map[string]float64{"jawOpen": 0.8}, 900)
	c.ShouldYield(150, 1000)

	pose := c.YieldPose(1050) // 50 ms in, before the 100 ms freeze trigger
	if pose["jawOpen"] != 0.8 {
		t.Errorf("held pose jawOpen: want 0.8, got %v", pose["jawOpen"])
	}
	if c.IsFreezing() {
		t.Error("freeze must not start before the trigger")
	}
	// All neutral channels are present in the held pose.
	if _, ok := pose["eyeBlinkLeft"]; !ok {
		t.Error("held pose missing neutral channel eyeBlinkLeft")
	}
}

func TestYieldPose_EasesToNeutralExactly(t *testing.T) {
	t.Parallel()
	var freezeStarts int
	c := yield.New(cfg(), yield.Callbacks{
		OnFreezeStart: func() { freezeStarts++ },
	})

	c.RecordFrame(map[string]float64{"jawOpen": 0.8}, 900)
	c.ShouldYield(150, 1000)

	// Past the freeze trigger: eased blend, strictly below the held value.
	mid := c.YieldPose(1175) // 175 ms in: progress = 75/150 = 0.5, eased = 0.75
	want := 0.8 * 0.25
	if diff := mid["jawOpen"] - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mid-freeze jawOpen: want %v, got %v", want, mid["jawOpen"])
	}
	if freezeStarts != 1 {
		t.Errorf("freeze-start callbacks: want 1, got %d", freezeStarts)
	}

	// Past trigger + duration (260 ms in): exactly neutral.
	final := c.YieldPose(1260)
	if final["jawOpen"] != 0 {
		t.Errorf("post-freeze jawOpen: want exactly 0, got %v", final["jawOpen"])
	}
	if freezeStarts != 1 {
		t.Errorf("freeze-start must fire once per episode, got %d", freezeStarts)
	}
}

func TestYieldPose_FreezeProgressMonotonic(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})
	c.RecordFrame(map[string]float64{"jawOpen": 1}, 0)
	c.ShouldYield(150, 1000)

	var prev float64 = -1
	for _, tMs := range []int64{1100, 1120, 1150, 1200, 1250, 1300} {
		c.YieldPose(tMs)
		p := c.FreezeProgress()
		if p < prev {
			t.Fatalf("freeze progress decreased at t=%d: %v < %v", tMs, p, prev)
		}
		prev = p
	}
	if prev != 1 {
		t.Errorf("final freeze progress: want 1, got %v", prev)
	}

	// New episode resets progress to 0.
	c.ShouldYield(10, 1400)
	c.ShouldYield(150, 1500)
	if got := c.FreezeProgress(); got != 0 {
		t.Errorf("freeze progress after new episode: want 0, got %v", got)
	}
}

func TestYieldPose_NeutralWhenNoFrameRecorded(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})
	c.ShouldYield(150, 1000)

	pose := c.YieldPose(1010)
	if pose["jawOpen"] != 0 {
		t.Errorf("pose without recorded frame: want neutral 0, got %v", pose["jawOpen"])
	}
}

func TestYieldPose_CountsSkippedFrames(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})
	c.ShouldYield(150, 1000)

	for i := 0; i < 5; i++ {
		c.YieldPose(1000 + int64(i)*20)
	}
	if got := c.SkippedFrames(); got != 5 {
		t.Errorf("skipped frames: want 5, got %d", got)
	}
}

func TestRecordFrame_DefensiveCopy(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})

	values := map[string]float64{"jawOpen": 0.5}
	c.RecordFrame(values, 0)
	values["jawOpen"] = 0.9

	c.ShouldYield(150, 1000)
	pose := c.YieldPose(1010)
	if pose["jawOpen"] != 0.5 {
		t.Errorf("stored frame must be a copy: want 0.5, got %v", pose["jawOpen"])
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	t.Parallel()
	c := yield.New(cfg(), yield.Callbacks{})
	c.RecordFrame(map[string]float64{"jawOpen": 0.7}, 0)
	c.ShouldYield(150, 1000)
	c.YieldPose(1300)

	c.Reset()

	if c.IsYielding() || c.IsFreezing() {
		t.Error("Reset must clear yielding/freezing")
	}
	if c.FreezeProgress() != 0 || c.SkippedFrames() != 0 {
		t.Error("Reset must clear progress and skip counter")
	}
	c.ShouldYield(150, 2000)
	pose := c.YieldPose(2010)
	if pose["jawOpen"] != 0 {
		t.Errorf("last frame must be cleared by Reset: got %v", pose["jawOpen"])
	}
}
