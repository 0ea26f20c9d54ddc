// Package frame defines the animation frame schema exchanged between the
// Cadence core and transport adapters.
//
// Blendshape channels form an open map: the channel set is an external
// contract supplied by the animation collaborator, not fixed by this core.
// [MergeNeutral] enforces at the boundary that every canonical channel is
// present, so consumers never see partial maps.
package frame

// Frame is one animation output frame. A heartbeat frame carries
// Heartbeat=true and the neutral-baseline channel map.
type Frame struct {
	SessionID   string             `json:"session_id"`
	Seq         uint64             `json:"seq"`
	TAudioMs    int64              `json:"t_audio_ms"`
	FPS         float64            `json:"fps"`
	Heartbeat   bool               `json:"heartbeat"`
	Blendshapes map[string]float64 `json:"blendshapes"`
}

// neutralChannels is the canonical channel set with its neutral (resting)
// values. All channels rest at 0 in the ARKit-style convention used here.
var neutralChannels = []string{
	"browDownLeft", "browDownRight", "browInnerUp",
	"eyeBlinkLeft", "eyeBlinkRight",
	"eyeLookDownLeft", "eyeLookDownRight",
	"eyeLookUpLeft", "eyeLookUpRight",
	"jawOpen",
	"mouthClose", "mouthFunnel", "mouthPucker",
	"mouthSmileLeft", "mouthSmileRight",
	"mouthFrownLeft", "mouthFrownRight",
	"cheekPuff",
}

// Neutral returns a fresh copy of the canonical neutral-baseline channel map.
// Callers own the returned map and may mutate it freely.
func Neutral() map[string]float64 {
	m := make(map[string]float64, len(neutralChannels))
	for _, ch := range neutralChannels {
		m[ch] = 0
	}
	return m
}

// MergeNeutral returns a new map containing every channel of neutral, with
// values from values where present (clamped to [0,1]) and the neutral value
// otherwise. Channels in values that are absent from neutral are kept, so the
// open channel set survives the merge. Neither input is mutated.
func MergeNeutral(values, neutral map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(neutral)+len(values))
	for ch, v := range neutral {
		out[ch] = v
	}
	for ch, v := range values {
		out[ch] = Clamp(v)
	}
	return out
}

// Clamp restricts a channel value to the valid [0,1] range.
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
