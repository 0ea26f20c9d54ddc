package opus

// Hooks for package-external tests.

var Int16sToBytes = int16sToBytes

// FrameSize exposes the decoder's per-channel frame sizing.
func (d *Decoder) FrameSize() int { return d.frameSize }
