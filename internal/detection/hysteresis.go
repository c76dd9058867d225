package detection

// Hysteresis turns a noisy per-frame condition into a stable boolean: it fires
// once the condition has held for the configured number of consecutive frames
// and clears on the first frame it does not hold.
type Hysteresis struct {
	count  int
	frames int
}

func NewHysteresis(frames int) *Hysteresis {
	if frames < 1 {
		frames = 1
	}
	return &Hysteresis{frames: frames}
}

// Update records one frame and reports whether the condition is latched.
func (h *Hysteresis) Update(condition bool) bool {
	if !condition {
		h.count = 0
		return false
	}
	if h.count < h.frames {
		h.count++
	}
	return h.count >= h.frames
}

// Active reports the latched state without recording a frame.
func (h *Hysteresis) Active() bool {
	return h.count >= h.frames
}

func (h *Hysteresis) Count() int {
	return h.count
}

func (h *Hysteresis) Reset() {
	h.count = 0
}
