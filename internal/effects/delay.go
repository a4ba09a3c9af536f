package effects

// Delay is a stereo feedback delay with cross-channel feedback. Feedback and
// wet level may be changed while rendering.
type Delay struct {
	bufL, bufR []float32
	pos        int
	feedback   *Param
	cross      float32
	wet        *Param
}

// NewDelay creates a delay of delaySec seconds.
// feedback is limited to 0..0.95, cross and wet to 0..1.
func NewDelay(sampleRate int, delaySec float64, feedback, cross, wet float32) *Delay {
	samples := int(delaySec * float64(sampleRate))
	if samples < 1 {
		samples = 1
	}
	return &Delay{
		bufL:     make([]float32, samples),
		bufR:     make([]float32, samples),
		feedback: NewParam(clamp(feedback, 0, 0.95)),
		cross:    clamp(cross, 0, 1),
		wet:      NewParam(clamp(wet, 0, 1)),
	}
}

func (d *Delay) SetFeedback(v float32) { d.feedback.Store(clamp(v, 0, 0.95)) }
func (d *Delay) SetWet(v float32)      { d.wet.Store(clamp(v, 0, 1)) }

func (d *Delay) Process(l, r float32) (float32, float32) {
	fb := d.feedback.Load()
	wet := d.wet.Load()
	delL := d.bufL[d.pos]
	delR := d.bufR[d.pos]
	d.bufL[d.pos] = l + delL*fb*(1-d.cross) + delR*fb*d.cross
	d.bufR[d.pos] = r + delR*fb*(1-d.cross) + delL*fb*d.cross
	d.pos++
	if d.pos >= len(d.bufL) {
		d.pos = 0
	}
	return l*(1-wet) + delL*wet, r*(1-wet) + delR*wet
}

func (d *Delay) Reset() {
	clear(d.bufL)
	clear(d.bufR)
	d.pos = 0
}
