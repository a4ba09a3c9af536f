package effects

import "math"

// Chorus is a modulated short delay. The right channel's modulation runs a
// quarter cycle behind the left to widen the image.
type Chorus struct {
	bufL, bufR []float32
	pos        int
	base       float32
	depth      float32
	rate       float64
	phase      float64
	wet        *Param
}

// NewChorus creates a chorus with a base delay of delayMs, modulated by
// depthMs at rateHz.
func NewChorus(sampleRate int, delayMs, depthMs, rateHz, wet float32) *Chorus {
	base := float64(delayMs) * float64(sampleRate) / 1000
	depth := float64(depthMs) * float64(sampleRate) / 1000
	size := int(base+depth) + 2
	if size < 4 {
		size = 4
	}
	return &Chorus{
		bufL:  make([]float32, size),
		bufR:  make([]float32, size),
		base:  float32(base),
		depth: float32(depth),
		rate:  2 * math.Pi * float64(rateHz) / float64(sampleRate),
		wet:   NewParam(clamp(wet, 0, 1)),
	}
}

func (c *Chorus) SetWet(v float32) { c.wet.Store(clamp(v, 0, 1)) }

func (c *Chorus) Process(l, r float32) (float32, float32) {
	c.bufL[c.pos] = l
	c.bufR[c.pos] = r
	dl := c.read(c.bufL, c.base+float32(math.Sin(c.phase))*c.depth)
	dr := c.read(c.bufR, c.base+float32(math.Cos(c.phase))*c.depth)
	c.phase += c.rate
	if c.phase > 2*math.Pi {
		c.phase -= 2 * math.Pi
	}
	c.pos++
	if c.pos >= len(c.bufL) {
		c.pos = 0
	}
	wet := c.wet.Load()
	return l*(1-wet) + dl*wet, r*(1-wet) + dr*wet
}

func (c *Chorus) read(buf []float32, delay float32) float32 {
	size := float32(len(buf))
	p := float32(c.pos) - delay
	for p < 0 {
		p += size
	}
	i := int(p)
	frac := p - float32(i)
	j := i + 1
	if j >= len(buf) {
		j = 0
	}
	return buf[i]*(1-frac) + buf[j]*frac
}

func (c *Chorus) Reset() {
	clear(c.bufL)
	clear(c.bufR)
	c.pos = 0
	c.phase = 0
}
