package effects

import "math"

// Compressor is a stereo-linked peak compressor for the master bus. Both
// channels share one envelope so the stereo image does not shift under gain
// reduction.
type Compressor struct {
	threshold *Param // linear
	ratio     float32
	attack    float32
	release   float32
	makeup    float32
	env       float32
}

// NewCompressor creates a compressor. thresholdDB is typically negative,
// attackSec/releaseSec are time constants of the envelope follower.
func NewCompressor(sampleRate int, thresholdDB, ratio float32, attackSec, releaseSec float64, makeupDB float32) *Compressor {
	if ratio < 1 {
		ratio = 1
	}
	sr := float64(sampleRate)
	return &Compressor{
		threshold: NewParam(dbToLinear(thresholdDB)),
		ratio:     ratio,
		attack:    float32(1 - math.Exp(-1/(math.Max(attackSec, 1e-4)*sr))),
		release:   float32(1 - math.Exp(-1/(math.Max(releaseSec, 1e-4)*sr))),
		makeup:    dbToLinear(makeupDB),
	}
}

// SetThreshold changes the threshold in dB.
func (c *Compressor) SetThreshold(db float32) { c.threshold.Store(dbToLinear(db)) }

func (c *Compressor) Process(l, r float32) (float32, float32) {
	peak := float32(math.Max(math.Abs(float64(l)), math.Abs(float64(r))))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain(c.env) * c.makeup
	return l * g, r * g
}

func (c *Compressor) gain(env float32) float32 {
	th := c.threshold.Load()
	if env <= th || th <= 0 {
		return 1
	}
	return float32(math.Pow(float64(env/th), float64(1/c.ratio-1)))
}

func (c *Compressor) Reset() { c.env = 0 }

func dbToLinear(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}
