// Package effects holds the stereo processors used on instrument buses and
// the master output. Settings that instruments change while audio is
// rendering are stored as Param values so the audio goroutine reads them
// without locking.
package effects

import (
	"math"
	"sync/atomic"
)

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Param is a float32 shared between the scheduling and audio goroutines.
type Param struct {
	bits atomic.Uint32
}

func NewParam(v float32) *Param {
	p := &Param{}
	p.Store(v)
	return p
}

func (p *Param) Load() float32   { return math.Float32frombits(p.bits.Load()) }
func (p *Param) Store(v float32) { p.bits.Store(math.Float32bits(v)) }

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	c := &Chain{}
	for _, e := range effects {
		if e != nil {
			c.effects = append(c.effects, e)
		}
	}
	return c
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Add(e Effector) {
	if e != nil {
		c.effects = append(c.effects, e)
	}
}

func (c *Chain) Len() int { return len(c.effects) }

// onePoleAlpha returns the smoothing coefficient of a one-pole lowpass at cutoff Hz.
func onePoleAlpha(sampleRate int, cutoff float64) float32 {
	if cutoff <= 0 || cutoff >= float64(sampleRate)/2 {
		return 0
	}
	rc := 1.0 / (2.0 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	return float32(dt / (rc + dt))
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
