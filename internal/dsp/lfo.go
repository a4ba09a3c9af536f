package dsp

import "math"

// LFO is a low-frequency oscillator producing values in [-depth, +depth].
type LFO struct {
	Rate  float64 // Hz
	Depth float64
	Wave  Waveform
	phase float64
}

// Next returns the current value and advances one sample. A zero rate or
// depth yields 0.
func (l *LFO) Next(sampleRate float64) float64 {
	if l.Rate == 0 || l.Depth == 0 || sampleRate == 0 {
		return 0
	}
	v := Shape(l.Wave, l.phase) * l.Depth
	l.phase += l.Rate / sampleRate
	l.phase -= math.Floor(l.phase)
	return v
}

func (l *LFO) Active() bool { return l.Rate != 0 && l.Depth != 0 }

func (l *LFO) Reset() { l.phase = 0 }
