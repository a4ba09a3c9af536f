package dsp

import "math"

// OnePole is a one-pole lowpass; HighPass returns the complementary output.
type OnePole struct {
	alpha float64
	state float64
}

func (f *OnePole) SetCutoff(sampleRate, hz float64) {
	if hz <= 0 || hz >= sampleRate/2 {
		f.alpha = 1
		return
	}
	rc := 1 / (twoPi * hz)
	dt := 1 / sampleRate
	f.alpha = dt / (rc + dt)
}

func (f *OnePole) LowPass(x float64) float64 {
	f.state += f.alpha * (x - f.state)
	return f.state
}

func (f *OnePole) HighPass(x float64) float64 {
	return x - f.LowPass(x)
}

// SVF is a Chamberlin state-variable filter with resonance, run twice per
// sample for stability at higher cutoffs.
type SVF struct {
	f, q   float64
	lp, bp float64
}

// Set configures cutoff (Hz) and resonance (Q, 0.1..20).
func (s *SVF) Set(sampleRate, cutoff, q float64) {
	cutoff = math.Max(20, math.Min(cutoff, sampleRate/4))
	s.f = 2 * math.Sin(math.Pi*cutoff/(2*sampleRate))
	if q < 0.1 {
		q = 0.1
	}
	s.q = 1 / q
}

func (s *SVF) LowPass(x float64) float64 {
	for i := 0; i < 2; i++ {
		hp := x - s.lp - s.q*s.bp
		s.bp += s.f * hp
		s.lp += s.f * s.bp
	}
	if math.IsNaN(s.lp) || math.IsInf(s.lp, 0) {
		s.lp, s.bp = 0, 0
	}
	return s.lp
}

func pow10(x float64) float64 { return math.Pow(10, x) }
