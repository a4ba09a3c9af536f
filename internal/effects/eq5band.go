package effects

// EQ5Band splits the signal with four cascaded one-pole crossovers at 200 Hz,
// 800 Hz, 2.5 kHz and 8 kHz and re-sums the bands with per-band gain.
type EQ5Band struct {
	gains  [5]Param
	alphas [4]float32
	lpL    [4]float32
	lpR    [4]float32
}

var crossovers = [4]float64{200, 800, 2500, 8000}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	for i, f := range crossovers {
		eq.alphas[i] = onePoleAlpha(sampleRate, f)
	}
	for i := range eq.gains {
		eq.gains[i].Store(1)
	}
	return eq
}

// SetGain sets band 0-4. 1 is unity; out of range bands are ignored.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band >= 0 && band < len(eq.gains) {
		eq.gains[band].Store(clamp(gain, 0, 4))
	}
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 0 && band < len(eq.gains) {
		return eq.gains[band].Load()
	}
	return 1
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	var outL, outR float32
	for i := 0; i < 4; i++ {
		eq.lpL[i] += eq.alphas[i] * (l - eq.lpL[i])
		eq.lpR[i] += eq.alphas[i] * (r - eq.lpR[i])
		g := eq.gains[i].Load()
		outL += eq.lpL[i] * g
		outR += eq.lpR[i] * g
		l -= eq.lpL[i]
		r -= eq.lpR[i]
	}
	g := eq.gains[4].Load()
	return outL + l*g, outR + r*g
}

func (eq *EQ5Band) Reset() {
	eq.lpL = [4]float32{}
	eq.lpR = [4]float32{}
}
