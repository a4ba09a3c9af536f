package dsp

type envStage int

const (
	stageAttack envStage = iota
	stageDecay
	stageSustain
	stageDone
)

// ADSR is a linear attack/decay envelope that holds at the sustain level until
// the voice is torn down. Voices end on a hard stop, so there is no release
// stage.
type ADSR struct {
	Attack  float64 // seconds
	Decay   float64 // seconds
	Sustain float64 // 0..1
	level   float64
	stage   envStage
}

func (e *ADSR) Next(sampleRate float64) float64 {
	switch e.stage {
	case stageAttack:
		step := 1.0
		if e.Attack > 0 {
			step = 1 / (e.Attack * sampleRate)
		}
		e.level += step
		if e.level >= 1 {
			e.level = 1
			e.stage = stageDecay
		}
	case stageDecay:
		step := 1.0
		if e.Decay > 0 {
			step = (1 - e.Sustain) / (e.Decay * sampleRate)
		}
		e.level -= step
		if e.level <= e.Sustain {
			e.level = e.Sustain
			e.stage = stageSustain
		}
	}
	return e.level
}

func (e *ADSR) Level() float64 { return e.level }

// Decay is an exponential one-shot envelope used by percussion. It reports
// done once the level falls below -80 dB.
type Decay struct {
	level float64
	coef  float64
}

// NewDecay starts at level and falls by 60 dB over seconds.
func NewDecay(sampleRate, level, seconds float64) Decay {
	if seconds <= 0 {
		seconds = 0.001
	}
	return Decay{level: level, coef: pow10(-3 / (seconds * sampleRate))}
}

func (d *Decay) Next() (float64, bool) {
	v := d.level
	d.level *= d.coef
	return v, v > 1e-4
}
