package voice

import (
	"math"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/dsp"
	"github.com/cbegin/clipseq-go/internal/effects"
)

type fmBuilder struct {
	p  *paramStore
	sr float64

	ratio, index, feedback, brightness int
	attack, decay, sustain             int
}

func newFMBuilder(p *paramStore, sampleRate int) *fmBuilder {
	return &fmBuilder{
		p:          p,
		sr:         float64(sampleRate),
		ratio:      p.idx("ratio"),
		index:      p.idx("index"),
		feedback:   p.idx("feedback"),
		brightness: p.idx("brightness"),
		attack:     p.idx("attack"),
		decay:      p.idx("decay"),
		sustain:    p.idx("sustain"),
	}
}

func (b *fmBuilder) busEffects(int) []effects.Effector { return nil }

func (b *fmBuilder) apply(string, float64) {}

func (b *fmBuilder) build(n Note, gain float64) audio.Generator {
	v := &fmVoice{
		b:    b,
		gain: gain * 0.5,
		freq: dsp.MIDIToFreq(float64(n.Pitch)),
		carEnv: dsp.ADSR{
			Attack:  b.p.get(b.attack),
			Decay:   b.p.get(b.decay),
			Sustain: b.p.get(b.sustain),
		},
		// the modulator decays faster so the attack is brighter than the tail
		modEnv: dsp.ADSR{
			Attack:  b.p.get(b.attack),
			Decay:   b.p.get(b.decay) * 0.5,
			Sustain: b.p.get(b.sustain) * 0.6,
		},
	}
	v.control()
	return v
}

// fmVoice is a two-operator voice: a sine modulator with self feedback
// driving a sine carrier, followed by a one-pole lowpass.
type fmVoice struct {
	b              *fmBuilder
	gain           float64
	freq           float64
	carPhase       float64
	modPhase       float64
	prevMod        float64
	carEnv, modEnv dsp.ADSR
	lpf            dsp.OnePole
	ratio, index   float64
	feedback       float64
	n              int
}

func (v *fmVoice) control() {
	b, p := v.b, v.b.p
	v.ratio = p.get(b.ratio)
	v.index = p.get(b.index)
	v.feedback = p.get(b.feedback)
	v.lpf.SetCutoff(b.sr, p.get(b.brightness))
}

func (v *fmVoice) Next() (float32, bool) {
	if v.n++; v.n >= controlRate {
		v.n = 0
		v.control()
	}
	sr := v.b.sr
	mod := math.Sin(2*math.Pi*v.modPhase+v.prevMod*v.feedback*math.Pi) * v.modEnv.Next(sr)
	v.prevMod = mod
	s := math.Sin(2*math.Pi*v.carPhase + mod*v.index)
	s = v.lpf.LowPass(s) * v.carEnv.Next(sr)

	v.carPhase += v.freq / sr
	v.carPhase -= math.Floor(v.carPhase)
	v.modPhase += v.freq * v.ratio / sr
	v.modPhase -= math.Floor(v.modPhase)
	return float32(s * v.gain), true
}
