package voice

import (
	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/dsp"
	"github.com/cbegin/clipseq-go/internal/effects"
)

type bassBuilder struct {
	p  *paramStore
	sr float64

	wave, sub, detune, cutoff, resonance int
	drive, saturation                    int
	attack, decay, sustain               int

	dist *effects.Distortion
}

func newBassBuilder(p *paramStore, sampleRate int) *bassBuilder {
	return &bassBuilder{
		p:          p,
		sr:         float64(sampleRate),
		wave:       p.idx("waveform"),
		sub:        p.idx("subOscillator"),
		detune:     p.idx("detune"),
		cutoff:     p.idx("cutoff"),
		resonance:  p.idx("resonance"),
		drive:      p.idx("drive"),
		saturation: p.idx("saturation"),
		attack:     p.idx("attack"),
		decay:      p.idx("decay"),
		sustain:    p.idx("sustain"),
	}
}

func (b *bassBuilder) busEffects(sampleRate int) []effects.Effector {
	b.dist = effects.NewDistortion(sampleRate, float32(b.p.get(b.drive)), float32(b.p.get(b.saturation)), 4000)
	return []effects.Effector{b.dist}
}

func (b *bassBuilder) apply(name string, v float64) {
	switch name {
	case "drive":
		b.dist.SetDrive(float32(v))
	case "saturation":
		b.dist.SetSaturation(float32(v))
	}
}

func (b *bassBuilder) build(n Note, gain float64) audio.Generator {
	freq := dsp.MIDIToFreq(float64(n.Pitch))
	v := &bassVoice{
		b:    b,
		gain: gain * 0.6,
		main: dsp.Osc{Freq: freq},
		sub:  dsp.Osc{Wave: dsp.Sine, Freq: freq / 2},
		env: dsp.ADSR{
			Attack:  b.p.get(b.attack),
			Decay:   b.p.get(b.decay),
			Sustain: b.p.get(b.sustain),
		},
	}
	v.control()
	return v
}

type bassVoice struct {
	b         *bassBuilder
	gain      float64
	main, sub dsp.Osc
	env       dsp.ADSR
	filter    dsp.SVF
	subLevel  float64
	detune    float64
	n         int
}

func (v *bassVoice) control() {
	b, p := v.b, v.b.p
	v.main.Wave = dsp.WaveformFromParam(p.get(b.wave))
	v.subLevel = p.get(b.sub)
	v.detune = dsp.Cents(p.get(b.detune))
	v.filter.Set(b.sr, p.get(b.cutoff), p.get(b.resonance))
}

func (v *bassVoice) Next() (float32, bool) {
	if v.n++; v.n >= controlRate {
		v.n = 0
		v.control()
	}
	s := v.main.Next(v.b.sr, v.detune) + v.sub.Next(v.b.sr, 1)*v.subLevel
	s = v.filter.LowPass(s)
	return float32(s * v.env.Next(v.b.sr) * v.gain), true
}
