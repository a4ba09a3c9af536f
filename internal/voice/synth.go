package voice

import (
	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/dsp"
	"github.com/cbegin/clipseq-go/internal/effects"
)

// controlRate is how many samples a voice renders between parameter reads.
const controlRate = 32

type synthBuilder struct {
	p  *paramStore
	sr float64

	wave1, wave2, mix, detune, octave    int
	cutoff, resonance, lfoRate, lfoDepth int
	attack, decay, sustain               int
	chorusMix, delayMix, delayFeedback   int

	chorus *effects.Chorus
	delay  *effects.Delay
}

func newSynthBuilder(p *paramStore, sampleRate int) *synthBuilder {
	return &synthBuilder{
		p:             p,
		sr:            float64(sampleRate),
		wave1:         p.idx("waveform1"),
		wave2:         p.idx("waveform2"),
		mix:           p.idx("oscillatorMix"),
		detune:        p.idx("detune"),
		octave:        p.idx("octave"),
		cutoff:        p.idx("cutoff"),
		resonance:     p.idx("resonance"),
		lfoRate:       p.idx("lfoRate"),
		lfoDepth:      p.idx("lfoAmount"),
		attack:        p.idx("attack"),
		decay:         p.idx("decay"),
		sustain:       p.idx("sustain"),
		chorusMix:     p.idx("chorusMix"),
		delayMix:      p.idx("delayMix"),
		delayFeedback: p.idx("delayFeedback"),
	}
}

func (b *synthBuilder) busEffects(sampleRate int) []effects.Effector {
	b.chorus = effects.NewChorus(sampleRate, 15, 3, 0.6, float32(b.p.get(b.chorusMix)))
	b.delay = effects.NewDelay(sampleRate, 0.25, float32(b.p.get(b.delayFeedback)), 0.2, float32(b.p.get(b.delayMix)))
	return []effects.Effector{b.chorus, b.delay}
}

func (b *synthBuilder) apply(name string, v float64) {
	switch name {
	case "chorusMix":
		b.chorus.SetWet(float32(v))
	case "delayMix":
		b.delay.SetWet(float32(v))
	case "delayFeedback":
		b.delay.SetFeedback(float32(v))
	}
}

func (b *synthBuilder) build(n Note, gain float64) audio.Generator {
	freq := dsp.MIDIToFreq(float64(n.Pitch) + 12*b.p.get(b.octave))
	v := &synthVoice{
		b:    b,
		gain: gain * 0.5,
		osc1: dsp.Osc{Freq: freq},
		osc2: dsp.Osc{Freq: freq},
		env: dsp.ADSR{
			Attack:  b.p.get(b.attack),
			Decay:   b.p.get(b.decay),
			Sustain: b.p.get(b.sustain),
		},
	}
	v.control()
	return v
}

type synthVoice struct {
	b          *synthBuilder
	gain       float64
	osc1, osc2 dsp.Osc
	env        dsp.ADSR
	filter     dsp.SVF
	lfo        dsp.LFO
	mix        float64
	detune     float64
	n          int
}

// control re-reads live parameters.
func (v *synthVoice) control() {
	b, p := v.b, v.b.p
	v.osc1.Wave = dsp.WaveformFromParam(p.get(b.wave1))
	v.osc2.Wave = dsp.WaveformFromParam(p.get(b.wave2))
	v.mix = p.get(b.mix)
	v.detune = dsp.Cents(p.get(b.detune))
	v.lfo.Rate = p.get(b.lfoRate)
	v.lfo.Depth = p.get(b.lfoDepth)
	cutoff := p.get(b.cutoff) + v.lfo.Next(b.sr/controlRate)
	v.filter.Set(b.sr, cutoff, p.get(b.resonance))
}

func (v *synthVoice) Next() (float32, bool) {
	if v.n++; v.n >= controlRate {
		v.n = 0
		v.control()
	}
	s := v.osc1.Next(v.b.sr, 1)*(1-v.mix) + v.osc2.Next(v.b.sr, v.detune)*v.mix
	s = v.filter.LowPass(s)
	return float32(s * v.env.Next(v.b.sr) * v.gain), true
}
