package voice

import (
	"math"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/dsp"
	"github.com/cbegin/clipseq-go/internal/effects"
)

// General MIDI percussion keys the drum machine voices specially.
const (
	gmKick1      = 35
	gmKick       = 36
	gmSnare      = 38
	gmSnare2     = 40
	gmClosedHat  = 42
	gmPedalHat   = 44
	gmOpenHat    = 46
	gmCrash      = 49
	gmRide       = 51
	gmCrash2     = 57
	gmRide2      = 59
	drumAttackMs = 5
)

type drumBuilder struct {
	p     *paramStore
	sr    float64
	seed  uint32
	kickTune, kickDecay, kickPunch int
	snareTune, snareSnap           int
	hatDecay, hatTone              int
}

func newDrumBuilder(p *paramStore, sampleRate int) *drumBuilder {
	return &drumBuilder{
		p:         p,
		sr:        float64(sampleRate),
		seed:      0x1234,
		kickTune:  p.idx("kickTune"),
		kickDecay: p.idx("kickDecay"),
		kickPunch: p.idx("kickPunch"),
		snareTune: p.idx("snareTune"),
		snareSnap: p.idx("snareSnap"),
		hatDecay:  p.idx("hihatDecay"),
		hatTone:   p.idx("hihatTone"),
	}
}

func (b *drumBuilder) busEffects(int) []effects.Effector { return nil }

func (b *drumBuilder) apply(string, float64) {}

// build picks a recipe by pitch. Drum voices end on their own once the
// decay envelope is exhausted.
func (b *drumBuilder) build(n Note, gain float64) audio.Generator {
	b.seed = b.seed*1103515245 + 12345
	p := b.p
	v := &drumVoice{
		sr:     b.sr,
		gain:   gain,
		attack: int(drumAttackMs * b.sr / 1000),
		noise:  dsp.NewNoise(b.seed >> 8),
	}
	switch n.Pitch {
	case gmKick1, gmKick:
		tune := math.Pow(2, p.get(b.kickTune)/12)
		v.tone = dsp.Osc{Wave: dsp.Sine, Freq: 60 * tune}
		v.toneLevel = p.get(b.kickPunch) + 0.3
		v.sweepTo = 40 * tune
		v.sweepCoef = math.Pow(v.sweepTo/(60*tune), 1/(0.1*b.sr))
		v.lp.SetCutoff(b.sr, 180)
		v.useLP = true
		v.env = dsp.NewDecay(b.sr, 1, p.get(b.kickDecay))
	case gmSnare, gmSnare2:
		tune := math.Pow(2, p.get(b.snareTune)/12)
		v.tone = dsp.Osc{Wave: dsp.Triangle, Freq: 200 * tune}
		v.toneLevel = 0.5
		v.noiseLevel = p.get(b.snareSnap)
		v.hp.SetCutoff(b.sr, 300)
		v.env = dsp.NewDecay(b.sr, 1, 0.3)
	case gmClosedHat, gmPedalHat:
		v.noiseLevel = 0.6
		v.hp.SetCutoff(b.sr, p.get(b.hatTone))
		v.env = dsp.NewDecay(b.sr, 1, p.get(b.hatDecay))
	case gmOpenHat:
		v.noiseLevel = 0.6
		v.hp.SetCutoff(b.sr, p.get(b.hatTone))
		v.env = dsp.NewDecay(b.sr, 1, p.get(b.hatDecay)*3)
	case gmCrash, gmCrash2:
		v.noiseLevel = 0.5
		v.hp.SetCutoff(b.sr, 3000)
		v.env = dsp.NewDecay(b.sr, 1, 1.5)
	case gmRide, gmRide2:
		v.noiseLevel = 0.35
		v.tone = dsp.Osc{Wave: dsp.Square, Freq: 520}
		v.toneLevel = 0.1
		v.hp.SetCutoff(b.sr, 3000)
		v.env = dsp.NewDecay(b.sr, 1, 0.8)
	default:
		v.tone = dsp.Osc{Wave: dsp.Sine, Freq: dsp.MIDIToFreq(float64(n.Pitch))}
		v.toneLevel = 0.6
		v.env = dsp.NewDecay(b.sr, 1, 0.2)
	}
	return v
}

type drumVoice struct {
	sr         float64
	gain       float64
	tone       dsp.Osc
	toneLevel  float64
	sweepTo    float64
	sweepCoef  float64
	noise      dsp.Noise
	noiseLevel float64
	hp         dsp.OnePole
	lp         dsp.OnePole
	useLP      bool
	env        dsp.Decay
	attack     int
	n          int
}

func (v *drumVoice) Next() (float32, bool) {
	var s float64
	if v.toneLevel > 0 {
		s += v.tone.Next(v.sr, 1) * v.toneLevel
		if v.sweepCoef > 0 && v.tone.Freq > v.sweepTo {
			v.tone.Freq *= v.sweepCoef
		}
	}
	if v.noiseLevel > 0 {
		s += v.hp.HighPass(v.noise.Next()) * v.noiseLevel
	}
	if v.useLP {
		s = v.lp.LowPass(s)
	}
	var level float64
	if v.n < v.attack {
		level = float64(v.n) / float64(v.attack)
		v.n++
	} else {
		var ok bool
		if level, ok = v.env.Next(); !ok {
			return 0, false
		}
	}
	return float32(s * level * v.gain), true
}
