// Package metronome decides which beats click and renders the click sound.
package metronome

import (
	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/dsp"
	"github.com/cbegin/clipseq-go/internal/effects"
)

const (
	downbeatHz   = 1200.0
	beatHz       = 800.0
	clickSeconds = 0.05
)

// Click is one metronome tick.
type Click struct {
	Beat     int
	Downbeat bool
}

// Sink is where clicks are rendered.
type Sink interface {
	SampleRate() int
	AddBus(name string, gain float32, fx ...effects.Effector) audio.BusID
	SetBusGain(id audio.BusID, gain float32)
	Start(bus audio.BusID, gen audio.Generator, at float64) audio.VoiceID
}

// Metronome clicks at most once per integer beat. Its state is owned by the
// scheduling goroutine.
type Metronome struct {
	sink      Sink
	bus       audio.BusID
	enabled   bool
	volume    float64
	numerator int
	last      int
	fresh     bool
}

// New creates a disabled metronome with its own bus on sink. sink may be nil,
// in which case Dispatch does nothing.
func New(sink Sink, volume float64) *Metronome {
	m := &Metronome{sink: sink, numerator: 4, fresh: true}
	m.volume = clampVolume(volume)
	if sink != nil {
		m.bus = sink.AddBus("metronome", float32(m.volume))
	}
	return m
}

func clampVolume(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (m *Metronome) Enabled() bool { return m.enabled }

func (m *Metronome) SetEnabled(on bool) { m.enabled = on }

func (m *Metronome) Volume() float64 { return m.volume }

func (m *Metronome) SetVolume(v float64) {
	m.volume = clampVolume(v)
	if m.sink != nil {
		m.sink.SetBusGain(m.bus, float32(m.volume))
	}
}

// SetNumerator sets the beats per bar used for downbeats.
func (m *Metronome) SetNumerator(n int) {
	if n < 1 {
		n = 1
	}
	m.numerator = n
}

// Decide reports the click for beat, or false when the metronome is off, the
// beat is negative or the beat is not after the last one clicked.
func (m *Metronome) Decide(beat int) (Click, bool) {
	if !m.enabled || beat < 0 {
		return Click{}, false
	}
	if !m.fresh && beat <= m.last {
		return Click{}, false
	}
	m.fresh = false
	m.last = beat
	return Click{Beat: beat, Downbeat: beat%m.numerator == 0}, true
}

// Reset forgets the last beat so the next Decide may click an earlier beat.
// Called after seeks and loop wraps.
func (m *Metronome) Reset() {
	m.fresh = true
	m.last = 0
}

// Dispatch renders c on the sink at audio time at.
func (m *Metronome) Dispatch(c Click, at float64) {
	if m.sink == nil {
		return
	}
	m.sink.Start(m.bus, newClickVoice(float64(m.sink.SampleRate()), c.Downbeat), at)
}

type clickVoice struct {
	osc dsp.Osc
	env dsp.Decay
	sr  float64
	n   int
	len int
}

func newClickVoice(sr float64, downbeat bool) *clickVoice {
	hz := beatHz
	if downbeat {
		hz = downbeatHz
	}
	return &clickVoice{
		osc: dsp.Osc{Wave: dsp.Sine, Freq: hz},
		env: dsp.NewDecay(sr, 0.6, clickSeconds),
		sr:  sr,
		len: int(clickSeconds * sr),
	}
}

func (v *clickVoice) Next() (float32, bool) {
	if v.n >= v.len {
		return 0, false
	}
	v.n++
	level, _ := v.env.Next()
	return float32(v.osc.Next(v.sr, 1) * level), true
}
