// Package dsp contains the per-sample building blocks voices are made of.
package dsp

import "math"

const twoPi = 2 * math.Pi

// Waveform selects an oscillator shape. Values match the instrument
// "waveform" parameters.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Saw
	Triangle
)

// WaveformFromParam rounds a continuous parameter value to a Waveform.
func WaveformFromParam(v float64) Waveform {
	w := Waveform(math.Round(v))
	if w < Sine || w > Triangle {
		return Sine
	}
	return w
}

// Osc is a naive phase-accumulating oscillator. Phase is kept in [0,1).
type Osc struct {
	Wave  Waveform
	Freq  float64
	phase float64
}

// Next returns the current sample and advances the phase by one sample,
// scaled by freqMul (1 for no modulation).
func (o *Osc) Next(sampleRate, freqMul float64) float64 {
	s := Shape(o.Wave, o.phase)
	o.phase += o.Freq * freqMul / sampleRate
	o.phase -= math.Floor(o.phase)
	return s
}

// Shape evaluates waveform w at phase p in [0,1).
func Shape(w Waveform, p float64) float64 {
	switch w {
	case Square:
		if p < 0.5 {
			return 1
		}
		return -1
	case Saw:
		return 2*p - 1
	case Triangle:
		if p < 0.5 {
			return 4*p - 1
		}
		return 3 - 4*p
	default:
		return math.Sin(twoPi * p)
	}
}

// MIDIToFreq converts a MIDI note number to Hz (A4 = 69 = 440 Hz).
func MIDIToFreq(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// Cents returns the frequency ratio for a detune in cents.
func Cents(c float64) float64 {
	return math.Pow(2, c/1200)
}
