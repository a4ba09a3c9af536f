package sequencer

import "math"

// PPQ is the tick resolution of Playhead.Tick.
const PPQ = 960

// Playhead is a beat broken down for display.
type Playhead struct {
	Beat      float64
	Bar       int // 0-based
	BeatInBar int
	Sixteenth int // 0..3 within the beat
	Tick      int // 0..PPQ-1 within the beat
}

func (s *Scheduler) positionAt(beat float64) Playhead {
	if beat < 0 || math.IsNaN(beat) {
		beat = 0
	}
	num, _ := s.clock.TimeSignature()
	whole := math.Floor(beat)
	frac := beat - whole
	b := int(whole)
	return Playhead{
		Beat:      beat,
		Bar:       b / num,
		BeatInBar: b % num,
		Sixteenth: int(frac * 4),
		Tick:      int(frac * PPQ),
	}
}

// PlayheadPosition is the playhead as of the last pass, or the current
// position when not playing.
func (s *Scheduler) PlayheadPosition() Playhead {
	if s.state != Playing {
		return s.positionAt(s.clock.Beat())
	}
	return s.playhead
}
