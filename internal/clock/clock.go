package clock

import "math"

const (
	MinBPM     = 60.0
	MaxBPM     = 200.0
	DefaultBPM = 120.0
)

// Source reports the audio hardware clock in seconds. ok is false until the
// output device is running.
type Source interface {
	Now() (seconds float64, ok bool)
}

// Frame is the result of one Tick.
type Frame struct {
	Beat      float64
	AudioTime float64
	BPM       float64
	Delta     float64
}

type BeatEvent struct {
	Beat      int
	AudioTime float64
}

type BarEvent struct {
	Bar       int
	Beat      int
	AudioTime float64
}

// anchor maps audio time to beats from Time onward until the next anchor.
type anchor struct {
	Time float64
	Beat float64
	BPM  float64
}

// Engine is the beat/audio-time mapping authority. Anchors may be placed in
// the future (loop wrap, tempo change at the look-ahead frontier); each one
// takes over the mapping once the audio clock reaches it.
type Engine struct {
	src       Source
	running   bool
	anchors   []anchor
	bpm       float64
	numerator int
	denom     int
	lastBeat  int
	lastTime  float64
	ticked    bool
	onBeat    []func(BeatEvent)
	onBar     []func(BarEvent)
}

func New(src Source) *Engine {
	e := &Engine{
		src:       src,
		bpm:       DefaultBPM,
		numerator: 4,
		denom:     4,
	}
	e.anchors = []anchor{{BPM: DefaultBPM}}
	e.lastBeat = -1
	return e
}

// ClampBPM limits bpm to [MinBPM, MaxBPM]. NaN maps to DefaultBPM.
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) {
		return DefaultBPM
	}
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

func (e *Engine) OnBeat(fn func(BeatEvent)) { e.onBeat = append(e.onBeat, fn) }
func (e *Engine) OnBar(fn func(BarEvent))   { e.onBar = append(e.onBar, fn) }

func (e *Engine) Running() bool { return e.running }
func (e *Engine) BPM() float64  { return e.bpm }

func (e *Engine) TimeSignature() (int, int) { return e.numerator, e.denom }

// SetTimeSignature sets the meter. The numerator is limited to 1..32 and the
// denominator is rounded to a power of two between 1 and 32.
func (e *Engine) SetTimeSignature(numerator, denominator int) {
	if numerator < 1 {
		numerator = 1
	}
	if numerator > 32 {
		numerator = 32
	}
	d := 1
	for d < denominator && d < 32 {
		d <<= 1
	}
	e.numerator = numerator
	e.denom = d
}

// Start anchors fromBeat at the current audio time. It returns false and
// leaves the engine stopped when no audio clock is available.
func (e *Engine) Start(fromBeat float64) bool {
	now, ok := e.src.Now()
	if !ok {
		return false
	}
	fromBeat = math.Max(0, fromBeat)
	e.anchors = []anchor{{Time: now, Beat: fromBeat, BPM: e.bpm}}
	e.running = true
	e.resetBoundary(fromBeat)
	e.lastTime = now
	e.ticked = false
	return true
}

// Stop freezes the position at the current beat.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	beat := e.Beat()
	e.running = false
	e.anchors = []anchor{{Beat: beat, BPM: e.bpm}}
}

// SetPosition moves to beat. A running engine re-anchors at the current audio time.
func (e *Engine) SetPosition(beat float64) {
	beat = math.Max(0, beat)
	if e.running {
		if now, ok := e.src.Now(); ok {
			e.anchors = []anchor{{Time: now, Beat: beat, BPM: e.bpm}}
			e.resetBoundary(beat)
			return
		}
	}
	e.anchors = []anchor{{Beat: beat, BPM: e.bpm}}
	e.resetBoundary(beat)
}

// Reanchor makes audioTime map to beat from then on, discarding anchors at or
// after audioTime.
func (e *Engine) Reanchor(audioTime, beat float64) {
	e.pushAnchor(anchor{Time: audioTime, Beat: math.Max(0, beat), BPM: e.bpm})
}

// SetBPM clamps bpm and re-anchors at the current position so the change only
// affects the slope from now on. It returns the applied value.
func (e *Engine) SetBPM(bpm float64) float64 {
	bpm = ClampBPM(bpm)
	if !e.running {
		e.bpm = bpm
		e.anchors[len(e.anchors)-1].BPM = bpm
		return bpm
	}
	now, ok := e.src.Now()
	if !ok {
		e.bpm = bpm
		e.anchors[len(e.anchors)-1].BPM = bpm
		return bpm
	}
	return e.SetBPMAt(now, bpm)
}

// SetBPMAt changes tempo starting at audioTime; beats before audioTime keep
// their existing mapping.
func (e *Engine) SetBPMAt(audioTime, bpm float64) float64 {
	bpm = ClampBPM(bpm)
	beat := e.latest().beatAt(audioTime)
	e.bpm = bpm
	e.pushAnchor(anchor{Time: audioTime, Beat: beat, BPM: bpm})
	return bpm
}

// BeatToAudioTime converts using the most recent anchor.
func (e *Engine) BeatToAudioTime(beat float64) float64 {
	a := e.latest()
	return a.Time + (beat-a.Beat)*60/a.BPM
}

// AudioTimeToBeat converts using the anchor in effect at t. The result is
// never negative.
func (e *Engine) AudioTimeToBeat(t float64) float64 {
	if !e.running {
		return e.anchors[0].Beat
	}
	return math.Max(0, e.anchorAt(t).beatAt(t))
}

// Beat is the position at the current audio time, or the frozen position
// when stopped.
func (e *Engine) Beat() float64 {
	if !e.running {
		return e.anchors[0].Beat
	}
	now, ok := e.src.Now()
	if !ok {
		return e.anchors[0].Beat
	}
	return e.AudioTimeToBeat(now)
}

// Pending reports whether the latest anchor starts after now.
func (e *Engine) Pending(now float64) bool {
	return e.running && e.latest().Time > now
}

// LatestAnchorBeat is the beat the most recent anchor starts at.
func (e *Engine) LatestAnchorBeat() float64 { return e.latest().Beat }

// Tick samples the audio clock, drops anchors that have been superseded and
// fires beat and bar boundary callbacks.
func (e *Engine) Tick() (Frame, bool) {
	if !e.running {
		return Frame{}, false
	}
	now, ok := e.src.Now()
	if !ok {
		return Frame{}, false
	}
	for len(e.anchors) > 1 && e.anchors[1].Time <= now {
		e.anchors = e.anchors[1:]
	}
	beat := e.AudioTimeToBeat(now)
	delta := 0.0
	if e.ticked {
		delta = now - e.lastTime
	}
	e.ticked = true
	e.lastTime = now

	whole := int(math.Floor(beat))
	if whole < e.lastBeat {
		// position jumped backwards (loop wrap)
		e.resetBoundary(e.anchors[0].Beat)
	}
	for e.lastBeat < whole {
		e.lastBeat++
		at := e.BeatToAudioTimeAt(now, float64(e.lastBeat))
		for _, fn := range e.onBeat {
			fn(BeatEvent{Beat: e.lastBeat, AudioTime: at})
		}
		if e.lastBeat%e.numerator == 0 {
			for _, fn := range e.onBar {
				fn(BarEvent{Bar: e.lastBeat / e.numerator, Beat: e.lastBeat, AudioTime: at})
			}
		}
	}
	return Frame{Beat: beat, AudioTime: now, BPM: e.anchorAt(now).BPM, Delta: delta}, true
}

// BeatToAudioTimeAt converts using the anchor in effect at audio time t.
func (e *Engine) BeatToAudioTimeAt(t, beat float64) float64 {
	a := e.anchorAt(t)
	return a.Time + (beat-a.Beat)*60/a.BPM
}

func (e *Engine) resetBoundary(beat float64) {
	e.lastBeat = int(math.Ceil(beat)) - 1
}

func (e *Engine) pushAnchor(a anchor) {
	i := len(e.anchors)
	for i > 1 && e.anchors[i-1].Time >= a.Time {
		i--
	}
	if i == 1 && e.anchors[0].Time >= a.Time {
		i = 0
	}
	e.anchors = append(e.anchors[:i], a)
}

func (e *Engine) latest() anchor { return e.anchors[len(e.anchors)-1] }

func (e *Engine) anchorAt(t float64) anchor {
	for i := len(e.anchors) - 1; i > 0; i-- {
		if e.anchors[i].Time <= t {
			return e.anchors[i]
		}
	}
	return e.anchors[0]
}

func (a anchor) beatAt(t float64) float64 {
	return a.Beat + (t-a.Time)*a.BPM/60
}
