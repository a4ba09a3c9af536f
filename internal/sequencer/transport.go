package sequencer

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/clipseq-go/internal/clock"
)

// Clock exposes the clock engine for beat/time conversion.
func (s *Scheduler) Clock() *clock.Engine { return s.clock }

func (s *Scheduler) State() State { return s.state }

func (s *Scheduler) Options() Options { return s.opts }

// Play starts the transport from the current position, or resumes from a
// pause. It fails with ErrNoClock while the audio output is not running.
func (s *Scheduler) Play() error {
	if s.state == Playing {
		return nil
	}
	now, ok := s.src.Now()
	if !ok {
		return ErrNoClock
	}
	from := s.clock.Beat()
	if s.loop.Enabled && (from >= s.loop.End || from < 0) {
		from = s.loop.Start
	}
	s.queue.Invalidate()
	s.manager.ResetEvents()
	s.metro.Reset()
	s.wrapPending = false
	if !s.clock.Start(from) {
		return ErrNoClock
	}
	s.now = now
	s.gridBeat = from
	s.scanFrom = from
	resumed := s.state == Paused
	s.state = Playing
	s.log.WithFields(logrus.Fields{"beat": from, "bpm": s.clock.BPM(), "resumed": resumed}).Info("transport started")
	s.emit(Event{Kind: EventStarted, Beat: from, AudioTime: now})
	s.Tick()
	return nil
}

// Resume continues a paused transport. It does nothing unless paused.
func (s *Scheduler) Resume() error {
	if s.state != Paused {
		return nil
	}
	return s.Play()
}

// Pause halts playback and keeps the position.
func (s *Scheduler) Pause() {
	if s.state != Playing {
		return
	}
	s.halt()
	s.state = Paused
	s.log.WithField("beat", s.clock.Beat()).Info("transport paused")
	s.emit(Event{Kind: EventPaused, Beat: s.clock.Beat(), AudioTime: s.now})
}

// Stop halts playback and returns to beat 0. Stopping a stopped transport
// only makes sure nothing is left sounding.
func (s *Scheduler) Stop() {
	was := s.state
	s.halt()
	s.clock.SetPosition(0)
	s.playhead = s.positionAt(0)
	s.state = Stopped
	if was != Stopped {
		s.log.Info("transport stopped")
		s.emit(Event{Kind: EventStopped, AudioTime: s.now})
	}
}

// halt cancels everything queued and cuts every voice now.
func (s *Scheduler) halt() {
	now := s.now
	if t, ok := s.src.Now(); ok {
		now = t
	}
	s.now = now
	s.clock.Stop()
	s.queue.Invalidate()
	s.forceStop(now)
	s.manager.ResetEvents()
	s.metro.Reset()
	s.wrapPending = false
}

// SetPosition moves the playhead to beat (clamped to >= 0). While playing,
// pending work is cancelled, voices are cut and scanning restarts there.
func (s *Scheduler) SetPosition(beat float64) {
	if math.IsNaN(beat) || beat < 0 {
		beat = 0
	}
	if s.state != Playing {
		s.clock.SetPosition(beat)
		s.playhead = s.positionAt(beat)
		return
	}
	s.seek(beat)
}

func (s *Scheduler) seek(beat float64) {
	if now, ok := s.src.Now(); ok {
		s.now = now
	}
	s.queue.Invalidate()
	s.forceStop(s.now)
	s.manager.ResetEvents()
	s.metro.Reset()
	s.wrapPending = false
	s.clock.SetPosition(beat)
	s.gridBeat = beat
	s.scanFrom = beat
	s.log.WithFields(logrus.Fields{"beat": beat, "epoch": s.queue.Epoch()}).Debug("seek")
	s.Tick()
}

// SetBPM clamps and applies a tempo. While playing the change takes effect
// at the scan frontier so work already queued keeps its timing.
func (s *Scheduler) SetBPM(bpm float64) float64 {
	if s.state != Playing {
		return s.clock.SetBPM(bpm)
	}
	if now, ok := s.src.Now(); ok {
		s.now = now
	}
	at := math.Max(s.now, s.clock.BeatToAudioTime(s.scanFrom))
	applied := s.clock.SetBPMAt(at, bpm)
	s.log.WithFields(logrus.Fields{"bpm": applied, "at": at}).Debug("tempo change")
	return applied
}

func (s *Scheduler) BPM() float64 { return s.clock.BPM() }

// SetLoop configures the loop region. start is clamped to >= 0 and end to at
// least one beat after start.
func (s *Scheduler) SetLoop(enabled bool, start, end float64) Loop {
	if math.IsNaN(start) || start < 0 {
		start = 0
	}
	if math.IsNaN(end) || end < start+1 {
		end = start + 1
	}
	prev := s.loop
	s.loop = Loop{Enabled: enabled, Start: start, End: end}
	if s.state != Playing || prev == s.loop {
		return s.loop
	}
	beat := s.clock.Beat()
	switch {
	case enabled && beat >= end:
		s.seek(start)
	case s.wrapPending:
		// a wrap for the old region is already queued
		s.seek(beat)
	}
	return s.loop
}

func (s *Scheduler) Loop() Loop { return s.loop }

// SetQuantization sets the grid to 1/q beat, q clamped to [1, 64].
func (s *Scheduler) SetQuantization(q int) int {
	if q < MinQuantization {
		q = MinQuantization
	}
	if q > MaxQuantization {
		q = MaxQuantization
	}
	s.quant = q
	return q
}

func (s *Scheduler) Quantization() int { return s.quant }

// SetSwing sets the swing amount, clamped to [0, 100].
func (s *Scheduler) SetSwing(amount float64) float64 {
	if math.IsNaN(amount) || amount < 0 {
		amount = 0
	}
	if amount > 100 {
		amount = 100
	}
	s.swing = amount
	return amount
}

func (s *Scheduler) Swing() float64 { return s.swing }

func (s *Scheduler) SetTimeSignature(numerator, denominator int) {
	s.clock.SetTimeSignature(numerator, denominator)
	n, _ := s.clock.TimeSignature()
	s.metro.SetNumerator(n)
}

func (s *Scheduler) SetMetronome(enabled bool) {
	s.metro.SetEnabled(enabled)
	if enabled {
		s.metro.Reset()
	}
}

func (s *Scheduler) MetronomeEnabled() bool { return s.metro.Enabled() }

func (s *Scheduler) SetMetronomeVolume(v float64) { s.metro.SetVolume(v) }

// StartClip activates a clip. While playing, the part of the clip between the
// playhead and the scan frontier is scheduled immediately. Starting an active
// clip does nothing.
func (s *Scheduler) StartClip(id string) error {
	if s.manager.IsClipActive(id) {
		return nil
	}
	if err := s.manager.StartClip(id); err != nil {
		return err
	}
	if s.state != Playing {
		return nil
	}
	now, ok := s.src.Now()
	if !ok {
		return nil
	}
	s.now = now
	beat := s.clock.AudioTimeToBeat(now)
	clear(s.skipped)
	if s.wrapPending {
		// the rest of this iteration belongs to the epoch the barrier retires
		preWrap := func(b float64) float64 { return s.clock.BeatToAudioTimeAt(now, b) }
		s.scanClip(id, beat, s.loop.End, preWrap, s.queue.Live())
		s.scanClip(id, s.loop.Start, s.scanFrom, s.clock.BeatToAudioTime, s.queue.Epoch())
	} else {
		s.scanClip(id, beat, s.scanFrom, s.clock.BeatToAudioTime, s.queue.Epoch())
	}
	s.queue.RunDue(now + s.opts.Lead.Seconds())
	return nil
}

func (s *Scheduler) scanClip(id string, from, to float64, timeOf func(float64) float64, epoch uint64) {
	if to <= from {
		return
	}
	for _, o := range s.manager.ScanClip(id, from, to, epoch) {
		s.schedule(o, timeOf, epoch)
	}
}

// StopClip deactivates a clip, cuts its sounding notes and cancels its queued
// tasks. Stopping an inactive clip does nothing.
func (s *Scheduler) StopClip(id string) {
	at := s.now
	if now, ok := s.src.Now(); ok {
		at = now
	}
	released := s.manager.StopClip(id, at)
	cancelled := s.queue.Cancel(id)
	for _, pn := range released {
		s.note(s.offEvent(pn, at))
	}
	if len(released) > 0 || cancelled > 0 {
		s.log.WithFields(logrus.Fields{"clip": id, "released": len(released), "cancelled": cancelled}).Debug("clip stopped")
	}
}

func (s *Scheduler) IsClipPlaying(id string) bool { return s.manager.IsClipActive(id) }

func (s *Scheduler) ActiveClips() []string { return s.manager.ActiveClips() }

func (s *Scheduler) ActiveNoteCount() int { return s.manager.ActiveNoteCount() }

// CurrentTime is the playhead in beats.
func (s *Scheduler) CurrentTime() float64 { return s.clock.Beat() }

// QuantizePosition snaps beat to the nearest grid line.
func (s *Scheduler) QuantizePosition(beat float64) float64 {
	sub := s.subdivision()
	return math.Round(beat/sub) * sub
}

// Snapshot is a copy of the transport state.
type Snapshot struct {
	State         State
	Beat          float64
	Position      Playhead
	BPM           float64
	TimeSignature [2]int
	Quantization  int
	Swing         float64
	Loop          Loop
	Metronome     bool
	ActiveClips   []string
	ActiveNotes   int
	Voices        int
	Epoch         uint64
	Pending       int
	Dropped       int
}

func (s *Scheduler) Snapshot() Snapshot {
	beat := s.clock.Beat()
	num, den := s.clock.TimeSignature()
	return Snapshot{
		State:         s.state,
		Beat:          beat,
		Position:      s.positionAt(beat),
		BPM:           s.clock.BPM(),
		TimeSignature: [2]int{num, den},
		Quantization:  s.quant,
		Swing:         s.swing,
		Loop:          s.loop,
		Metronome:     s.metro.Enabled(),
		ActiveClips:   s.manager.ActiveClips(),
		ActiveNotes:   s.manager.ActiveNoteCount(),
		Voices:        s.pool.ActiveVoiceCount(),
		Epoch:         s.queue.Epoch(),
		Pending:       s.queue.Len(),
		Dropped:       s.queue.Dropped(),
	}
}
