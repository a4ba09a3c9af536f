// Package sequencer is the look-ahead scheduler. Each pass it scans a short
// window ahead of the audio clock on a quantization grid, turns the clip
// notes found there into due-time tasks, and releases the tasks that are
// about to sound to the voice pool. Loop wraps, seeks and stops are ordered
// against those tasks with logical epochs so nothing fires after it has been
// cancelled and no voice outlives a stop.
package sequencer

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/clipseq-go/internal/clock"
	"github.com/cbegin/clipseq-go/internal/metronome"
	"github.com/cbegin/clipseq-go/internal/playback"
	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/taskq"
	"github.com/cbegin/clipseq-go/internal/voice"
)

var ErrNoClock = errors.New("audio clock unavailable")

const (
	MinQuantization     = 1
	MaxQuantization     = 64
	DefaultQuantization = 16
	// gridEpsilon absorbs float error when testing grid positions.
	gridEpsilon = 1e-6
)

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "stopped"
}

// EventKind identifies scheduler lifecycle events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventPaused
	EventBeat
	EventBar
	EventLoopWrapped
	EventClick
)

// Event is delivered through Options.OnEvent.
type Event struct {
	Kind      EventKind
	Beat      float64
	Bar       int
	Downbeat  bool
	AudioTime float64
}

// NoteEvent reports a note start or stop as it is handed to a voice.
type NoteEvent struct {
	ClipID     string
	TrackID    string
	NoteID     string
	Instrument voice.Type
	Pitch      uint8
	Velocity   uint8
	On         bool
	AudioTime  float64
}

// Loop is the transport loop region in beats.
type Loop struct {
	Enabled bool
	Start   float64
	End     float64
}

type Options struct {
	// Interval is how often the owner calls Tick.
	Interval time.Duration
	// Horizon is how far ahead of the audio clock the grid is scanned.
	Horizon time.Duration
	// Lead is how far ahead of their due time tasks are handed to voices.
	Lead time.Duration
	// StaleAfter is how long scheduled-event records are kept.
	StaleAfter time.Duration
	Logger     logrus.FieldLogger
	OnEvent    func(Event)
	OnNote     func(NoteEvent)
}

func (o *Options) fill() {
	if o.Interval <= 0 {
		o.Interval = 20 * time.Millisecond
	}
	if o.Horizon <= 0 {
		o.Horizon = 100 * time.Millisecond
	}
	if o.Lead <= 0 {
		o.Lead = 50 * time.Millisecond
	}
	if o.Lead > o.Horizon {
		o.Lead = o.Horizon
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Scheduler owns the playback state. It is not safe for concurrent use: one
// goroutine calls Tick and every other method.
type Scheduler struct {
	clock   *clock.Engine
	src     clock.Source
	queue   *taskq.Queue
	manager *playback.Manager
	pool    *voice.Pool
	store   project.Store
	metro   *metronome.Metronome
	log     logrus.FieldLogger
	opts    Options

	state       State
	quant       int
	swing       float64
	loop        Loop
	gridBeat    float64
	scanFrom    float64
	now         float64
	wrapPending bool
	playhead    Playhead
	skipped     map[string]bool
	wraps       int
}

// New builds a scheduler reading clips from store and playing them on pool.
// metro may be nil.
func New(src clock.Source, store project.Store, pool *voice.Pool, metro *metronome.Metronome, opts Options) *Scheduler {
	opts.fill()
	if metro == nil {
		metro = metronome.New(nil, 0)
	}
	s := &Scheduler{
		clock:   clock.New(src),
		src:     src,
		queue:   taskq.New(),
		manager: playback.NewManager(store, opts.Logger),
		pool:    pool,
		store:   store,
		metro:   metro,
		log:     opts.Logger,
		opts:    opts,
		quant:   DefaultQuantization,
		loop:    Loop{Start: 0, End: 4},
		skipped: make(map[string]bool),
	}
	s.manager.SetStaleAfter(opts.StaleAfter.Seconds())
	s.clock.OnBeat(func(ev clock.BeatEvent) {
		s.emit(Event{Kind: EventBeat, Beat: float64(ev.Beat), AudioTime: ev.AudioTime})
	})
	s.clock.OnBar(func(ev clock.BarEvent) {
		s.emit(Event{Kind: EventBar, Beat: float64(ev.Beat), Bar: ev.Bar, AudioTime: ev.AudioTime})
	})
	return s
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick() {
	if s.state != Playing {
		return
	}
	frame, ok := s.clock.Tick()
	if !ok {
		s.log.Debug("no audio clock, skipping pass")
		return
	}
	s.now = frame.AudioTime
	s.playhead = s.positionAt(frame.Beat)
	s.manager.BeginPass()
	defer s.manager.EndPass()
	horizon := s.opts.Horizon.Seconds()
	lead := s.opts.Lead.Seconds()

	if t := s.clock.BeatToAudioTime(s.gridBeat); t < s.now-lead {
		s.catchUp(t)
	}
	clear(s.skipped)
	for s.clock.BeatToAudioTime(s.gridBeat) < s.now+horizon {
		s.processGrid()
	}
	s.queue.RunDue(s.now + lead)
	s.releaseUnreachable()
	s.manager.Purge(s.now)
}

// catchUp moves the grid to the current beat after a stall long enough that
// the scan frontier fell behind the audio clock.
func (s *Scheduler) catchUp(gridTime float64) {
	beat := s.clock.AudioTimeToBeat(s.now)
	sub := s.subdivision()
	g := math.Ceil(beat/sub-gridEpsilon) * sub
	s.log.WithFields(logrus.Fields{
		"behind": s.now - gridTime,
		"from":   s.gridBeat,
		"to":     g,
	}).Warn("scheduler stalled, skipping ahead")
	s.gridBeat = g
	if s.scanFrom < g {
		s.scanFrom = g
	}
}

func (s *Scheduler) processGrid() {
	sub := s.subdivision()
	g := s.gridBeat
	if s.loop.Enabled && g >= s.loop.End-gridEpsilon {
		s.wrap(g)
		return
	}
	to := g + sub
	if s.loop.Enabled && to > s.loop.End {
		to = s.loop.End
	}
	if to > s.scanFrom {
		s.scan(s.scanFrom, to, s.clock.BeatToAudioTime)
		s.scanFrom = to
	}
	s.gridBeat = g + sub
}

// wrap schedules the jump from loop end back to loop start. The clock takes
// the new anchor at the wrap time, and a barrier task at that time cuts every
// voice and retires everything queued in the old epoch.
func (s *Scheduler) wrap(g float64) {
	length := s.loop.End - s.loop.Start
	at := s.clock.BeatToAudioTime(s.loop.End)
	next := s.loop.Start + math.Mod(math.Max(0, g-s.loop.End), length)
	if at < s.now {
		// loop end moved behind the playhead
		at = s.now
		next = s.loop.Start
	}
	s.clock.Reanchor(at, s.loop.Start)
	s.wrapPending = true
	s.wraps++
	iteration := s.wraps
	s.queue.Advance(at, func(due float64) {
		s.wrapPending = false
		s.manager.Retire(s.queue.Live())
		s.forceStop(due)
		s.log.WithFields(logrus.Fields{"at": due, "iteration": iteration, "epoch": s.queue.Live()}).Debug("loop wrapped")
		s.emit(Event{Kind: EventLoopWrapped, Beat: s.loop.Start, AudioTime: due})
	})
	s.metro.Reset()
	s.scanFrom = s.loop.Start
	s.gridBeat = next
}

// scan schedules every new occurrence and metronome click in [from, to).
// timeOf converts beats to audio time for the region being scanned.
func (s *Scheduler) scan(from, to float64, timeOf func(float64) float64) {
	epoch := s.queue.Epoch()
	for _, o := range s.manager.Scan(from, to, epoch) {
		s.schedule(o, timeOf, epoch)
	}
	if !s.metro.Enabled() {
		return
	}
	for b := math.Ceil(from - gridEpsilon); b < to; b++ {
		c, ok := s.metro.Decide(int(b))
		if !ok {
			continue
		}
		at := timeOf(b)
		s.queue.Schedule(at, taskq.PriorityClick, "", func(due float64) {
			s.metro.Dispatch(c, due)
			s.emit(Event{Kind: EventClick, Beat: float64(c.Beat), Downbeat: c.Downbeat, AudioTime: due})
		})
	}
}

// schedule queues o and claims it in epoch, the epoch of the loop iteration
// the occurrence belongs to.
func (s *Scheduler) schedule(o playback.Occurrence, timeOf func(float64) float64, epoch uint64) {
	if s.skipped[o.ClipID] {
		return
	}
	inst, err := s.instrumentFor(o.TrackID)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"clip": o.ClipID, "track": o.TrackID}).Warn("skipping clip this pass")
		s.skipped[o.ClipID] = true
		return
	}
	at := timeOf(o.Beat) + s.swingOffset(o.Beat)
	if o.Kind == playback.NoteStop {
		start := timeOf(o.NoteBeat) + s.swingOffset(o.NoteBeat)
		if at < start {
			at = start
		}
	}
	if !s.manager.Claim(o, at, epoch) {
		return
	}
	n := o.Note
	ev := NoteEvent{ClipID: o.ClipID, TrackID: o.TrackID, NoteID: n.ID, Instrument: inst.Type(), Pitch: n.Pitch, Velocity: n.Velocity}
	switch o.Kind {
	case playback.NoteStart:
		s.queue.Schedule(at, taskq.PriorityStart, o.ClipID, func(due float64) {
			h := inst.Play(voice.Note{Pitch: n.Pitch, Velocity: n.Velocity}, due)
			if !h.Valid() {
				return
			}
			s.manager.Begin(playback.PlayingNote{
				ClipID:     o.ClipID,
				NoteID:     n.ID,
				Pitch:      n.Pitch,
				Instrument: inst,
				Handle:     h,
				Beat:       o.Beat,
				Start:      due,
			})
			ev.On = true
			ev.AudioTime = due
			s.note(ev)
		})
	case playback.NoteStop:
		s.queue.Schedule(at, taskq.PriorityStop, o.ClipID, func(due float64) {
			pn, ok := s.manager.End(o.ClipID, n.ID, due)
			if !ok {
				return
			}
			ev.AudioTime = pn.End
			s.note(ev)
		})
	}
}

func (s *Scheduler) instrumentFor(trackID string) (*voice.Instrument, error) {
	t, ok := s.store.Track(trackID)
	if !ok {
		return nil, project.ErrUnknownTrack
	}
	if inst, ok := s.pool.Lookup(t.InstrumentID, t.ID); ok {
		return inst, nil
	}
	inst, err := s.pool.Acquire(t.InstrumentID, t.ID)
	if err != nil {
		return nil, err
	}
	if t.Volume > 0 {
		if _, err := inst.SetParameter("volume", t.Volume); err != nil {
			s.log.WithError(err).WithField("track", t.ID).Debug("track volume not applied")
		}
	}
	return inst, nil
}

// swingOffset delays notes on odd grid positions.
func (s *Scheduler) swingOffset(beat float64) float64 {
	if s.swing == 0 {
		return 0
	}
	sub := s.subdivision()
	pos := beat / sub
	idx := math.Round(pos)
	if math.Abs(pos-idx) > gridEpsilon || int64(idx)%2 == 0 {
		return 0
	}
	beats := s.swing / 100 * sub * 0.1
	return beats * 60 / s.clock.BPM()
}

// releaseUnreachable stops notes whose stop task will never be queued
// because the clip, track or note changed after the note started.
func (s *Scheduler) releaseUnreachable() {
	ended := func(stop float64) bool {
		return s.clock.BeatToAudioTimeAt(s.now, stop)+s.swingOffset(stop) <= s.now
	}
	released := s.manager.Unreachable(s.now, ended)
	for _, pn := range released {
		s.note(s.offEvent(pn, pn.End))
	}
	if len(released) > 0 {
		s.log.WithField("notes", len(released)).Debug("released notes without a stop")
	}
}

// forceStop cuts every voice at audio time at and forgets playing notes.
func (s *Scheduler) forceStop(at float64) {
	s.pool.StopAll(at)
	for _, pn := range s.manager.Drain() {
		s.note(s.offEvent(pn, at))
	}
}

// offEvent describes the cut of a playing note at audio time at.
func (s *Scheduler) offEvent(pn playback.PlayingNote, at float64) NoteEvent {
	ev := NoteEvent{ClipID: pn.ClipID, NoteID: pn.NoteID, Pitch: pn.Pitch, AudioTime: math.Max(at, pn.Start)}
	if c, ok := s.store.Clip(pn.ClipID); ok {
		ev.TrackID = c.TrackID
	}
	if inst, ok := pn.Instrument.(*voice.Instrument); ok {
		ev.Instrument = inst.Type()
	}
	return ev
}

func (s *Scheduler) subdivision() float64 { return 1 / float64(s.quant) }

func (s *Scheduler) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

func (s *Scheduler) note(ev NoteEvent) {
	if s.opts.OnNote != nil {
		s.opts.OnNote(ev)
	}
}
