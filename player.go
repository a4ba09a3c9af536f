package clipseq

import (
	"errors"
	"sync"
	"time"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/capture"
	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/sequencer"
	"github.com/cbegin/clipseq-go/internal/voice"
)

var ErrClosed = errors.New("player closed")

type EventKind = sequencer.EventKind

const (
	EventStarted     = sequencer.EventStarted
	EventStopped     = sequencer.EventStopped
	EventPaused      = sequencer.EventPaused
	EventBeat        = sequencer.EventBeat
	EventBar         = sequencer.EventBar
	EventLoopWrapped = sequencer.EventLoopWrapped
	EventClick       = sequencer.EventClick
	// EventNote carries a note start or stop in PlaybackEvent.Note.
	EventNote EventKind = sequencer.EventClick + 1
)

// PlaybackEvent is delivered on the channel returned by Watch.
type PlaybackEvent struct {
	Kind      EventKind
	Beat      float64
	Bar       int
	Downbeat  bool
	AudioTime float64
	Note      sequencer.NoteEvent
}

type (
	Snapshot = sequencer.Snapshot
	Playhead = sequencer.Playhead
	Loop     = sequencer.Loop
)

// Player plays a project on the default audio device. All methods are safe
// for concurrent use; they run on the player's own goroutine, which also
// drives the scheduler every configured interval.
type Player struct {
	e     *engine
	out   *audio.Player
	calls chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	pc := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&pc)
	}
	if pc.cfg.Audio.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	p := &Player{
		calls: make(chan func()),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.e = newEngine(pc, p.onEvent, p.onNote)
	go p.run(p.e.sched.Options().Interval)
	return p, nil
}

func (p *Player) run(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case fn := <-p.calls:
			fn()
		case <-ticker.C:
			p.e.sched.Tick()
		}
	}
}

// do runs fn on the player goroutine and waits for it.
func (p *Player) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case p.calls <- func() { fn(); close(finished) }:
	case <-p.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// Open starts the audio output. Until it is open the audio clock is not
// running and Play fails with sequencer.ErrNoClock.
func (p *Player) Open() error {
	var err error
	if cerr := p.do(func() {
		if p.out != nil {
			return
		}
		var out *audio.Player
		out, err = audio.NewPlayer(p.e.graph, p.e.cfg.Audio.Buffer)
		if err != nil {
			return
		}
		out.Play()
		p.out = out
		p.e.log.WithField("sampleRate", p.e.graph.SampleRate()).Info("audio output open")
	}); cerr != nil {
		return cerr
	}
	return err
}

// Close stops playback, releases every instrument and the audio output.
// The player cannot be used afterwards.
func (p *Player) Close() error {
	var err error
	p.once.Do(func() {
		_ = p.do(func() {
			p.e.sched.Stop()
			p.e.pool.Dispose()
			if p.out != nil {
				err = p.out.Close()
				p.out = nil
			}
		})
		close(p.quit)
		<-p.done
		p.eventChMu.Lock()
		if p.eventCh != nil {
			close(p.eventCh)
			p.eventCh = nil
		}
		p.eventChMu.Unlock()
	})
	return err
}

// LoadProject stops the transport and replaces the current project.
func (p *Player) LoadProject(proj *project.Project) error {
	var err error
	if cerr := p.do(func() { err = p.e.load(proj) }); cerr != nil {
		return cerr
	}
	return err
}

// Store is the clip store being played. Edits take effect on the next pass.
func (p *Player) Store() *project.MemStore { return p.e.store }

// Recorder is the capture recorder installed with WithCapture, or nil.
func (p *Player) Recorder() *capture.Recorder { return p.e.recorder }

// Instruments lists the instrument definitions tracks can use.
func (p *Player) Instruments() []voice.Definition {
	var defs []voice.Definition
	_ = p.do(func() { defs = p.e.pool.Factory().Registry().Definitions() })
	return defs
}

func (p *Player) Play() error {
	var err error
	if cerr := p.do(func() { err = p.e.sched.Play() }); cerr != nil {
		return cerr
	}
	return err
}

func (p *Player) Resume() error {
	var err error
	if cerr := p.do(func() { err = p.e.sched.Resume() }); cerr != nil {
		return cerr
	}
	return err
}

func (p *Player) Pause() { _ = p.do(p.e.sched.Pause) }

func (p *Player) Stop() { _ = p.do(p.e.sched.Stop) }

func (p *Player) SetPosition(beat float64) {
	_ = p.do(func() { p.e.sched.SetPosition(beat) })
}

// SetBPM applies a tempo and returns the clamped value.
func (p *Player) SetBPM(bpm float64) float64 {
	var got float64
	_ = p.do(func() { got = p.e.sched.SetBPM(bpm) })
	return got
}

func (p *Player) SetLoop(enabled bool, start, end float64) Loop {
	var got Loop
	_ = p.do(func() { got = p.e.sched.SetLoop(enabled, start, end) })
	return got
}

func (p *Player) SetQuantization(q int) int {
	var got int
	_ = p.do(func() { got = p.e.sched.SetQuantization(q) })
	return got
}

func (p *Player) SetSwing(amount float64) float64 {
	var got float64
	_ = p.do(func() { got = p.e.sched.SetSwing(amount) })
	return got
}

func (p *Player) SetTimeSignature(numerator, denominator int) {
	_ = p.do(func() { p.e.sched.SetTimeSignature(numerator, denominator) })
}

func (p *Player) SetMetronome(enabled bool) {
	_ = p.do(func() { p.e.sched.SetMetronome(enabled) })
}

func (p *Player) SetMetronomeVolume(v float64) {
	_ = p.do(func() { p.e.sched.SetMetronomeVolume(v) })
}

func (p *Player) StartClip(id string) error {
	var err error
	if cerr := p.do(func() { err = p.e.sched.StartClip(id) }); cerr != nil {
		return cerr
	}
	return err
}

func (p *Player) StopClip(id string) {
	_ = p.do(func() { p.e.sched.StopClip(id) })
}

func (p *Player) IsClipPlaying(id string) bool {
	var got bool
	_ = p.do(func() { got = p.e.sched.IsClipPlaying(id) })
	return got
}

// SetParameter sets an instrument parameter on the instrument of trackID and
// returns the clamped value.
func (p *Player) SetParameter(trackID, name string, value float64) (float64, error) {
	var (
		got float64
		err error
	)
	if cerr := p.do(func() { got, err = p.e.setParameter(trackID, name, value) }); cerr != nil {
		return 0, cerr
	}
	return got, err
}

func (p *Player) QuantizePosition(beat float64) float64 {
	var got float64
	_ = p.do(func() { got = p.e.sched.QuantizePosition(beat) })
	return got
}

func (p *Player) PlayheadPosition() Playhead {
	var got Playhead
	_ = p.do(func() { got = p.e.sched.PlayheadPosition() })
	return got
}

// Snapshot returns a copy of the transport state.
func (p *Player) Snapshot() Snapshot {
	var got Snapshot
	_ = p.do(func() { got = p.e.sched.Snapshot() })
	return got
}

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	p.e.graph.SetMasterGain(float32(volume))
}

func (p *Player) MasterVolume() float64 {
	return float64(p.e.graph.MasterGain())
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band frequencies: 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
// This takes effect immediately on the audio thread (lock-free).
func (p *Player) SetEQBand(band int, gain float32) {
	p.e.masterEQ.SetGain(band, gain)
}

// EQBand returns the current gain for a master EQ band (0-4).
func (p *Player) EQBand(band int) float32 {
	return p.e.masterEQ.Gain(band)
}

// Latency is how far rendering runs ahead of the listener. Zero while closed.
func (p *Player) Latency() time.Duration {
	var got time.Duration
	_ = p.do(func() {
		if p.out != nil {
			got = p.out.Latency()
		}
	})
	return got
}

// Watch returns a channel that receives transport and note events.
//
// The channel is buffered (cap 64); events are dropped while it is full, so
// receive in a goroutine. Only the most recent Watch() channel receives
// events. It is closed by Close.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 64)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

func (p *Player) onEvent(ev sequencer.Event) {
	p.sendEvent(PlaybackEvent{Kind: ev.Kind, Beat: ev.Beat, Bar: ev.Bar, Downbeat: ev.Downbeat, AudioTime: ev.AudioTime})
}

func (p *Player) onNote(ev sequencer.NoteEvent) {
	p.sendEvent(PlaybackEvent{Kind: EventNote, AudioTime: ev.AudioTime, Note: ev})
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	defer p.eventChMu.Unlock()
	if p.eventCh == nil {
		return
	}
	select {
	case p.eventCh <- ev:
	default:
		// full; drop
	}
}
