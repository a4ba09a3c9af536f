// Package clipseq plays clip-based projects in real time. A Player owns the
// audio graph, the voice pool and the look-ahead scheduler, and serializes
// every call onto one goroutine that also drives the scheduling passes.
package clipseq

import (
	"github.com/sirupsen/logrus"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/capture"
	"github.com/cbegin/clipseq-go/internal/config"
	intfx "github.com/cbegin/clipseq-go/internal/effects"
	"github.com/cbegin/clipseq-go/internal/metronome"
	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/sequencer"
	"github.com/cbegin/clipseq-go/internal/voice"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	cfg       *config.Config
	log       logrus.FieldLogger
	store     *project.MemStore
	registry  *voice.Registry
	recorder  *capture.Recorder
	sampleTap func([]float32)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{cfg: config.Default()}
}

// WithConfig replaces the default configuration. cfg is validated.
func WithConfig(cfg *config.Config) PlayerOption {
	return func(pc *playerConfig) {
		if cfg != nil {
			cfg.Validate()
			pc.cfg = cfg
		}
	}
}

func WithLogger(log logrus.FieldLogger) PlayerOption {
	return func(pc *playerConfig) { pc.log = log }
}

// WithStore plays clips from store instead of a fresh in-memory one.
func WithStore(store *project.MemStore) PlayerOption {
	return func(pc *playerConfig) { pc.store = store }
}

// WithRegistry resolves instruments from r instead of the built-in set.
func WithRegistry(r *voice.Registry) PlayerOption {
	return func(pc *playerConfig) { pc.registry = r }
}

// WithCapture records every dispatched note into rec.
func WithCapture(rec *capture.Recorder) PlayerOption {
	return func(pc *playerConfig) { pc.recorder = rec }
}

// WithSampleTap installs a callback invoked with each rendered stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(pc *playerConfig) { pc.sampleTap = tap }
}

// engine is the object graph behind Player. Tests drive it block by block
// against the graph's frame clock without an output device. Only graph is
// safe to touch from more than one goroutine.
type engine struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	graph    *audio.Graph
	masterEQ *intfx.EQ5Band
	store    *project.MemStore
	pool     *voice.Pool
	metro    *metronome.Metronome
	sched    *sequencer.Scheduler
	recorder *capture.Recorder
}

func newEngine(pc playerConfig, onEvent func(sequencer.Event), onNote func(sequencer.NoteEvent)) *engine {
	cfg := pc.cfg
	log := pc.log
	if log == nil {
		l := logrus.New()
		l.SetLevel(cfg.Level())
		log = l
	}
	store := pc.store
	if store == nil {
		store = project.NewMemStore()
	}
	registry := pc.registry
	if registry == nil {
		registry = voice.DefaultRegistry()
	}
	sr := cfg.Audio.SampleRate
	eq := intfx.NewEQ5Band(sr)
	graph := audio.NewGraph(sr,
		intfx.NewCompressor(sr, -10, 3, 0.005, 0.12, 2),
		eq,
	)
	graph.SetMasterGain(float32(cfg.Audio.MasterGain))
	if pc.sampleTap != nil {
		graph.SetTap(pc.sampleTap)
	}
	e := &engine{
		cfg:      cfg,
		log:      log,
		graph:    graph,
		masterEQ: eq,
		store:    store,
		pool:     voice.NewPool(voice.NewFactory(registry, graph, log)),
		metro:    metronome.New(graph, cfg.Metronome.Volume),
		recorder: pc.recorder,
	}
	e.sched = sequencer.New(graph, store, e.pool, e.metro, sequencer.Options{
		Interval:   cfg.Scheduler.Interval,
		Horizon:    cfg.Scheduler.Horizon,
		Lead:       cfg.Scheduler.Lead,
		StaleAfter: cfg.Scheduler.StaleAfter,
		Logger:     log,
		OnEvent:    onEvent,
		OnNote: func(ev sequencer.NoteEvent) {
			if e.recorder != nil {
				e.recorder.Record(capture.NoteEvent{
					Track:     ev.TrackID,
					Drum:      ev.Instrument == voice.TypeDrum,
					Pitch:     ev.Pitch,
					Velocity:  ev.Velocity,
					On:        ev.On,
					AudioTime: ev.AudioTime,
				})
			}
			if onNote != nil {
				onNote(ev)
			}
		},
	})
	e.applyTransport(cfg.Transport)
	e.sched.SetMetronome(cfg.Metronome.Enabled)
	return e
}

func (e *engine) applyTransport(t config.Transport) {
	e.sched.SetBPM(t.BPM)
	e.sched.SetQuantization(t.Quantization)
	e.sched.SetSwing(t.Swing)
	e.sched.SetTimeSignature(t.TimeSignature[0], t.TimeSignature[1])
}

// load stops the transport, replaces the project and activates its clips.
// Clips marked active start with the transport; a project marking none gets
// every clip that has notes.
func (e *engine) load(p *project.Project) error {
	e.sched.Stop()
	for _, id := range e.sched.ActiveClips() {
		e.sched.StopClip(id)
	}
	for _, c := range e.store.Clips() {
		e.store.DeleteClip(c.ID)
	}
	if err := p.Populate(e.store); err != nil {
		return err
	}
	t := p.Transport
	if t.BPM > 0 {
		e.sched.SetBPM(t.BPM)
	}
	if t.Quantization > 0 {
		e.sched.SetQuantization(t.Quantization)
	}
	e.sched.SetSwing(t.Swing)
	if t.TimeSignature[0] > 0 && t.TimeSignature[1] > 0 {
		e.sched.SetTimeSignature(t.TimeSignature[0], t.TimeSignature[1])
	}
	e.sched.SetMetronome(t.Metronome || e.cfg.Metronome.Enabled)
	if t.Loop.End > t.Loop.Start {
		e.sched.SetLoop(t.Loop.Enabled, t.Loop.Start, t.Loop.End)
	} else {
		e.sched.SetLoop(false, 0, 4)
	}

	active := p.Active
	if len(active) == 0 {
		for _, c := range p.Clips {
			if c.NoteCount() > 0 {
				active = append(active, c.ID)
			}
		}
	}
	for _, id := range active {
		if err := e.sched.StartClip(id); err != nil {
			return err
		}
	}
	e.log.WithFields(logrus.Fields{
		"project": p.Name,
		"tracks":  len(p.Tracks),
		"clips":   len(p.Clips),
		"active":  len(active),
	}).Info("project loaded")
	return nil
}

// setParameter sets a parameter on the instrument playing trackID.
func (e *engine) setParameter(trackID, name string, value float64) (float64, error) {
	t, ok := e.store.Track(trackID)
	if !ok {
		return 0, project.ErrUnknownTrack
	}
	inst, err := e.pool.Acquire(t.InstrumentID, t.ID)
	if err != nil {
		return 0, err
	}
	return inst.SetParameter(name, value)
}
