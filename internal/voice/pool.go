package voice

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Factory builds instruments from registry definitions onto a sink.
type Factory struct {
	registry *Registry
	sink     Sink
	log      logrus.FieldLogger
	created  int
}

func NewFactory(registry *Registry, sink Sink, log logrus.FieldLogger) *Factory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Factory{registry: registry, sink: sink, log: log}
}

func (f *Factory) Registry() *Registry { return f.registry }

// Create builds a new instance of definition defID for trackID with default
// parameters.
func (f *Factory) Create(defID, trackID string) (*Instrument, error) {
	def, ok := f.registry.Lookup(defID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, defID)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("create %s: %w", defID, err)
	}
	params := newParamStore(def.Params)
	sr := f.sink.SampleRate()
	var b builder
	switch def.Type {
	case TypeSynth:
		b = newSynthBuilder(params, sr)
	case TypeBass:
		b = newBassBuilder(params, sr)
	case TypeDrum:
		b = newDrumBuilder(params, sr)
	case TypeFM:
		b = newFMBuilder(params, sr)
	}
	f.created++
	id := fmt.Sprintf("%s-%s-%d", def.ID, trackID, f.created)
	gain := 1.0
	if v, ok := params.value("volume"); ok {
		gain = v
	}
	inst := &Instrument{
		id:      id,
		def:     def,
		sink:    f.sink,
		params:  params,
		builder: b,
		log:     f.log.WithField("instrument", id),
	}
	inst.bus = f.sink.AddBus(id, float32(gain), b.busEffects(sr)...)
	return inst, nil
}

type poolKey struct {
	def   string
	track string
}

// Pool holds one instance per (definition, track). Instances are created on
// first use and kept until Dispose. A Pool belongs to the goroutine that
// drives the scheduler.
type Pool struct {
	factory *Factory
	insts   map[poolKey]*Instrument
}

func NewPool(factory *Factory) *Pool {
	return &Pool{factory: factory, insts: make(map[poolKey]*Instrument)}
}

func (p *Pool) Factory() *Factory { return p.factory }

// Acquire returns the instance for (defID, trackID), creating it if needed.
func (p *Pool) Acquire(defID, trackID string) (*Instrument, error) {
	k := poolKey{def: defID, track: trackID}
	if inst, ok := p.insts[k]; ok {
		return inst, nil
	}
	inst, err := p.factory.Create(defID, trackID)
	if err != nil {
		return nil, err
	}
	p.insts[k] = inst
	p.factory.log.WithFields(logrus.Fields{"instrument": inst.ID(), "track": trackID}).Debug("instrument created")
	return inst, nil
}

// Lookup returns an existing instance without creating one.
func (p *Pool) Lookup(defID, trackID string) (*Instrument, bool) {
	inst, ok := p.insts[poolKey{def: defID, track: trackID}]
	return inst, ok
}

// Instruments returns every pooled instance ordered by id.
func (p *Pool) Instruments() []*Instrument {
	out := make([]*Instrument, 0, len(p.insts))
	for _, inst := range p.insts {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Pool) Len() int { return len(p.insts) }

// StopAll cuts every voice of every instance at audio time at.
func (p *Pool) StopAll(at float64) {
	for _, inst := range p.insts {
		inst.StopAll(at)
	}
}

func (p *Pool) ActiveVoiceCount() int {
	n := 0
	for _, inst := range p.insts {
		n += inst.VoiceCount()
	}
	return n
}

// Dispose releases every instance and empties the pool.
func (p *Pool) Dispose() {
	for k, inst := range p.insts {
		inst.Dispose()
		delete(p.insts, k)
	}
}
