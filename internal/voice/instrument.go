// Package voice is the voice engine: a fixed set of instrument variants that
// share one bookkeeping structure and differ only in how a note's signal
// graph is built and which parameters they expose.
package voice

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/effects"
)

var (
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownType       = errors.New("unknown instrument type")
	ErrMissingParameter  = errors.New("definition missing parameter")
	ErrDisposed          = errors.New("instrument disposed")
)

// Sink is the audio output the voices are rendered on.
type Sink interface {
	SampleRate() int
	AddBus(name string, gain float32, fx ...effects.Effector) audio.BusID
	SetBusGain(id audio.BusID, gain float32)
	RemoveBus(id audio.BusID)
	Start(bus audio.BusID, gen audio.Generator, at float64) audio.VoiceID
	Stop(id audio.VoiceID, at float64)
}

// Note is what a voice needs to know about a MIDI note.
type Note struct {
	Pitch    uint8
	Velocity uint8
}

// Handle identifies one voice. A handle whose voice has been replaced or
// stopped is stale and every operation on it is a no-op.
type Handle struct {
	Pitch uint8
	Gen   uint32
}

func (h Handle) Valid() bool { return h.Gen != 0 }

// builder is implemented once per variant.
type builder interface {
	// busEffects returns the effect chain of the instrument's bus.
	busEffects(sampleRate int) []effects.Effector
	// build returns the signal graph for one note.
	build(n Note, gain float64) audio.Generator
	// apply pushes a changed parameter to bus effects.
	apply(name string, v float64)
}

type slot struct {
	gen    uint32
	active bool
	voice  audio.VoiceID
	order  uint64
}

// Instrument is one pooled instance. Voices live in a slab of 128 slots
// indexed by pitch; a slot's generation changes every time it is reused so
// handles from earlier notes cannot touch the current voice.
type Instrument struct {
	id       string
	def      Definition
	sink     Sink
	bus      audio.BusID
	params   *paramStore
	builder  builder
	slots    [128]slot
	active   int
	order    uint64
	disposed bool
	log      logrus.FieldLogger
}

func (i *Instrument) ID() string             { return i.id }
func (i *Instrument) Type() Type             { return i.def.Type }
func (i *Instrument) Definition() Definition { return i.def }

// IsActive reports whether the instance can still play (not disposed).
func (i *Instrument) IsActive() bool { return !i.disposed }

// VoiceCount is the number of sounding voices.
func (i *Instrument) VoiceCount() int { return i.active }

// Sounding reports whether pitch currently has a voice.
func (i *Instrument) Sounding(pitch uint8) bool {
	return pitch < 128 && i.slots[pitch].active
}

// Play starts a voice for n at audio time at. A voice already sounding on the
// same pitch is cut at the same instant first. When the definition's
// polyphony is exhausted the oldest voice is cut.
func (i *Instrument) Play(n Note, at float64) Handle {
	if i.disposed || n.Pitch > 127 {
		return Handle{}
	}
	if i.slots[n.Pitch].active {
		i.cut(n.Pitch, at)
	}
	if i.def.Polyphony > 0 && i.active >= i.def.Polyphony {
		i.cut(i.oldest(), at)
	}
	v := float64(n.Velocity) / 127
	gen := i.builder.build(n, v*v)
	id := i.sink.Start(i.bus, gen, at)
	s := &i.slots[n.Pitch]
	i.order++
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.active = true
	s.voice = id
	s.order = i.order
	i.active++
	return Handle{Pitch: n.Pitch, Gen: s.gen}
}

// Stop tears down the voice on n's pitch at audio time at. It is a no-op when
// nothing is sounding there.
func (i *Instrument) Stop(n Note, at float64) {
	if n.Pitch < 128 && i.slots[n.Pitch].active {
		i.cut(n.Pitch, at)
	}
}

// Release stops the voice h refers to if it is still the current one.
func (i *Instrument) Release(h Handle, at float64) bool {
	if !h.Valid() || h.Pitch > 127 {
		return false
	}
	s := &i.slots[h.Pitch]
	if !s.active || s.gen != h.Gen {
		return false
	}
	i.cut(h.Pitch, at)
	return true
}

// StopAll cuts every voice at audio time at.
func (i *Instrument) StopAll(at float64) {
	if i.active == 0 {
		return
	}
	for p := range i.slots {
		if i.slots[p].active {
			i.cut(uint8(p), at)
		}
	}
}

// SetParameter clamps value to the parameter's range and applies it to new
// voices, live voices and bus effects. It returns the stored value.
func (i *Instrument) SetParameter(name string, value float64) (float64, error) {
	if i.disposed {
		return 0, ErrDisposed
	}
	v, err := i.params.set(name, value)
	if err != nil {
		return 0, err
	}
	if name == "volume" {
		i.sink.SetBusGain(i.bus, float32(v))
	}
	i.builder.apply(name, v)
	return v, nil
}

func (i *Instrument) Parameter(name string) (float64, bool) {
	return i.params.value(name)
}

// Parameters returns a copy of every current value.
func (i *Instrument) Parameters() map[string]float64 {
	return i.params.snapshot()
}

// Reset cuts every voice immediately and restores default parameters.
func (i *Instrument) Reset() {
	i.StopAll(0)
	i.params.reset()
	for _, d := range i.def.Params {
		v, _ := i.params.value(d.Name)
		i.builder.apply(d.Name, v)
	}
	if v, ok := i.params.value("volume"); ok {
		i.sink.SetBusGain(i.bus, float32(v))
	}
}

// Dispose cuts every voice and releases the instrument's bus.
func (i *Instrument) Dispose() {
	if i.disposed {
		return
	}
	i.StopAll(0)
	i.sink.RemoveBus(i.bus)
	i.disposed = true
}

func (i *Instrument) cut(pitch uint8, at float64) {
	s := &i.slots[pitch]
	i.sink.Stop(s.voice, at)
	s.active = false
	s.voice = 0
	i.active--
}

func (i *Instrument) oldest() uint8 {
	var best uint8
	first := uint64(math.MaxUint64)
	for p := range i.slots {
		if i.slots[p].active && i.slots[p].order < first {
			first = i.slots[p].order
			best = uint8(p)
		}
	}
	return best
}
