package voice

import (
	"fmt"
	"sort"
)

// Type is the closed set of instrument variants.
type Type string

const (
	TypeSynth Type = "synth"
	TypeBass  Type = "bass"
	TypeDrum  Type = "drum"
	TypeFM    Type = "fm"
)

// Definition describes an instrument a track can use.
type Definition struct {
	ID          string
	Name        string
	Type        Type
	Polyphony   int
	Description string
	Params      []ParamDef
}

// Param returns the definition of one parameter.
func (d Definition) Param(name string) (ParamDef, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDef{}, false
}

// Registry resolves instrument ids to definitions.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// DefaultRegistry returns a registry holding the built-in instruments.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtins() {
		_ = r.Register(d)
	}
	return r
}

func (r *Registry) Register(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("register instrument: empty id")
	}
	if _, ok := r.defs[d.ID]; ok {
		return fmt.Errorf("register instrument %s: already registered", d.ID)
	}
	if err := d.validate(); err != nil {
		return fmt.Errorf("register instrument %s: %w", d.ID, err)
	}
	r.defs[d.ID] = d
	return nil
}

// requiredParams lists the parameters the voices of each variant read.
var requiredParams = map[Type][]string{
	TypeSynth: {"waveform1", "waveform2", "oscillatorMix", "detune", "octave", "cutoff", "resonance",
		"lfoRate", "lfoAmount", "attack", "decay", "sustain", "chorusMix", "delayMix", "delayFeedback"},
	TypeBass: {"waveform", "subOscillator", "detune", "cutoff", "resonance", "drive", "saturation",
		"attack", "decay", "sustain"},
	TypeDrum: {"kickTune", "kickDecay", "kickPunch", "snareTune", "snareSnap", "hihatDecay", "hihatTone"},
	TypeFM:   {"ratio", "index", "feedback", "brightness", "attack", "decay", "sustain"},
}

func (d Definition) validate() error {
	req, ok := requiredParams[d.Type]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, d.Type)
	}
	for _, name := range req {
		if _, ok := d.Param(name); !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
	}
	return nil
}

func (r *Registry) Unregister(id string) bool {
	if _, ok := r.defs[id]; !ok {
		return false
	}
	delete(r.defs, id)
	return true
}

func (r *Registry) Lookup(id string) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Definitions returns every definition sorted by id.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) ByType(t Type) []Definition {
	var out []Definition
	for _, d := range r.Definitions() {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

func envelopeParams(attackMax, attack, decay, sustain float64) []ParamDef {
	return []ParamDef{
		{Name: "attack", Min: 0.001, Max: attackMax, Default: attack, Unit: "s"},
		{Name: "decay", Min: 0.001, Max: 2, Default: decay, Unit: "s"},
		{Name: "sustain", Min: 0, Max: 1, Default: sustain, Unit: "level"},
	}
}

func builtins() []Definition {
	synth := []ParamDef{
		{Name: "waveform1", Min: 0, Max: 3, Default: 2, Step: 1, Unit: "type"},
		{Name: "waveform2", Min: 0, Max: 3, Default: 1, Step: 1, Unit: "type"},
		{Name: "oscillatorMix", Min: 0, Max: 1, Default: 0.5, Unit: "level"},
		{Name: "detune", Min: -50, Max: 50, Default: 7, Unit: "cents"},
		{Name: "octave", Min: -2, Max: 2, Default: 0, Step: 1, Unit: "octaves"},
		{Name: "cutoff", Min: 100, Max: 8000, Default: 2000, Unit: "Hz"},
		{Name: "resonance", Min: 0.1, Max: 10, Default: 1, Unit: "Q"},
		{Name: "lfoRate", Min: 0.1, Max: 20, Default: 4, Unit: "Hz"},
		{Name: "lfoAmount", Min: 0, Max: 1000, Default: 0, Unit: "Hz"},
	}
	synth = append(synth, envelopeParams(2, 0.1, 0.3, 0.6)...)
	synth = append(synth,
		ParamDef{Name: "chorusMix", Min: 0, Max: 1, Default: 0.3, Unit: "level"},
		ParamDef{Name: "delayMix", Min: 0, Max: 1, Default: 0.2, Unit: "level"},
		ParamDef{Name: "delayFeedback", Min: 0, Max: 0.9, Default: 0.3, Unit: "level"},
		ParamDef{Name: "volume", Min: 0, Max: 1, Default: 0.8, Unit: "level"},
	)

	bass := []ParamDef{
		{Name: "waveform", Min: 0, Max: 3, Default: 1, Step: 1, Unit: "type"},
		{Name: "subOscillator", Min: 0, Max: 1, Default: 0.3, Unit: "level"},
		{Name: "detune", Min: -50, Max: 50, Default: 0, Unit: "cents"},
		{Name: "cutoff", Min: 20, Max: 1000, Default: 400, Unit: "Hz"},
		{Name: "resonance", Min: 0.1, Max: 20, Default: 5, Unit: "Q"},
		{Name: "drive", Min: 1, Max: 10, Default: 2, Unit: "x"},
		{Name: "saturation", Min: 0, Max: 1, Default: 0.3, Unit: "level"},
	}
	bass = append(bass, envelopeParams(1, 0.01, 0.1, 0.8)...)
	bass = append(bass, ParamDef{Name: "volume", Min: 0, Max: 1, Default: 0.9, Unit: "level"})

	drums := []ParamDef{
		{Name: "kickTune", Min: -12, Max: 12, Default: 0, Step: 1, Unit: "semitones"},
		{Name: "kickDecay", Min: 0.1, Max: 2, Default: 0.5, Unit: "s"},
		{Name: "kickPunch", Min: 0, Max: 1, Default: 0.7, Unit: "level"},
		{Name: "snareTune", Min: -12, Max: 12, Default: 0, Step: 1, Unit: "semitones"},
		{Name: "snareSnap", Min: 0, Max: 1, Default: 0.8, Unit: "level"},
		{Name: "hihatDecay", Min: 0.05, Max: 1, Default: 0.2, Unit: "s"},
		{Name: "hihatTone", Min: 1000, Max: 15000, Default: 8000, Unit: "Hz"},
		{Name: "volume", Min: 0, Max: 1, Default: 0.8, Unit: "level"},
	}

	fm := []ParamDef{
		{Name: "ratio", Min: 0.5, Max: 8, Default: 2, Step: 0.5, Unit: "x"},
		{Name: "index", Min: 0, Max: 10, Default: 1.6, Unit: "rad"},
		{Name: "feedback", Min: 0, Max: 1, Default: 0, Unit: "level"},
		{Name: "brightness", Min: 500, Max: 12000, Default: 8000, Unit: "Hz"},
	}
	fm = append(fm, envelopeParams(2, 0.005, 0.12, 0.75)...)
	fm = append(fm, ParamDef{Name: "volume", Min: 0, Max: 1, Default: 0.7, Unit: "level"})

	return []Definition{
		{ID: "analog-synth", Name: "Analog Synth", Type: TypeSynth, Polyphony: 8, Params: synth,
			Description: "Dual oscillator synth with resonant filter, LFO, chorus and delay"},
		{ID: "sub-bass", Name: "Sub Bass", Type: TypeBass, Polyphony: 4, Params: bass,
			Description: "Bass with sub-oscillator and distortion"},
		{ID: "808-drums", Name: "808 Drums", Type: TypeDrum, Polyphony: 16, Params: drums,
			Description: "Procedural drum machine mapped to General MIDI percussion"},
		{ID: "fm-lead", Name: "FM Lead", Type: TypeFM, Polyphony: 8, Params: fm,
			Description: "Two-operator FM voice"},
	}
}
