package voice

import (
	"fmt"
	"math"
	"sync/atomic"
)

// ParamDef describes one instrument parameter.
type ParamDef struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
	Step    float64 // 0 = continuous
	Unit    string
}

// Clamp limits v to [Min, Max] and snaps it to Step. NaN yields Default.
func (d ParamDef) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return d.Default
	}
	v = math.Max(d.Min, math.Min(d.Max, v))
	if d.Step > 0 {
		v = d.Min + math.Round((v-d.Min)/d.Step)*d.Step
		v = math.Max(d.Min, math.Min(d.Max, v))
	}
	return v
}

// paramStore holds validated values. Values are written on the scheduling
// goroutine and read per sample by voices on the audio goroutine.
type paramStore struct {
	defs  []ParamDef
	index map[string]int
	vals  []atomic.Uint64
}

func newParamStore(defs []ParamDef) *paramStore {
	s := &paramStore{
		defs:  defs,
		index: make(map[string]int, len(defs)),
		vals:  make([]atomic.Uint64, len(defs)),
	}
	for i, d := range defs {
		s.index[d.Name] = i
	}
	s.reset()
	return s
}

func (s *paramStore) reset() {
	for i, d := range s.defs {
		s.vals[i].Store(math.Float64bits(d.Clamp(d.Default)))
	}
}

// idx returns the slot of a parameter listed in requiredParams. Definitions
// are validated before any builder runs.
func (s *paramStore) idx(name string) int {
	i, ok := s.index[name]
	if !ok {
		panic(fmt.Sprintf("voice: parameter %q missing from definition", name))
	}
	return i
}

func (s *paramStore) get(i int) float64 {
	return math.Float64frombits(s.vals[i].Load())
}

func (s *paramStore) value(name string) (float64, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.get(i), true
}

func (s *paramStore) set(name string, v float64) (float64, error) {
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	v = s.defs[i].Clamp(v)
	s.vals[i].Store(math.Float64bits(v))
	return v, nil
}

func (s *paramStore) snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.defs))
	for i, d := range s.defs {
		out[d.Name] = s.get(i)
	}
	return out
}
