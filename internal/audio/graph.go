package audio

import (
	"math"
	"sync"

	"github.com/cbegin/clipseq-go/internal/effects"
)

// Generator produces one mono voice, a sample at a time. ok is false once the
// voice has nothing more to say; the graph then drops it.
type Generator interface {
	Next() (sample float32, ok bool)
}

type BusID int

type VoiceID uint64

// declickSeconds is the fade applied when a voice is cut.
const declickSeconds = 0.002

type bus struct {
	id   BusID
	name string
	gain *effects.Param
	fx   *effects.Chain
	acc  float32
}

type liveVoice struct {
	id    VoiceID
	bus   *bus
	gen   Generator
	start int64
	stop  int64 // -1 while open
	done  bool
}

// Graph mixes scheduled voices into buses, runs each bus through its effect
// chain and the sum through the master chain. Its clock is the number of
// frames rendered so far, which makes it monotonic and sample exact.
// Scheduling calls and Process may run on different goroutines.
type Graph struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64
	open       bool
	buses      []*bus
	voices     []*liveVoice
	nextBus    BusID
	nextVoice  VoiceID
	master     *effects.Chain
	masterGain *effects.Param
	declick    int64
	tap        func([]float32)
}

func NewGraph(sampleRate int, master ...effects.Effector) *Graph {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	d := int64(declickSeconds * float64(sampleRate))
	if d < 1 {
		d = 1
	}
	return &Graph{
		sampleRate: sampleRate,
		master:     effects.NewChain(master...),
		masterGain: effects.NewParam(1),
		declick:    d,
	}
}

func (g *Graph) SampleRate() int { return g.sampleRate }

// Open marks the clock as available. It is called when the output stream starts.
func (g *Graph) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
}

// Now returns the audio time in seconds of the next frame to be rendered.
func (g *Graph) Now() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.frame) / float64(g.sampleRate), g.open
}

func (g *Graph) SetMasterGain(v float32) {
	if v < 0 {
		v = 0
	}
	g.masterGain.Store(v)
}

func (g *Graph) MasterGain() float32 { return g.masterGain.Load() }

// SetTap installs a callback that sees every rendered buffer. It runs on the
// audio goroutine.
func (g *Graph) SetTap(fn func([]float32)) {
	g.mu.Lock()
	g.tap = fn
	g.mu.Unlock()
}

// AddBus creates a mixing bus with its own effect chain.
func (g *Graph) AddBus(name string, gain float32, fx ...effects.Effector) BusID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextBus++
	b := &bus{id: g.nextBus, name: name, gain: effects.NewParam(gain), fx: effects.NewChain(fx...)}
	g.buses = append(g.buses, b)
	return b.id
}

func (g *Graph) SetBusGain(id BusID, gain float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b := g.findBus(id); b != nil {
		b.gain.Store(gain)
	}
}

// RemoveBus drops a bus and every voice routed to it.
func (g *Graph) RemoveBus(id BusID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.buses {
		if b.id == id {
			g.buses = append(g.buses[:i], g.buses[i+1:]...)
			break
		}
	}
	for _, v := range g.voices {
		if v.bus.id == id {
			v.done = true
		}
	}
	g.compact()
}

// Start places gen on bus at audio time at. Times already rendered start on
// the next frame. Unknown buses yield 0.
func (g *Graph) Start(id BusID, gen Generator, at float64) VoiceID {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.findBus(id)
	if b == nil || gen == nil {
		return 0
	}
	start := g.toFrame(at)
	if start < g.frame {
		start = g.frame
	}
	g.nextVoice++
	g.voices = append(g.voices, &liveVoice{id: g.nextVoice, bus: b, gen: gen, start: start, stop: -1})
	return g.nextVoice
}

// Stop ends a voice at audio time at with a short fade. A voice stopped before
// it starts never sounds. Unknown ids are ignored.
func (g *Graph) Stop(id VoiceID, at float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.voices {
		if v.id != id || v.done {
			continue
		}
		stop := g.toFrame(at)
		if stop < g.frame {
			stop = g.frame
		}
		if stop <= v.start {
			v.done = true
			g.compact()
			return
		}
		if v.stop < 0 || stop < v.stop {
			v.stop = stop
		}
		return
	}
}

// ActiveVoices counts voices that are scheduled or sounding.
func (g *Graph) ActiveVoices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, v := range g.voices {
		if !v.done {
			n++
		}
	}
	return n
}

// Frame returns the number of frames rendered.
func (g *Graph) Frame() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frame
}

// Process renders interleaved stereo frames into dst.
func (g *Graph) Process(dst []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	frames := len(dst) / 2
	gain := g.masterGain.Load()
	for i := 0; i < frames; i++ {
		f := g.frame
		for _, v := range g.voices {
			if v.done || f < v.start {
				continue
			}
			s, ok := v.gen.Next()
			if !ok {
				v.done = true
				continue
			}
			if v.stop >= 0 && f >= v.stop {
				rem := v.stop + g.declick - f
				if rem <= 0 {
					v.done = true
					continue
				}
				s *= float32(rem) / float32(g.declick)
			}
			v.bus.acc += s
		}
		var l, r float32
		for _, b := range g.buses {
			s := b.acc * b.gain.Load()
			b.acc = 0
			bl, br := b.fx.Process(s, s)
			l += bl
			r += br
		}
		l, r = g.master.Process(l, r)
		dst[2*i] = clampSample(l * gain)
		dst[2*i+1] = clampSample(r * gain)
		g.frame++
	}
	g.compact()
	if g.tap != nil {
		g.tap(dst)
	}
}

func (g *Graph) toFrame(at float64) int64 {
	if math.IsNaN(at) || at <= 0 {
		return 0
	}
	return int64(math.Round(at * float64(g.sampleRate)))
}

func (g *Graph) findBus(id BusID) *bus {
	for _, b := range g.buses {
		if b.id == id {
			return b
		}
	}
	return nil
}

func (g *Graph) compact() {
	kept := g.voices[:0]
	for _, v := range g.voices {
		if !v.done {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(g.voices); i++ {
		g.voices[i] = nil
	}
	g.voices = kept
}

func clampSample(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
