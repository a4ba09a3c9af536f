// Package capture records dispatched note events and writes them out as a
// Standard MIDI File.
package capture

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	// Resolution is the file's ticks per quarter note.
	Resolution = 960
	// fileBPM is the tempo written to the file. Event times are audio seconds,
	// so tempo changes during capture are already baked in.
	fileBPM        = 120.0
	ticksPerSecond = Resolution * fileBPM / 60
	drumChannel    = 9
)

// NoteEvent is one dispatched note start or stop.
type NoteEvent struct {
	Track     string
	Drum      bool
	Pitch     uint8
	Velocity  uint8
	On        bool
	AudioTime float64
}

// Recorder collects note events. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	events   []NoteEvent
	channels map[string]uint8
	order    []string
	next     uint8
	origin   float64
	started  bool
}

func NewRecorder() *Recorder {
	return &Recorder{channels: make(map[string]uint8)}
}

// Record appends ev. The first event sets time zero of the file.
func (r *Recorder) Record(ev NoteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		r.origin = ev.AudioTime
		r.started = true
	}
	if _, ok := r.channels[ev.Track]; !ok {
		r.channels[ev.Track] = r.assign(ev.Drum)
		r.order = append(r.order, ev.Track)
	}
	r.events = append(r.events, ev)
}

func (r *Recorder) assign(drum bool) uint8 {
	if drum {
		return drumChannel
	}
	ch := r.next % 16
	if ch == drumChannel {
		r.next++
		ch = r.next % 16
	}
	r.next++
	return ch
}

// Len is the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.channels = make(map[string]uint8)
	r.order = nil
	r.next = 0
	r.started = false
}

// SMF builds a type 1 file: a tempo track followed by one track per
// recorded track, in order of first appearance.
func (r *Recorder) SMF() (*smf.SMF, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(Resolution)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(fileBPM))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return nil, fmt.Errorf("add tempo track: %w", err)
	}

	for _, name := range r.order {
		var evs []NoteEvent
		for _, ev := range r.events {
			if ev.Track == name {
				evs = append(evs, ev)
			}
		}
		sort.SliceStable(evs, func(i, j int) bool {
			if evs[i].AudioTime != evs[j].AudioTime {
				return evs[i].AudioTime < evs[j].AudioTime
			}
			return !evs[i].On && evs[j].On
		})
		ch := r.channels[name]
		var track smf.Track
		track.Add(0, smf.MetaTrackSequenceName(name))
		var last uint32
		for _, ev := range evs {
			tick := r.tick(ev.AudioTime)
			if tick < last {
				tick = last
			}
			if ev.On {
				vel := ev.Velocity
				if vel == 0 {
					vel = 1
				}
				track.Add(tick-last, midi.NoteOn(ch, ev.Pitch, vel))
			} else {
				track.Add(tick-last, midi.NoteOff(ch, ev.Pitch))
			}
			last = tick
		}
		track.Close(0)
		if err := sm.Add(track); err != nil {
			return nil, fmt.Errorf("add track %s: %w", name, err)
		}
	}
	return sm, nil
}

func (r *Recorder) tick(at float64) uint32 {
	d := at - r.origin
	if d <= 0 {
		return 0
	}
	return uint32(math.Round(d * ticksPerSecond))
}

// WriteTo writes the capture as a Standard MIDI File.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	sm, err := r.SMF()
	if err != nil {
		return 0, err
	}
	n, err := sm.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write midi: %w", err)
	}
	return n, nil
}

// WriteFile writes the capture to path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
