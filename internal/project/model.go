// Package project holds the musical data the sequencer plays: tracks, clips
// and their notes, a store for them, and the YAML project file format.
package project

import (
	"math"
	"sort"
)

// MinClipLength is the shortest a clip can be, in beats.
const MinClipLength = 4.0

// MidiNote is a note inside a clip. Start and Duration are in beats relative
// to the clip start.
type MidiNote struct {
	ID       string
	Pitch    uint8
	Velocity uint8
	Start    float64
	Duration float64
}

func (n MidiNote) End() float64 { return n.Start + n.Duration }

// Track is a lane of clips sharing one instrument.
type Track struct {
	ID           string
	Name         string
	InstrumentID string
	Muted        bool
	Volume       float64 // 0 keeps the instrument's own volume
}

// Clip is a block of notes placed on a track's timeline.
type Clip struct {
	ID        string
	TrackID   string
	Name      string
	Start     float64
	LoopStart float64
	LoopEnd   float64
	Loop      bool
	Muted     bool

	length float64
	notes  map[string]MidiNote
	order  []string
}

// NewClip creates an empty looping clip. A length below MinClipLength is
// raised to it.
func NewClip(id, trackID string, start, length float64) *Clip {
	if length < MinClipLength || math.IsNaN(length) {
		length = MinClipLength
	}
	return &Clip{
		ID:      id,
		TrackID: trackID,
		Name:    id,
		Start:   math.Max(0, start),
		LoopEnd: length,
		Loop:    true,
		length:  length,
		notes:   make(map[string]MidiNote),
	}
}

// Length is the clip length in beats, never shorter than the last note end.
func (c *Clip) Length() float64 { return c.length }

// End is the timeline beat the clip's first pass ends on.
func (c *Clip) End() float64 { return c.Start + c.length }

// SetLength changes the length, keeping it at least MinClipLength and at
// least the end of the last note.
func (c *Clip) SetLength(beats float64) {
	c.length = math.Max(beats, c.minLength())
}

// AddNote inserts n or replaces the note with the same id, growing the clip
// when the note ends past it.
func (c *Clip) AddNote(n MidiNote) {
	if n.Duration < 0 {
		n.Duration = 0
	}
	if _, ok := c.notes[n.ID]; !ok {
		c.order = append(c.order, n.ID)
	}
	c.notes[n.ID] = n
	c.sortOrder()
	if end := n.End(); end > c.length {
		c.length = math.Ceil(end)
	}
}

// RemoveNote deletes a note and shrinks the clip to fit what is left.
func (c *Clip) RemoveNote(id string) bool {
	if _, ok := c.notes[id]; !ok {
		return false
	}
	delete(c.notes, id)
	for i, nid := range c.order {
		if nid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if m := c.minLength(); m < c.length {
		c.length = m
	}
	return true
}

func (c *Clip) Note(id string) (MidiNote, bool) {
	n, ok := c.notes[id]
	return n, ok
}

func (c *Clip) NoteCount() int { return len(c.notes) }

// Notes returns the notes ordered by start, ties broken by id.
func (c *Clip) Notes() []MidiNote {
	out := make([]MidiNote, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.notes[id])
	}
	return out
}

// Clone returns a deep copy.
func (c *Clip) Clone() *Clip {
	cp := *c
	cp.notes = make(map[string]MidiNote, len(c.notes))
	for k, v := range c.notes {
		cp.notes[k] = v
	}
	cp.order = append([]string(nil), c.order...)
	return &cp
}

func (c *Clip) minLength() float64 {
	m := MinClipLength
	for _, n := range c.notes {
		m = math.Max(m, math.Ceil(n.End()))
	}
	return m
}

func (c *Clip) sortOrder() {
	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.notes[c.order[i]], c.notes[c.order[j]]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
}
