// Package playback enumerates the note events clips produce on the timeline
// and keeps the bookkeeping that stops them from firing twice or hanging.
package playback

import (
	"fmt"
	"math"

	"github.com/cbegin/clipseq-go/internal/project"
)

// minNoteBeats keeps zero-length notes from stopping before they start.
const minNoteBeats = 1.0 / 256

type Kind int

const (
	NoteStart Kind = iota
	NoteStop
	Metronome
)

func (k Kind) String() string {
	switch k {
	case NoteStart:
		return "on"
	case NoteStop:
		return "off"
	case Metronome:
		return "click"
	}
	return "unknown"
}

// Occurrence is one note start or stop at a timeline beat.
type Occurrence struct {
	Kind    Kind
	ClipID  string
	TrackID string
	Note    project.MidiNote
	// Beat is the timeline beat of this event.
	Beat float64
	// NoteBeat is the timeline beat the note starts on; for starts it equals Beat.
	NoteBeat float64
}

// ID identifies the occurrence for deduplication. Starts and stops at the
// same beat get distinct ids.
func (o Occurrence) ID() string {
	return EventID(o.ClipID, o.Note.ID, o.Beat, o.Kind)
}

func EventID(clipID, noteID string, beat float64, k Kind) string {
	return fmt.Sprintf("%s-%s-%.3f:%s", clipID, noteID, beat, k)
}

// StopBeat is the timeline beat a note started at start stops on.
func StopBeat(start float64, n project.MidiNote) float64 {
	return start + math.Max(n.Duration, minNoteBeats)
}

// Occurrences returns every note start and stop of c that lands in the
// half-open beat window [from, to), ordered by beat then stop-before-start.
// Looping clips repeat every Length beats from their start.
func Occurrences(c *project.Clip, from, to float64) []Occurrence {
	if c == nil || to <= from {
		return nil
	}
	notes := c.Notes()
	if len(notes) == 0 {
		return nil
	}
	var out []Occurrence
	emit := func(base float64) {
		for _, n := range notes {
			start := base + n.Start
			stop := StopBeat(start, n)
			if start >= from && start < to {
				out = append(out, Occurrence{Kind: NoteStart, ClipID: c.ID, TrackID: c.TrackID, Note: n, Beat: start, NoteBeat: start})
			}
			if stop >= from && stop < to {
				out = append(out, Occurrence{Kind: NoteStop, ClipID: c.ID, TrackID: c.TrackID, Note: n, Beat: stop, NoteBeat: start})
			}
		}
	}
	if !c.Loop {
		emit(c.Start)
		sortOccurrences(out)
		return out
	}
	length := c.Length()
	maxEnd := 0.0
	for _, n := range notes {
		maxEnd = math.Max(maxEnd, n.Start+math.Max(n.Duration, minNoteBeats))
	}
	first := math.Floor((from - c.Start - maxEnd) / length)
	if first < 0 {
		first = 0
	}
	for k := first; c.Start+k*length < to; k++ {
		emit(c.Start + k*length)
	}
	sortOccurrences(out)
	return out
}
