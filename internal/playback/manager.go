package playback

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/voice"
)

// StaleAfter is how long, in seconds, an event record outlives its audio time.
const StaleAfter = 1.0

var ErrUnknownClip = errors.New("unknown clip")

// Event is the record of a scheduled occurrence.
type Event struct {
	ID        string
	Kind      Kind
	ClipID    string
	Beat      float64
	AudioTime float64
	Epoch     uint64
}

// Releaser stops one voice by handle.
type Releaser interface {
	Release(h voice.Handle, at float64) bool
}

// PlayingNote is a note whose voice has been started and not yet stopped.
type PlayingNote struct {
	ClipID     string
	NoteID     string
	Pitch      uint8
	Instrument Releaser
	Handle     voice.Handle
	// Beat is the timeline beat the note started on.
	Beat  float64
	Start float64
	End   float64
}

type noteKey struct {
	clip string
	note string
}

// claimKey scopes an event id to the epoch it was scheduled in, so the
// next loop iteration can claim the same ids while the previous iteration's
// records still guard it until its barrier.
type claimKey struct {
	id    string
	epoch uint64
}

// Manager tracks which clips are active, which events have been scheduled
// and which notes are sounding. It is owned by the scheduling goroutine.
type Manager struct {
	store   project.Store
	log     logrus.FieldLogger
	active  map[string]bool
	events  map[claimKey]Event
	playing map[noteKey]PlayingNote
	stale   float64
	// clips caches store reads between BeginPass and EndPass.
	clips map[string]*project.Clip
}

func NewManager(store project.Store, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		store:   store,
		log:     log,
		active:  make(map[string]bool),
		events:  make(map[claimKey]Event),
		playing: make(map[noteKey]PlayingNote),
		stale:   StaleAfter,
	}
}

// SetStaleAfter changes the purge window in seconds.
func (m *Manager) SetStaleAfter(seconds float64) {
	if seconds > 0 {
		m.stale = seconds
	}
}

// StartClip marks a clip active.
func (m *Manager) StartClip(id string) error {
	if _, ok := m.store.Clip(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClip, id)
	}
	m.active[id] = true
	return nil
}

// StopClip deactivates a clip, releases its sounding notes at audio time at
// and drops its event records. It returns the notes that were released.
func (m *Manager) StopClip(id string, at float64) []PlayingNote {
	delete(m.active, id)
	for k, ev := range m.events {
		if ev.ClipID == id {
			delete(m.events, k)
		}
	}
	var out []PlayingNote
	for k, pn := range m.playing {
		if k.clip != id {
			continue
		}
		delete(m.playing, k)
		release(pn, at)
		out = append(out, pn)
	}
	sortPlaying(out)
	return out
}

func (m *Manager) IsClipActive(id string) bool { return m.active[id] }

// ActiveClips returns the active clip ids in order.
func (m *Manager) ActiveClips() []string {
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BeginPass makes clip reads come from one store snapshot per clip until
// EndPass. Edits made in between are seen by the next pass.
func (m *Manager) BeginPass() {
	m.clips = make(map[string]*project.Clip, len(m.active))
}

func (m *Manager) EndPass() { m.clips = nil }

func (m *Manager) clip(id string) (*project.Clip, bool) {
	if m.clips == nil {
		return m.store.Clip(id)
	}
	if c, ok := m.clips[id]; ok {
		return c, c != nil
	}
	c, ok := m.store.Clip(id)
	if !ok {
		c = nil
	}
	m.clips[id] = c
	return c, ok
}

// Scan enumerates occurrences in [from, to) for every active, unmuted clip on
// an unmuted track, skipping those already claimed in epoch.
func (m *Manager) Scan(from, to float64, epoch uint64) []Occurrence {
	var out []Occurrence
	for _, id := range m.ActiveClips() {
		out = append(out, m.ScanClip(id, from, to, epoch)...)
	}
	sortOccurrences(out)
	return out
}

// ScanClip is Scan restricted to one clip.
func (m *Manager) ScanClip(id string, from, to float64, epoch uint64) []Occurrence {
	if !m.active[id] {
		return nil
	}
	c, ok := m.clip(id)
	if !ok {
		m.log.WithField("clip", id).Warn("active clip missing from store")
		delete(m.active, id)
		return nil
	}
	if !m.audible(c) {
		return nil
	}
	var out []Occurrence
	for _, o := range Occurrences(c, from, to) {
		if _, seen := m.events[claimKey{id: o.ID(), epoch: epoch}]; !seen {
			out = append(out, o)
		}
	}
	return out
}

func (m *Manager) audible(c *project.Clip) bool {
	if c.Muted {
		return false
	}
	t, ok := m.store.Track(c.TrackID)
	if !ok {
		m.log.WithFields(logrus.Fields{"clip": c.ID, "track": c.TrackID}).Warn("clip on unknown track")
		return false
	}
	return !t.Muted
}

// Claim records o as scheduled at audioTime in epoch. It returns false when
// the same occurrence was already claimed in that epoch.
func (m *Manager) Claim(o Occurrence, audioTime float64, epoch uint64) bool {
	k := claimKey{id: o.ID(), epoch: epoch}
	if _, ok := m.events[k]; ok {
		return false
	}
	m.events[k] = Event{ID: k.id, Kind: o.Kind, ClipID: o.ClipID, Beat: o.Beat, AudioTime: audioTime, Epoch: epoch}
	return true
}

// Retire drops the records of every epoch older than live.
func (m *Manager) Retire(live uint64) int {
	n := 0
	for k := range m.events {
		if k.epoch < live {
			delete(m.events, k)
			n++
		}
	}
	return n
}

func (m *Manager) EventCount() int { return len(m.events) }

// Purge drops records whose audio time is older than the stale window.
func (m *Manager) Purge(now float64) int {
	n := 0
	for k, ev := range m.events {
		if ev.AudioTime < now-m.stale {
			delete(m.events, k)
			n++
		}
	}
	return n
}

// ResetEvents drops every event record.
func (m *Manager) ResetEvents() {
	clear(m.events)
}

// Begin records a started note. An older record for the same clip note is
// released at pn.Start. Records of other notes on the same instrument and
// pitch are dropped; the instrument already cut their voice.
func (m *Manager) Begin(pn PlayingNote) {
	k := noteKey{clip: pn.ClipID, note: pn.NoteID}
	if old, ok := m.playing[k]; ok {
		release(old, pn.Start)
	}
	for ko, other := range m.playing {
		if ko != k && other.Instrument == pn.Instrument && other.Pitch == pn.Pitch {
			delete(m.playing, ko)
		}
	}
	m.playing[k] = pn
}

// End releases the note's voice at audio time at, never before it started.
func (m *Manager) End(clipID, noteID string, at float64) (PlayingNote, bool) {
	k := noteKey{clip: clipID, note: noteID}
	pn, ok := m.playing[k]
	if !ok {
		return PlayingNote{}, false
	}
	delete(m.playing, k)
	if at < pn.Start {
		at = pn.Start
	}
	pn.End = at
	release(pn, at)
	return pn, true
}

// Unreachable releases, at audio time at, the sounding notes whose stop can
// no longer be scheduled: their clip was stopped, deleted or muted, their
// track was muted, the note was removed, or ended reports that the note's
// current stop beat has already gone by.
func (m *Manager) Unreachable(at float64, ended func(stopBeat float64) bool) []PlayingNote {
	var out []PlayingNote
	for k, pn := range m.playing {
		if m.reachable(pn, ended) {
			continue
		}
		delete(m.playing, k)
		pn.End = math.Max(at, pn.Start)
		release(pn, pn.End)
		out = append(out, pn)
	}
	sortPlaying(out)
	return out
}

func (m *Manager) reachable(pn PlayingNote, ended func(float64) bool) bool {
	if !m.active[pn.ClipID] {
		return false
	}
	c, ok := m.clip(pn.ClipID)
	if !ok || !m.audible(c) {
		return false
	}
	n, ok := c.Note(pn.NoteID)
	if !ok {
		return false
	}
	return !ended(StopBeat(pn.Beat, n))
}

// Playing looks up a sounding note.
func (m *Manager) Playing(clipID, noteID string) (PlayingNote, bool) {
	pn, ok := m.playing[noteKey{clip: clipID, note: noteID}]
	return pn, ok
}

// Drain forgets every playing note without touching voices and returns them.
// The caller is expected to have cut the voices already.
func (m *Manager) Drain() []PlayingNote {
	out := make([]PlayingNote, 0, len(m.playing))
	for _, pn := range m.playing {
		out = append(out, pn)
	}
	clear(m.playing)
	sortPlaying(out)
	return out
}

func (m *Manager) ActiveNoteCount() int { return len(m.playing) }

func release(pn PlayingNote, at float64) {
	if pn.Instrument != nil {
		pn.Instrument.Release(pn.Handle, at)
	}
}

func sortPlaying(s []PlayingNote) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].ClipID != s[j].ClipID {
			return s[i].ClipID < s[j].ClipID
		}
		return s[i].NoteID < s[j].NoteID
	})
}

func sortOccurrences(s []Occurrence) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Beat != s[j].Beat {
			return s[i].Beat < s[j].Beat
		}
		if s[i].Kind != s[j].Kind {
			return s[i].Kind == NoteStop
		}
		if s[i].ClipID != s[j].ClipID {
			return s[i].ClipID < s[j].ClipID
		}
		return s[i].Note.ID < s[j].Note.ID
	})
}
