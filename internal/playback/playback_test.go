package playback

import (
	"errors"
	"testing"

	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/voice"
)

type fakeInst struct {
	released []voice.Handle
	at       []float64
}

func (f *fakeInst) Release(h voice.Handle, at float64) bool {
	f.released = append(f.released, h)
	f.at = append(f.at, at)
	return true
}

func newStore(t *testing.T, clips ...*project.Clip) *project.MemStore {
	t.Helper()
	s := project.NewMemStore()
	s.PutTrack(project.Track{ID: "t", InstrumentID: "analog-synth"})
	s.PutTrack(project.Track{ID: "muted", InstrumentID: "analog-synth", Muted: true})
	for _, c := range clips {
		if err := s.PutClip(c); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func clip(id, track string, start float64, loop bool, notes ...project.MidiNote) *project.Clip {
	c := project.NewClip(id, track, start, 4)
	c.Loop = loop
	for _, n := range notes {
		c.AddNote(n)
	}
	return c
}

func TestOccurrencesNonLooping(t *testing.T) {
	c := clip("c", "t", 2, false, project.MidiNote{ID: "n", Pitch: 60, Start: 1, Duration: 1})
	got := Occurrences(c, 0, 100)
	if len(got) != 2 {
		t.Fatalf("occurrences = %v, want start and stop", got)
	}
	if got[0].Kind != NoteStart || got[0].Beat != 3 {
		t.Fatalf("start = %+v, want beat 3", got[0])
	}
	if got[1].Kind != NoteStop || got[1].Beat != 4 || got[1].NoteBeat != 3 {
		t.Fatalf("stop = %+v, want beat 4 from 3", got[1])
	}
}

func TestOccurrencesLoopingRepeatsEveryLength(t *testing.T) {
	c := clip("c", "t", 0, true, project.MidiNote{ID: "n", Pitch: 60, Start: 0, Duration: 4})
	got := Occurrences(c, 0, 12)
	var starts, stops []float64
	for _, o := range got {
		if o.Kind == NoteStart {
			starts = append(starts, o.Beat)
		} else {
			stops = append(stops, o.Beat)
		}
	}
	if len(starts) != 3 || starts[0] != 0 || starts[1] != 4 || starts[2] != 8 {
		t.Fatalf("starts = %v, want [0 4 8]", starts)
	}
	if len(stops) != 2 || stops[0] != 4 || stops[1] != 8 {
		t.Fatalf("stops = %v, want [4 8]", stops)
	}
	// stop sorts before start at the shared beat
	for i := 1; i < len(got); i++ {
		if got[i].Beat == got[i-1].Beat && got[i].Kind == NoteStop {
			t.Fatalf("start sorted before stop at beat %v", got[i].Beat)
		}
	}
}

func TestOccurrencesWindowIsHalfOpen(t *testing.T) {
	c := clip("c", "t", 0, true, project.MidiNote{ID: "n", Start: 1, Duration: 0.5})
	got := Occurrences(c, 1.5, 5)
	if len(got) != 1 || got[0].Kind != NoteStop || got[0].Beat != 1.5 {
		t.Fatalf("window [1.5,5) = %v, want only the stop at 1.5", got)
	}
	if got := Occurrences(c, 5, 5.5); len(got) != 1 || got[0].Beat != 5 {
		t.Fatalf("window [5,5.5) = %v, want the start at 5", got)
	}
	if got := Occurrences(c, 5, 5); got != nil {
		t.Fatalf("empty window returned %v", got)
	}
}

func TestScanDeduplicatesClaimedEvents(t *testing.T) {
	s := newStore(t, clip("c", "t", 0, true, project.MidiNote{ID: "n", Pitch: 60, Start: 0, Duration: 1}))
	m := NewManager(s, nil)
	if err := m.StartClip("c"); err != nil {
		t.Fatal(err)
	}
	first := m.Scan(0, 2, 1)
	for _, o := range first {
		if !m.Claim(o, o.Beat/2, 1) {
			t.Fatalf("first claim of %s failed", o.ID())
		}
	}
	if again := m.Scan(0, 2, 1); len(again) != 0 {
		t.Fatalf("overlapping scan returned %v", again)
	}
	// the next loop iteration claims the same ids in its own epoch
	if next := m.Scan(0, 2, 2); len(next) != len(first) {
		t.Fatalf("scan in epoch 2 = %v, want %d events", next, len(first))
	}
	if m.Claim(first[0], 0, 1) {
		t.Fatalf("duplicate claim accepted")
	}
	if m.EventCount() != len(first) {
		t.Fatalf("EventCount = %d, want %d", m.EventCount(), len(first))
	}
}

func TestScanSkipsMutedAndInactive(t *testing.T) {
	muted := clip("m", "t", 0, true, project.MidiNote{ID: "n", Duration: 1})
	muted.Muted = true
	s := newStore(t,
		clip("a", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}),
		muted,
		clip("mt", "muted", 0, true, project.MidiNote{ID: "n", Duration: 1}),
		clip("idle", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}),
	)
	m := NewManager(s, nil)
	for _, id := range []string{"a", "m", "mt"} {
		if err := m.StartClip(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.StartClip("ghost"); !errors.Is(err, ErrUnknownClip) {
		t.Fatalf("StartClip(ghost) err = %v", err)
	}
	for _, o := range m.Scan(0, 4, 0) {
		if o.ClipID != "a" {
			t.Fatalf("scan produced event for %s", o.ClipID)
		}
	}
}

func TestPurgeDropsStaleRecords(t *testing.T) {
	s := newStore(t, clip("c", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}))
	m := NewManager(s, nil)
	m.StartClip("c")
	for _, o := range m.Scan(0, 4, 0) {
		m.Claim(o, o.Beat*0.5, 0)
	}
	// events at 0 and 0.5 s are older than 1 s at t=1.6
	if n := m.Purge(1.6); n != 2 {
		t.Fatalf("Purge removed %d, want 2", n)
	}
	m.ResetEvents()
	if m.EventCount() != 0 {
		t.Fatalf("ResetEvents left %d records", m.EventCount())
	}
}

func TestPlayingNotesLifecycle(t *testing.T) {
	s := newStore(t, clip("c", "t", 0, true))
	m := NewManager(s, nil)
	inst := &fakeInst{}
	m.Begin(PlayingNote{ClipID: "c", NoteID: "a", Pitch: 60, Instrument: inst, Handle: voice.Handle{Pitch: 60, Gen: 1}, Start: 1})
	m.Begin(PlayingNote{ClipID: "c", NoteID: "b", Pitch: 64, Instrument: inst, Handle: voice.Handle{Pitch: 64, Gen: 1}, Start: 1})
	if m.ActiveNoteCount() != 2 {
		t.Fatalf("ActiveNoteCount = %d, want 2", m.ActiveNoteCount())
	}
	pn, ok := m.End("c", "a", 0.5)
	if !ok || pn.End != 1 {
		t.Fatalf("End = %+v %v, want end clamped to start 1", pn, ok)
	}
	if inst.at[0] != 1 {
		t.Fatalf("release at %v, want 1", inst.at[0])
	}
	if _, ok := m.End("c", "a", 2); ok {
		t.Fatalf("second End succeeded")
	}
	// another note on the same pitch replaces b's record
	m.Begin(PlayingNote{ClipID: "d", NoteID: "x", Pitch: 64, Instrument: inst, Handle: voice.Handle{Pitch: 64, Gen: 2}, Start: 2})
	if _, ok := m.Playing("c", "b"); ok {
		t.Fatalf("replaced note still recorded")
	}
	if m.ActiveNoteCount() != 1 {
		t.Fatalf("ActiveNoteCount = %d, want 1", m.ActiveNoteCount())
	}
	if got := m.Drain(); len(got) != 1 || m.ActiveNoteCount() != 0 {
		t.Fatalf("Drain = %v", got)
	}
}

func TestStopClipReleasesOnlyItsNotes(t *testing.T) {
	s := newStore(t,
		clip("a", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}),
		clip("b", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}),
	)
	m := NewManager(s, nil)
	m.StartClip("a")
	m.StartClip("b")
	for _, o := range m.Scan(0, 4, 0) {
		m.Claim(o, o.Beat, 0)
	}
	inst := &fakeInst{}
	m.Begin(PlayingNote{ClipID: "a", NoteID: "n", Pitch: 60, Instrument: inst, Handle: voice.Handle{Pitch: 60, Gen: 1}})
	m.Begin(PlayingNote{ClipID: "b", NoteID: "n", Pitch: 62, Instrument: inst, Handle: voice.Handle{Pitch: 62, Gen: 1}})

	released := m.StopClip("a", 3)
	if len(released) != 1 || released[0].ClipID != "a" {
		t.Fatalf("StopClip released %v", released)
	}
	if m.IsClipActive("a") || !m.IsClipActive("b") {
		t.Fatalf("active set wrong: %v", m.ActiveClips())
	}
	if m.ActiveNoteCount() != 1 {
		t.Fatalf("ActiveNoteCount = %d, want 1", m.ActiveNoteCount())
	}
	if again := m.StopClip("a", 3); len(again) != 0 {
		t.Fatalf("second StopClip released %v", again)
	}
}

func TestEventIDDistinguishesKind(t *testing.T) {
	on := EventID("c", "n", 4, NoteStart)
	off := EventID("c", "n", 4, NoteStop)
	if on == off {
		t.Fatalf("start and stop share id %s", on)
	}
	if on != "c-n-4.000:on" {
		t.Fatalf("EventID = %s", on)
	}
}

func TestRetireKeepsCurrentEpoch(t *testing.T) {
	s := newStore(t, clip("c", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}))
	m := NewManager(s, nil)
	m.StartClip("c")
	for _, o := range m.Scan(0, 1, 1) {
		m.Claim(o, 1.5, 1)
	}
	for _, o := range m.Scan(0, 2, 2) {
		m.Claim(o, 2, 2)
	}
	if n := m.Retire(2); n != 1 {
		t.Fatalf("Retire removed %d, want 1", n)
	}
	if got := m.Scan(0, 2, 2); len(got) != 0 {
		t.Fatalf("current epoch claims were dropped: %v", got)
	}
	if got := m.Scan(0, 1, 1); len(got) != 1 {
		t.Fatalf("retired epoch still blocks: %v", got)
	}
}

func TestUnreachableReleasesOrphanedNotes(t *testing.T) {
	s := newStore(t,
		clip("keep", "t", 0, false, project.MidiNote{ID: "n", Duration: 4}),
		clip("mute", "t", 0, false, project.MidiNote{ID: "n", Duration: 4}),
		clip("gone", "t", 0, false, project.MidiNote{ID: "n", Duration: 4}),
		clip("short", "t", 0, false, project.MidiNote{ID: "n", Duration: 0.5}),
	)
	m := NewManager(s, nil)
	for _, id := range []string{"keep", "mute", "gone", "short"} {
		m.StartClip(id)
	}
	inst := &fakeInst{}
	for i, id := range []string{"keep", "mute", "gone", "short"} {
		m.Begin(PlayingNote{ClipID: id, NoteID: "n", Pitch: uint8(60 + i), Instrument: inst, Handle: voice.Handle{Pitch: uint8(60 + i), Gen: 1}, Start: 0.5})
	}
	c, _ := s.Clip("mute")
	c.Muted = true
	s.PutClip(c)
	s.RemoveNote("gone", "n")

	// beats up to 1 have gone by
	ended := func(stop float64) bool { return stop <= 1 }
	m.BeginPass()
	released := m.Unreachable(0.25, ended)
	m.EndPass()

	if len(released) != 3 {
		t.Fatalf("released %v, want gone, mute and short", released)
	}
	for i, want := range []string{"gone", "mute", "short"} {
		if released[i].ClipID != want {
			t.Fatalf("released %v, want gone, mute and short", released)
		}
		if released[i].End != 0.5 {
			t.Fatalf("released %s at %v, want clamped to its start 0.5", want, released[i].End)
		}
	}
	if _, ok := m.Playing("keep", "n"); !ok || m.ActiveNoteCount() != 1 {
		t.Fatalf("reachable note was released")
	}
	if len(inst.released) != 3 {
		t.Fatalf("voices released = %d, want 3", len(inst.released))
	}
}

func TestPassReadsEachClipOnce(t *testing.T) {
	s := newStore(t, clip("c", "t", 0, true, project.MidiNote{ID: "n", Duration: 1}))
	m := NewManager(s, nil)
	m.StartClip("c")
	m.BeginPass()
	s.AddNote("c", project.MidiNote{ID: "late", Start: 0.5, Duration: 0.25})
	// the first read of the pass fixes the snapshot
	if got := m.Scan(0, 1, 0); len(got) != 3 {
		t.Fatalf("scan = %v, want both notes' events in [0,1)", got)
	}
	s.RemoveNote("c", "late")
	if got := m.Scan(0, 1, 1); len(got) != 3 {
		t.Fatalf("edit leaked into the pass: %v", got)
	}
	m.EndPass()
	if got := m.Scan(0, 1, 2); len(got) != 1 {
		t.Fatalf("scan after pass = %v, want the start of n", got)
	}
}
