package sequencer

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cbegin/clipseq-go/internal/audio"
	"github.com/cbegin/clipseq-go/internal/metronome"
	"github.com/cbegin/clipseq-go/internal/playback"
	"github.com/cbegin/clipseq-go/internal/project"
	"github.com/cbegin/clipseq-go/internal/voice"
)

type fakeSource struct {
	t  float64
	ok bool
}

func (f *fakeSource) Now() (float64, bool) { return f.t, f.ok }

type rig struct {
	src    *fakeSource
	store  *project.MemStore
	pool   *voice.Pool
	s      *Scheduler
	notes  []NoteEvent
	events []Event
}

func newRig(t *testing.T) *rig {
	t.Helper()
	log, _ := test.NewNullLogger()
	g := audio.NewGraph(8000)
	r := &rig{
		src:   &fakeSource{ok: true},
		store: project.NewMemStore(),
		pool:  voice.NewPool(voice.NewFactory(voice.DefaultRegistry(), g, log)),
	}
	r.store.PutTrack(project.Track{ID: "lead", InstrumentID: "analog-synth"})
	r.s = New(r.src, r.store, r.pool, metronome.New(g, 0.5), Options{
		Logger:  log,
		OnEvent: func(ev Event) { r.events = append(r.events, ev) },
		OnNote:  func(ev NoteEvent) { r.notes = append(r.notes, ev) },
	})
	return r
}

// addClip stores a clip on the lead track and activates it.
func (r *rig) addClip(t *testing.T, id string, loop bool, notes ...project.MidiNote) {
	t.Helper()
	c := project.NewClip(id, "lead", 0, 4)
	c.Loop = loop
	for _, n := range notes {
		c.AddNote(n)
	}
	if err := r.store.PutClip(c); err != nil {
		t.Fatal(err)
	}
	if err := r.s.StartClip(id); err != nil {
		t.Fatal(err)
	}
}

// run advances the fake audio clock in 20 ms passes until it reaches until.
func (r *rig) run(until float64) {
	for r.src.t < until-1e-9 {
		r.src.t += 0.02
		r.s.Tick()
	}
}

func (r *rig) ons() []NoteEvent {
	var out []NoteEvent
	for _, n := range r.notes {
		if n.On {
			out = append(out, n)
		}
	}
	return out
}

func (r *rig) count(kind EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestPlayWithoutClockFails(t *testing.T) {
	r := newRig(t)
	r.src.ok = false
	if err := r.s.Play(); !errors.Is(err, ErrNoClock) {
		t.Fatalf("Play err = %v, want ErrNoClock", err)
	}
	if r.s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", r.s.State())
	}
	r.s.Tick()
}

func TestThreeLoopIterationsFireThreeOnOffPairs(t *testing.T) {
	r := newRig(t)
	r.s.SetBPM(120)
	r.s.SetLoop(true, 0, 4)
	r.addClip(t, "c", true, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Start: 0, Duration: 1})
	if err := r.s.Play(); err != nil {
		t.Fatal(err)
	}
	r.run(1.5)
	if r.s.ActiveNoteCount() != 0 || r.pool.ActiveVoiceCount() != 0 {
		t.Fatalf("note still sounding between iterations: notes %d voices %d", r.s.ActiveNoteCount(), r.pool.ActiveVoiceCount())
	}
	r.run(5.5)

	var ons, offs int
	sounding := false
	last := -1.0
	for _, n := range r.notes {
		if n.Pitch != 60 {
			t.Fatalf("unexpected pitch %d", n.Pitch)
		}
		if n.AudioTime <= last {
			t.Fatalf("events not strictly increasing: %v", r.notes)
		}
		last = n.AudioTime
		if n.On {
			if sounding {
				t.Fatalf("two simultaneous note-ons for pitch 60: %v", r.notes)
			}
			sounding = true
			ons++
		} else {
			sounding = false
			offs++
		}
	}
	if ons != 3 || offs != 3 {
		t.Fatalf("got %d ons and %d offs, want 3 and 3: %v", ons, offs, r.notes)
	}
	for i, want := range []float64{0, 2, 4} {
		if got := r.ons()[i].AudioTime; !near(got, want) {
			t.Fatalf("note-on %d at %v, want %v", i, got, want)
		}
	}
	if n := r.count(EventLoopWrapped); n != 2 {
		t.Fatalf("loop wraps = %d, want 2", n)
	}
}

func TestLoopRoundTripRetriggersOncePerIteration(t *testing.T) {
	r := newRig(t)
	r.s.SetLoop(true, 0, 8)
	r.addClip(t, "c", false, project.MidiNote{ID: "n", Pitch: 64, Velocity: 90, Start: 0, Duration: 1})
	r.s.Play()
	r.run(3.5)
	if r.pool.ActiveVoiceCount() != 0 {
		t.Fatalf("voices = %d between iterations, want 0", r.pool.ActiveVoiceCount())
	}
	r.run(11.5)
	ons := r.ons()
	if len(ons) != 3 {
		t.Fatalf("ons = %d, want 3", len(ons))
	}
	for i, want := range []float64{0, 4, 8} {
		if !near(ons[i].AudioTime, want) {
			t.Fatalf("on %d at %v, want %v", i, ons[i].AudioTime, want)
		}
	}
}

func TestLoopWrapCutsNotesCrossingTheBoundary(t *testing.T) {
	r := newRig(t)
	r.s.SetLoop(true, 0, 4)
	r.addClip(t, "c", false, project.MidiNote{ID: "long", Pitch: 67, Velocity: 100, Start: 3.5, Duration: 2})
	r.s.Play()
	r.run(1.9)
	if r.s.ActiveNoteCount() != 1 {
		t.Fatalf("ActiveNoteCount = %d, want 1 before the wrap", r.s.ActiveNoteCount())
	}
	r.run(2.2)
	if r.s.ActiveNoteCount() != 0 || r.pool.ActiveVoiceCount() != 0 {
		t.Fatalf("note hung across the wrap: notes %d voices %d", r.s.ActiveNoteCount(), r.pool.ActiveVoiceCount())
	}
	if len(r.notes) != 2 || r.notes[1].On || !near(r.notes[1].AudioTime, 2) {
		t.Fatalf("notes = %+v, want an off at the wrap time", r.notes)
	}
	if r.notes[1].TrackID != "lead" {
		t.Fatalf("forced off lost its track: %+v", r.notes[1])
	}
}

func TestSeekInvalidatesQueuedStarts(t *testing.T) {
	r := newRig(t)
	r.addClip(t, "c", false, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Start: 0.2, Duration: 0.2})
	r.s.Play()
	if r.s.Snapshot().Pending == 0 {
		t.Fatalf("note start should be queued ahead of time")
	}
	r.s.SetPosition(2)
	r.run(0.5)
	if len(r.ons()) != 0 {
		t.Fatalf("stale start fired after seek: %v", r.notes)
	}
	if r.pool.ActiveVoiceCount() != 0 {
		t.Fatalf("voices = %d, want 0", r.pool.ActiveVoiceCount())
	}
	if r.s.Snapshot().Dropped == 0 {
		t.Fatalf("seek dropped nothing")
	}
}

func TestOverlappingScansDoNotDoubleFire(t *testing.T) {
	r := newRig(t)
	var notes []project.MidiNote
	for i := 0; i < 4; i++ {
		notes = append(notes, project.MidiNote{ID: string(rune('a' + i)), Pitch: uint8(60 + i), Velocity: 100, Start: float64(i), Duration: 0.5})
	}
	r.addClip(t, "c", true, notes...)
	r.s.Play()
	for r.src.t < 1.0 {
		// re-starting an active clip must not queue anything twice
		if err := r.s.StartClip("c"); err != nil {
			t.Fatal(err)
		}
		r.src.t += 0.02
		r.s.Tick()
	}
	ons := r.ons()
	if len(ons) != 3 {
		t.Fatalf("ons = %d, want 3: %v", len(ons), ons)
	}
	seen := map[string]bool{}
	for _, n := range ons {
		if seen[n.NoteID] {
			t.Fatalf("note %s fired twice", n.NoteID)
		}
		seen[n.NoteID] = true
	}
}

func TestBPMChangeNeverProducesNegativeDuration(t *testing.T) {
	for _, bpm := range []float64{60, 200} {
		r := newRig(t)
		r.addClip(t, "c", true,
			project.MidiNote{ID: "a", Pitch: 60, Velocity: 100, Start: 0, Duration: 1},
			project.MidiNote{ID: "b", Pitch: 62, Velocity: 100, Start: 0.5, Duration: 0.25},
		)
		r.s.Play()
		r.run(0.3)
		if got := r.s.SetBPM(bpm); got != bpm {
			t.Fatalf("SetBPM = %v, want %v", got, bpm)
		}
		r.run(5)
		starts := map[string]float64{}
		offs := 0
		for _, n := range r.notes {
			if n.On {
				starts[n.NoteID] = n.AudioTime
				continue
			}
			offs++
			if n.AudioTime < starts[n.NoteID] {
				t.Fatalf("bpm %v: note %s off at %v before on at %v", bpm, n.NoteID, n.AudioTime, starts[n.NoteID])
			}
		}
		if offs == 0 {
			t.Fatalf("bpm %v: no note-offs fired", bpm)
		}
	}
}

func TestSetBPMIsClamped(t *testing.T) {
	r := newRig(t)
	if got := r.s.SetBPM(1000); got != 200 {
		t.Fatalf("SetBPM(1000) = %v, want 200", got)
	}
	if got := r.s.SetBPM(10); got != 60 {
		t.Fatalf("SetBPM(10) = %v, want 60", got)
	}
}

func TestMetronomeClicksOncePerBeat(t *testing.T) {
	r := newRig(t)
	r.s.SetTimeSignature(4, 4)
	r.s.SetMetronome(true)
	r.s.Play()
	r.run(3.9)
	var clicks []Event
	for _, ev := range r.events {
		if ev.Kind == EventClick {
			clicks = append(clicks, ev)
		}
	}
	if len(clicks) != 8 {
		t.Fatalf("clicks = %d, want 8", len(clicks))
	}
	for i, c := range clicks {
		if int(c.Beat) != i {
			t.Fatalf("click %d on beat %v", i, c.Beat)
		}
		if want := i%4 == 0; c.Downbeat != want {
			t.Fatalf("beat %d downbeat = %v, want %v", i, c.Downbeat, want)
		}
		if !near(c.AudioTime, float64(i)*0.5) {
			t.Fatalf("beat %d clicked at %v", i, c.AudioTime)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := newRig(t)
	r.addClip(t, "c", true, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 3})
	r.s.Play()
	r.run(0.5)
	r.s.Stop()
	r.s.Stop()
	r.s.StopClip("c")
	r.s.StopClip("c")
	r.s.StopClip("never-started")
	if n := r.count(EventStopped); n != 1 {
		t.Fatalf("stopped events = %d, want 1", n)
	}
	if r.pool.ActiveVoiceCount() != 0 || r.s.ActiveNoteCount() != 0 {
		t.Fatalf("voices %d notes %d after stop", r.pool.ActiveVoiceCount(), r.s.ActiveNoteCount())
	}
	if r.s.CurrentTime() != 0 {
		t.Fatalf("CurrentTime after Stop = %v, want 0", r.s.CurrentTime())
	}
}

func TestStopClipCutsItsNotesAndCancelsTasks(t *testing.T) {
	r := newRig(t)
	r.addClip(t, "c", true, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 3})
	r.s.Play()
	r.run(0.2)
	if r.s.ActiveNoteCount() != 1 {
		t.Fatalf("ActiveNoteCount = %d, want 1", r.s.ActiveNoteCount())
	}
	r.s.StopClip("c")
	if r.s.ActiveNoteCount() != 0 || r.pool.ActiveVoiceCount() != 0 {
		t.Fatalf("clip stop left notes %d voices %d", r.s.ActiveNoteCount(), r.pool.ActiveVoiceCount())
	}
	if r.s.IsClipPlaying("c") {
		t.Fatalf("clip still active")
	}
	r.run(4)
	if len(r.ons()) != 1 {
		t.Fatalf("clip kept playing after StopClip: %v", r.notes)
	}
}

func TestUnresolvedInstrumentSkipsOnlyThatClip(t *testing.T) {
	r := newRig(t)
	r.store.PutTrack(project.Track{ID: "bad", InstrumentID: "theremin"})
	bad := project.NewClip("bad", "bad", 0, 4)
	bad.AddNote(project.MidiNote{ID: "x", Pitch: 50, Velocity: 100, Duration: 1})
	if err := r.store.PutClip(bad); err != nil {
		t.Fatal(err)
	}
	r.s.StartClip("bad")
	r.addClip(t, "good", true, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 1})
	r.s.Play()
	r.run(1)
	ons := r.ons()
	if len(ons) != 1 || ons[0].ClipID != "good" {
		t.Fatalf("ons = %v, want only the good clip", ons)
	}
}

func TestSwingDelaysOffBeats(t *testing.T) {
	r := newRig(t)
	r.s.SetQuantization(4)
	if got := r.s.SetSwing(150); got != 100 {
		t.Fatalf("SetSwing(150) = %v, want 100", got)
	}
	r.addClip(t, "c", false,
		project.MidiNote{ID: "off", Pitch: 60, Velocity: 100, Start: 0.25, Duration: 0.1},
		project.MidiNote{ID: "on", Pitch: 62, Velocity: 100, Start: 0.5, Duration: 0.1},
	)
	r.s.Play()
	r.run(1)
	got := map[string]float64{}
	for _, n := range r.ons() {
		got[n.NoteID] = n.AudioTime
	}
	// 100% swing at 1/4 grid: 0.025 beats, 12.5 ms at 120 bpm
	if !near(got["off"], 0.125+0.0125) {
		t.Fatalf("off-beat note at %v, want 0.1375", got["off"])
	}
	if !near(got["on"], 0.25) {
		t.Fatalf("on-beat note at %v, want 0.25", got["on"])
	}
}

func TestQuantizationAndPosition(t *testing.T) {
	r := newRig(t)
	for _, tc := range []struct{ in, want int }{{0, 1}, {100, 64}, {8, 8}} {
		if got := r.s.SetQuantization(tc.in); got != tc.want {
			t.Fatalf("SetQuantization(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	r.s.SetQuantization(16)
	for _, tc := range []struct{ in, want float64 }{{1.03, 1}, {1.04, 1.0625}, {0, 0}} {
		if got := r.s.QuantizePosition(tc.in); !near(got, tc.want) {
			t.Fatalf("QuantizePosition(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	r.s.SetPosition(-4)
	if r.s.CurrentTime() != 0 {
		t.Fatalf("negative position not clamped: %v", r.s.CurrentTime())
	}
	r.s.SetPosition(5.5)
	p := r.s.PlayheadPosition()
	if p.Bar != 1 || p.BeatInBar != 1 || p.Sixteenth != 2 || p.Tick != 480 {
		t.Fatalf("playhead = %+v", p)
	}
	l := r.s.SetLoop(true, -2, 0.5)
	if l.Start != 0 || l.End != 1 {
		t.Fatalf("loop = %+v, want [0,1)", l)
	}
}

func TestPauseKeepsPosition(t *testing.T) {
	r := newRig(t)
	r.addClip(t, "c", true, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 3})
	r.s.Play()
	r.run(1)
	r.s.Pause()
	if !near(r.s.CurrentTime(), 2) {
		t.Fatalf("paused at %v, want 2", r.s.CurrentTime())
	}
	if r.s.ActiveNoteCount() != 0 {
		t.Fatalf("pause left %d notes sounding", r.s.ActiveNoteCount())
	}
	r.src.t = 5
	if !near(r.s.CurrentTime(), 2) {
		t.Fatalf("position moved while paused: %v", r.s.CurrentTime())
	}
	if err := r.s.Resume(); err != nil {
		t.Fatal(err)
	}
	r.run(5.5)
	if !near(r.s.CurrentTime(), 3) {
		t.Fatalf("resumed position = %v, want 3", r.s.CurrentTime())
	}
	if r.s.State() != Playing {
		t.Fatalf("state = %v", r.s.State())
	}
}

func TestBeatAndBarEvents(t *testing.T) {
	r := newRig(t)
	r.s.Play()
	r.run(4.01)
	if n := r.count(EventBeat); n != 9 {
		t.Fatalf("beat events = %d, want 9", n)
	}
	if n := r.count(EventBar); n != 3 {
		t.Fatalf("bar events = %d, want 3", n)
	}
}

func TestStartClipWhileWrapIsPendingFiresOncePerIteration(t *testing.T) {
	r := newRig(t)
	r.s.SetLoop(true, 0, 1)
	r.addClip(t, "c", false, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Start: 0.95, Duration: 0.04})
	d := project.NewClip("d", "lead", 0, 4)
	d.AddNote(project.MidiNote{ID: "n", Pitch: 62, Velocity: 100, Start: 0.96, Duration: 0.02})
	if err := r.store.PutClip(d); err != nil {
		t.Fatal(err)
	}
	r.s.Play()
	r.run(0.44)
	if !r.s.wrapPending {
		t.Fatalf("wrap should be queued at t=0.44")
	}
	if n := len(r.ons()); n != 1 {
		t.Fatalf("ons before restart = %d, want 1", n)
	}
	if err := r.s.StartClip("c"); err != nil {
		t.Fatal(err)
	}
	if err := r.s.StartClip("d"); err != nil {
		t.Fatal(err)
	}
	r.run(1.49)

	got := map[string][]float64{}
	for _, n := range r.ons() {
		got[n.ClipID] = append(got[n.ClipID], n.AudioTime)
	}
	for clip, want := range map[string][]float64{
		"c": {0.475, 0.975, 1.475},
		"d": {0.48, 0.98, 1.48},
	} {
		if len(got[clip]) != len(want) {
			t.Fatalf("clip %s ons at %v, want %v", clip, got[clip], want)
		}
		for i := range want {
			if !near(got[clip][i], want[i]) {
				t.Fatalf("clip %s ons at %v, want %v", clip, got[clip], want)
			}
		}
	}
}

func TestEditsAfterNoteOnStillStopTheNote(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(r *rig)
	}{
		{"mute clip", func(r *rig) {
			c, _ := r.store.Clip("c")
			c.Muted = true
			r.store.PutClip(c)
		}},
		{"mute track", func(r *rig) {
			r.store.PutTrack(project.Track{ID: "lead", InstrumentID: "analog-synth", Muted: true})
		}},
		{"remove note", func(r *rig) {
			r.store.RemoveNote("c", "n")
		}},
		{"shorten note", func(r *rig) {
			r.store.RemoveNote("c", "n")
			r.store.AddNote("c", project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 0.5})
		}},
		{"delete clip", func(r *rig) {
			r.store.DeleteClip("c")
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			r.addClip(t, "c", false, project.MidiNote{ID: "n", Pitch: 60, Velocity: 100, Duration: 2})
			r.s.Play()
			r.run(0.2)
			if r.s.ActiveNoteCount() != 1 {
				t.Fatalf("ActiveNoteCount = %d, want 1", r.s.ActiveNoteCount())
			}
			tc.edit(r)
			r.run(0.4)
			if r.s.ActiveNoteCount() != 0 || r.pool.ActiveVoiceCount() != 0 {
				t.Fatalf("note left sounding: notes %d voices %d", r.s.ActiveNoteCount(), r.pool.ActiveVoiceCount())
			}
			if len(r.notes) != 2 || r.notes[1].On || r.notes[1].AudioTime > 0.4 {
				t.Fatalf("notes = %+v, want one off by t=0.4", r.notes)
			}
			r.run(3)
			if len(r.notes) != 2 {
				t.Fatalf("notes after edit = %+v", r.notes)
			}
		})
	}
}

func TestOldEpochStartAfterWrapIsDropped(t *testing.T) {
	r := newRig(t)
	r.s.SetLoop(true, 0, 4)
	r.addClip(t, "c", false, project.MidiNote{ID: "n", Pitch: 72, Velocity: 100, Start: 0, Duration: 0.1})
	r.s.Play()
	r.run(1.88)
	if r.s.wrapPending {
		t.Fatalf("wrap queued too early")
	}
	// a start queued before the wrap but due after it
	late := playback.Occurrence{
		Kind:     playback.NoteStart,
		ClipID:   "c",
		TrackID:  "lead",
		Note:     project.MidiNote{ID: "late", Pitch: 50, Velocity: 100, Duration: 1},
		Beat:     3.99,
		NoteBeat: 3.99,
	}
	r.s.schedule(late, func(float64) float64 { return 2.01 }, r.s.queue.Epoch())
	dropped := r.s.Snapshot().Dropped
	r.run(2.2)

	for _, n := range r.notes {
		if n.NoteID == "late" {
			t.Fatalf("stale start fired after the wrap: %+v", n)
		}
	}
	if got := r.s.Snapshot().Dropped; got <= dropped {
		t.Fatalf("Dropped = %d, want more than %d", got, dropped)
	}
	if r.pool.ActiveVoiceCount() != 0 || r.s.ActiveNoteCount() != 0 {
		t.Fatalf("voices %d notes %d after the wrap", r.pool.ActiveVoiceCount(), r.s.ActiveNoteCount())
	}
	if n := len(r.ons()); n != 2 {
		t.Fatalf("ons = %d, want the note once per iteration", n)
	}
}
