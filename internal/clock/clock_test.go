package clock

import (
	"math"
	"testing"
)

type fakeSource struct {
	now float64
	ok  bool
}

func (f *fakeSource) Now() (float64, bool) { return f.now, f.ok }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestConversionRoundTrip(t *testing.T) {
	src := &fakeSource{now: 10, ok: true}
	e := New(src)
	e.SetBPM(120)
	if !e.Start(4) {
		t.Fatalf("Start returned false with a running clock")
	}
	if got := e.BeatToAudioTime(6); !near(got, 11) {
		t.Fatalf("BeatToAudioTime(6) = %v, want 11", got)
	}
	if got := e.AudioTimeToBeat(11.5); !near(got, 7) {
		t.Fatalf("AudioTimeToBeat(11.5) = %v, want 7", got)
	}
	for _, beat := range []float64{4, 4.25, 9.125, 100} {
		if got := e.AudioTimeToBeat(e.BeatToAudioTime(beat)); !near(got, beat) {
			t.Fatalf("round trip %v = %v", beat, got)
		}
	}
}

func TestStartWithoutClockIsNoop(t *testing.T) {
	e := New(&fakeSource{})
	if e.Start(0) {
		t.Fatalf("Start should fail without an audio clock")
	}
	if e.Running() {
		t.Fatalf("engine should stay stopped")
	}
	if _, ok := e.Tick(); ok {
		t.Fatalf("Tick should report no frame while stopped")
	}
}

func TestBPMIsClamped(t *testing.T) {
	e := New(&fakeSource{ok: true})
	for _, tc := range []struct {
		in, want float64
	}{
		{10, MinBPM},
		{500, MaxBPM},
		{133, 133},
		{math.NaN(), DefaultBPM},
	} {
		if got := e.SetBPM(tc.in); got != tc.want {
			t.Fatalf("SetBPM(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBeatAndBarBoundariesFireOnce(t *testing.T) {
	src := &fakeSource{ok: true}
	e := New(src)
	e.SetBPM(120)
	var beats, bars []int
	e.OnBeat(func(ev BeatEvent) { beats = append(beats, ev.Beat) })
	e.OnBar(func(ev BarEvent) { bars = append(bars, ev.Bar) })
	e.Start(0)
	for step := 0; step <= 200; step++ {
		src.now = float64(step) * 0.02
		e.Tick()
		e.Tick()
	}
	// 4 seconds at 120 bpm covers beats 0..8
	if len(beats) != 9 {
		t.Fatalf("beat events = %v, want 0..8", beats)
	}
	for i, b := range beats {
		if b != i {
			t.Fatalf("beat events out of order: %v", beats)
		}
	}
	if len(bars) != 3 || bars[0] != 0 || bars[1] != 1 || bars[2] != 2 {
		t.Fatalf("bar events = %v, want [0 1 2]", bars)
	}
}

func TestFutureAnchorTakesOverAtItsTime(t *testing.T) {
	src := &fakeSource{ok: true}
	e := New(src)
	e.SetBPM(120)
	e.Start(0)
	// wrap back to beat 0 at t=2s (beat 4)
	e.Reanchor(2, 0)
	src.now = 1.9
	if got := e.AudioTimeToBeat(1.9); !near(got, 3.8) {
		t.Fatalf("before wrap beat = %v, want 3.8", got)
	}
	if got := e.AudioTimeToBeat(2.5); !near(got, 1) {
		t.Fatalf("after wrap beat = %v, want 1", got)
	}
	if !e.Pending(1.9) {
		t.Fatalf("anchor at t=2 should be pending at t=1.9")
	}
	var beats []int
	e.OnBeat(func(ev BeatEvent) { beats = append(beats, ev.Beat) })
	e.Tick()
	src.now = 2.01
	e.Tick()
	if e.Pending(2.01) {
		t.Fatalf("anchor should be active after its time")
	}
	if len(beats) == 0 || beats[len(beats)-1] != 0 {
		t.Fatalf("expected beat 0 boundary after wrap, got %v", beats)
	}
}

func TestSetBPMAtKeepsEarlierMapping(t *testing.T) {
	src := &fakeSource{ok: true}
	e := New(src)
	e.SetBPM(60)
	e.Start(0)
	e.SetBPMAt(1, 120)
	if got := e.AudioTimeToBeat(0.5); !near(got, 0.5) {
		t.Fatalf("beat before tempo change = %v, want 0.5", got)
	}
	if got := e.AudioTimeToBeat(2); !near(got, 3) {
		t.Fatalf("beat after tempo change = %v, want 3", got)
	}
	if got := e.BeatToAudioTime(3); !near(got, 2) {
		t.Fatalf("BeatToAudioTime(3) = %v, want 2", got)
	}
}

func TestStopFreezesAndSetPositionClamps(t *testing.T) {
	src := &fakeSource{ok: true}
	e := New(src)
	e.SetBPM(120)
	e.Start(2)
	src.now = 1
	e.Stop()
	if got := e.Beat(); !near(got, 4) {
		t.Fatalf("frozen beat = %v, want 4", got)
	}
	src.now = 5
	if got := e.Beat(); !near(got, 4) {
		t.Fatalf("beat moved while stopped: %v", got)
	}
	e.SetPosition(-3)
	if got := e.Beat(); got != 0 {
		t.Fatalf("negative position should clamp to 0, got %v", got)
	}
}

func TestTimeSignatureNormalized(t *testing.T) {
	e := New(&fakeSource{})
	e.SetTimeSignature(0, 5)
	if n, d := e.TimeSignature(); n != 1 || d != 8 {
		t.Fatalf("TimeSignature = %d/%d, want 1/8", n, d)
	}
}
