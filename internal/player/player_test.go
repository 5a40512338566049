package player

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestClampHelpers(t *testing.T) {
	if got := ClampRate(0.01); got != RateMin {
		t.Errorf("ClampRate(0.01) = %v", got)
	}
	if got := ClampRate(9); got != RateMax {
		t.Errorf("ClampRate(9) = %v", got)
	}
	if got := ClampRate(1.5); got != 1.5 {
		t.Errorf("ClampRate(1.5) = %v", got)
	}
	if got := ClampVolume(-3); got != 0 {
		t.Errorf("ClampVolume(-3) = %v", got)
	}
	if got := ClampVolume(250); got != 100 {
		t.Errorf("ClampVolume(250) = %v", got)
	}
	if got := ClampSeek(-100, 60000); got != 0 {
		t.Errorf("ClampSeek(-100) = %v", got)
	}
	if got := ClampSeek(99999, 60000); got != 60000 {
		t.Errorf("ClampSeek past end = %v", got)
	}
	if got := ClampSeek(99999, 0); got != 99999 {
		t.Errorf("ClampSeek with unknown duration = %v", got)
	}
}

func TestFakeLoadIsIdempotent(t *testing.T) {
	f := NewFake("video")
	if err := f.Load("a.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := f.Load("a.mp4"); err != nil {
		t.Fatal(err)
	}
	loads := 0
	for _, c := range f.Calls() {
		if c == "load:a.mp4" {
			loads++
		}
	}
	if loads != 1 {
		t.Fatalf("reload of same path issued %d loads, want 1", loads)
	}
}

func TestFakeLoadFailure(t *testing.T) {
	f := NewFake("video")
	f.LoadErrs["broken.mp4"] = errors.New("demux error")
	err := f.Load("broken.mp4")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("error %v does not wrap ErrLoadFailed", err)
	}
	if f.State() != StateError {
		t.Fatalf("state = %v, want error", f.State())
	}
}

func TestFakeAdvanceEndsAtDuration(t *testing.T) {
	f := NewFake("video")
	f.DefaultDurationMs = 1000
	if err := f.Load("a.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetRate(2.0); err != nil {
		t.Fatal(err)
	}
	if err := f.Play(); err != nil {
		t.Fatal(err)
	}
	f.Advance(600) // 600 ms wall at 2.0x = 1200 ms source, past the end
	if f.State() != StateEnded {
		t.Fatalf("state = %v, want ended", f.State())
	}
	if f.TimeMs() != 1000 {
		t.Fatalf("time = %d, want pinned at 1000", f.TimeMs())
	}
}

func TestStatusRegionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	w, err := NewStatusWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	want := Status{State: StatePlaying, TimeMs: 15230, LengthMs: 60000}
	if err := w.Write(want); err != nil {
		t.Fatal(err)
	}

	r, err := OpenStatusReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("read %+v, want %+v", got, want)
	}
}

func TestStatusReaderRejectsImplausibleBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	w, err := NewStatusWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// A torn or garbage write: state far outside the enum.
	if err := w.Write(Status{State: 999, TimeMs: 1, LengthMs: 1}); err != nil {
		t.Fatal(err)
	}

	r, err := OpenStatusReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Read(); err == nil {
		t.Fatal("expected error for implausible status block")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "idle",
		StateOpening: "opening",
		StatePlaying: "playing",
		StatePaused:  "paused",
		StateEnded:   "ended",
		StateError:   "error",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
