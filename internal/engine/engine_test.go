package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/timemap"
)

// manualClock drives Options.Now deterministically.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder captures emitted events.
type recorder struct {
	mu          sync.Mutex
	carets      []float64
	ended       int
	unavailable []string
}

func (r *recorder) CaretUpdate(sec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carets = append(r.carets, sec)
}

func (r *recorder) ProjectEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

func (r *recorder) PreviewUnavailable(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, reason)
}

func (r *recorder) lastCaret() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.carets) == 0 {
		return 0, false
	}
	return r.carets[len(r.carets)-1], true
}

type fixture struct {
	clock  *manualClock
	video  *player.Fake
	music  *player.Fake
	events *recorder
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  newManualClock(),
		video:  player.NewFake("video"),
		music:  player.NewFake("music"),
		events: &recorder{},
	}
	opts := DefaultOptions()
	opts.Now = f.clock.Now
	f.coord = New(f.video, f.music, f.events, opts)
	t.Cleanup(func() { f.coord.Close() })
	return f
}

// seek issues a coordinator seek and waits for the trailing flush to reach
// the video adapter, then re-synchronizes on the coordinator lock.
func (f *fixture) seek(t *testing.T, projectSec float64, exact bool) SeekOutcome {
	t.Helper()
	before := f.video.SeekCount()
	outcome := f.coord.Seek(projectSec, exact)
	deadline := time.Now().Add(2 * time.Second)
	for f.video.SeekCount() == before {
		if time.Now().After(deadline) {
			t.Fatalf("seek to %v was never applied", projectSec)
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.coord.GetStatus()
	return outcome
}

func TestConstantTempoMusicAtHighBaseSpeed(t *testing.T) {
	// Scenario: base 3.1x over a 31 s clip, 10 s music window at project 1 s.
	f := newFixture(t)
	f.video.DefaultDurationMs = 31000
	f.music.DefaultDurationMs = 120000

	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File:          "track.mp3",
		FileOffsetMs:  0,
		WindowStartMs: 1000,
		WindowEndMs:   11000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.coord.SetBaseSpeed(3.1); err != nil {
		t.Fatal(err)
	}

	f.coord.SetIntent(true)
	if got := f.seek(t, 5.0, false); got != SeekAccepted {
		t.Fatalf("seek outcome = %v, want accepted", got)
	}

	if got := f.video.Rate(); got != 3.1 {
		t.Errorf("video rate = %v, want 3.1", got)
	}
	if got := f.music.Rate(); got != 1.0 {
		t.Errorf("music rate = %v, want pitch-locked 1.0", got)
	}
	// Music position at project 5 s = (5 - 1) * 1.0 + 0 = 4 s into the file.
	if ms, _ := f.music.LastSeek(); ms != 4000 {
		t.Errorf("music seek target = %d ms, want 4000", ms)
	}
	// Video position: 5 project seconds at 3.1x = 15.5 s of source.
	if ms, _ := f.video.LastSeek(); ms != 15500 {
		t.Errorf("video seek target = %d ms, want 15500", ms)
	}
}

func TestScrubStormCoalesces(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	before := f.video.SeekCount()

	for i := 0; i < 15; i++ {
		f.coord.Seek(float64(i)*0.1, false)
		f.clock.Advance(20 * time.Millisecond)
	}
	if applied := f.video.SeekCount() - before; applied != 0 {
		t.Fatalf("storm applied %d adapter seeks before the flush, want 0", applied)
	}

	// The trailing flush runs on a real timer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ms, _ := f.video.LastSeek(); ms == 1400 {
			break
		}
		if time.Now().After(deadline) {
			ms, _ := f.video.LastSeek()
			t.Fatalf("final adapter target = %d ms, want last requested 1400", ms)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRapidSeekPairAppliesOnlyLastTarget(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	before := f.video.SeekCount()

	f.coord.Seek(1.0, false)
	f.clock.Advance(20 * time.Millisecond)
	f.coord.Seek(2.0, false)

	deadline := time.Now().Add(2 * time.Second)
	for f.video.SeekCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("coalesced seek never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Give a second flush, if one were scheduled, time to land.
	time.Sleep(120 * time.Millisecond)
	if applied := f.video.SeekCount() - before; applied != 1 {
		t.Fatalf("pair issued %d adapter seeks, want exactly 1", applied)
	}
	if ms, _ := f.video.LastSeek(); ms != 2000 {
		t.Fatalf("adapter target = %d ms, want last requested 2000", ms)
	}
}

func TestSeekLockIgnoresAdapterTime(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}

	f.seek(t, 10.0, true)
	// Driver still catching up: reports a stale early position.
	f.video.SetTimeMs(2000)

	f.clock.Advance(100 * time.Millisecond) // within the seek lock
	f.coord.Tick()
	if caret, ok := f.events.lastCaret(); !ok || caret != 10.0 {
		t.Fatalf("caret during seek lock = %v, want pinned at 10.0", caret)
	}

	// While playing, the caret advances at wall rate off the seek target.
	f.coord.SetIntent(true)
	f.seek(t, 10.0, true)
	f.clock.Advance(200 * time.Millisecond)
	f.coord.Tick()
	caret, _ := f.events.lastCaret()
	if caret < 10.19 || caret > 10.21 {
		t.Fatalf("caret during playing seek lock = %v, want ~10.2", caret)
	}
}

func TestTransientZeroTimeKeepsLastKnownGood(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	f.seek(t, 10.0, true)
	f.clock.Advance(500 * time.Millisecond) // past the seek lock

	f.video.ZeroTimeReads = 1
	f.coord.Tick()
	if caret, _ := f.events.lastCaret(); caret != 10.0 {
		t.Fatalf("caret after transient zero = %v, want held at 10.0", caret)
	}
}

func TestMusicDriftTriggersSilentReseek(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	f.music.DefaultDurationMs = 120000
	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File: "track.mp3", WindowStartMs: 0, WindowEndMs: 60000,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)
	f.seek(t, 10.0, false)
	f.clock.Advance(500 * time.Millisecond)

	// Drift beyond tolerance: expected 10 s, actual 10.4 s.
	f.music.SetTimeMs(10400)
	seeksBefore := f.music.SeekCount()
	f.coord.Tick()
	if f.music.SeekCount() != seeksBefore+1 {
		t.Fatal("expected a silent music re-seek on drift")
	}
	if ms, _ := f.music.LastSeek(); ms != 10000 {
		t.Fatalf("music re-seek target = %d, want 10000", ms)
	}

	// Within tolerance: no correction.
	f.music.SetTimeMs(10050)
	f.video.SetTimeMs(10000)
	seeksBefore = f.music.SeekCount()
	f.coord.Tick()
	if f.music.SeekCount() != seeksBefore {
		t.Fatal("music re-seek issued despite drift within tolerance")
	}
}

func TestMusicPausedOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	f.music.DefaultDurationMs = 120000
	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File: "track.mp3", WindowStartMs: 20000, WindowEndMs: 30000,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)

	f.seek(t, 5.0, false) // before the window
	if got := f.music.State(); got == player.StatePlaying {
		t.Fatal("music playing outside its window")
	}

	f.clock.Advance(time.Second)
	f.seek(t, 25.0, false) // inside the window
	if got := f.music.State(); got != player.StatePlaying {
		t.Fatalf("music state inside window = %v, want playing", got)
	}
	if ms, _ := f.music.LastSeek(); ms != 5000 {
		t.Fatalf("music target = %d, want 5000 (25s - 20s window start)", ms)
	}
}

func TestProjectEndFinalize(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 30000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)
	f.seek(t, 29.0, false)
	f.clock.Advance(500 * time.Millisecond)

	f.video.SetTimeMs(29990) // within 25 ms of trim end
	f.coord.Tick()

	if f.video.State() == player.StatePlaying {
		t.Fatal("video still playing after project end")
	}
	if f.coord.Intent() {
		t.Fatal("intent still playing after project end")
	}
	if caret, _ := f.events.lastCaret(); caret != 30.0 {
		t.Fatalf("caret after finalize = %v, want 30.0", caret)
	}
	if f.events.ended != 1 {
		t.Fatalf("ProjectEnded emitted %d times, want once", f.events.ended)
	}

	// Further ticks at the end do not repeat the event.
	f.video.SetTimeMs(30000)
	f.coord.Tick()
	if f.events.ended != 1 {
		t.Fatalf("ProjectEnded emitted %d times after extra tick, want once", f.events.ended)
	}
}

func TestReplayAfterEnd(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 30000
	f.music.DefaultDurationMs = 120000
	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File: "track.mp3", FileOffsetMs: 7000, WindowStartMs: 0, WindowEndMs: 30000,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.video.SetState(player.StateEnded)
	f.video.SetTimeMs(30000)

	f.coord.SetIntent(true)

	if got := f.video.State(); got != player.StatePlaying {
		t.Fatalf("video state after replay = %v, want playing", got)
	}
	if ms, exact := f.video.LastSeek(); ms != 0 || !exact {
		t.Fatalf("replay video seek = (%d, %v), want (0, exact)", ms, exact)
	}
	// Trim start is inside the window, so music restarts at its file offset.
	if ms, _ := f.music.LastSeek(); ms != 7000 {
		t.Fatalf("replay music seek = %d, want file offset 7000", ms)
	}
}

func TestMagneticMusicReTrim(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 10000
	f.music.DefaultDurationMs = 120000
	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File: "track.mp3", WindowStartMs: 4000, WindowEndMs: 6000,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Trim start moves to 5 s: the window slides onto the new project axis
	// and is pushed back inside it, keeping its 2 s duration.
	if err := f.coord.SetTrim(5000, 10000); err != nil {
		t.Fatal(err)
	}
	start, end, ok := f.coord.MusicWindow()
	if !ok {
		t.Fatal("music window missing")
	}
	if start != 0 || end != 2000 {
		t.Fatalf("window after re-trim = [%d, %d], want [0, 2000]", start, end)
	}

	// Trim end pulled inwards past the window end: clamp, keep duration.
	if err := f.coord.SetTrim(5000, 6000); err != nil {
		t.Fatal(err)
	}
	start, end, _ = f.coord.MusicWindow()
	if end != 1000 || end-start > 1000 {
		t.Fatalf("window after inward trim = [%d, %d], want within [0, 1000]", start, end)
	}
}

func TestRateCorrectionIsDebounced(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 20000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	plan := timemap.Plan{BaseSpeed: 1.0, Segments: []timemap.Segment{
		{StartMs: 5000, EndMs: 10000, Speed: 2.0},
	}}
	if err := f.coord.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)
	f.seek(t, 1.0, false)
	f.clock.Advance(500 * time.Millisecond)

	// Playhead crosses into the 2x segment.
	f.video.SetTimeMs(6000)
	f.coord.Tick()
	if got := f.video.Rate(); got != 2.0 {
		t.Fatalf("rate after entering segment = %v, want 2.0", got)
	}

	// Crossing back immediately is held off by the rate debounce.
	f.video.SetTimeMs(4000)
	f.clock.Advance(10 * time.Millisecond)
	f.coord.Tick()
	if got := f.video.Rate(); got != 2.0 {
		t.Fatalf("rate changed within debounce interval: %v", got)
	}
	f.clock.Advance(100 * time.Millisecond)
	f.video.SetTimeMs(4000)
	f.coord.Tick()
	if got := f.video.Rate(); got != 1.0 {
		t.Fatalf("rate after debounce interval = %v, want 1.0", got)
	}
}

func TestVideoErrorReportedOnce(t *testing.T) {
	f := newFixture(t)
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)
	f.video.SetState(player.StateError)

	f.coord.Tick()
	f.coord.Tick()
	f.coord.Tick()

	if len(f.events.unavailable) != 1 {
		t.Fatalf("PreviewUnavailable emitted %d times, want once", len(f.events.unavailable))
	}
	if f.coord.Intent() {
		t.Fatal("intent still playing after video error")
	}
}

func TestMusicEndedStopsDrivingMusic(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 60000
	f.music.DefaultDurationMs = 10000
	err := f.coord.SetMedia("clip.mp4", &MusicPlan{
		File: "track.mp3", WindowStartMs: 0, WindowEndMs: 60000,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.coord.SetIntent(true)
	f.seek(t, 5.0, false)
	f.clock.Advance(500 * time.Millisecond)

	f.music.SetState(player.StateEnded)
	f.video.SetTimeMs(20000)
	f.coord.Tick()

	seeks := f.music.SeekCount()
	f.video.SetTimeMs(25000)
	f.coord.Tick()
	if f.music.SeekCount() != seeks {
		t.Fatal("coordinator kept driving an ended music adapter")
	}
}

func TestInvalidPlanRefusedKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	good := timemap.Plan{BaseSpeed: 1.5}
	if err := f.coord.SetPlan(good); err != nil {
		t.Fatal(err)
	}
	bad := timemap.Plan{BaseSpeed: 9.0}
	if err := f.coord.SetPlan(bad); err == nil {
		t.Fatal("invalid plan accepted")
	}
	if got := f.coord.Plan().BaseSpeed; got != 1.5 {
		t.Fatalf("plan base speed = %v, want previous 1.5", got)
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	f.video.DefaultDurationMs = 20000
	if err := f.coord.SetMedia("clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	f.seek(t, 5.0, true)
	st := f.coord.GetStatus()
	if st.DurationSec != 20.0 {
		t.Errorf("status duration = %v, want 20", st.DurationSec)
	}
	if st.ProjectSec != 5.0 {
		t.Errorf("status project sec = %v, want 5", st.ProjectSec)
	}
}
