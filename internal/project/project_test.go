package project

import (
	"errors"
	"sync"
	"testing"

	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/timemap"
)

type recorder struct {
	mu       sync.Mutex
	carets   []float64
	ended    int
	skipped  []string
	shortMus int
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

func (r *recorder) PartSkipped(path, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, path)
}

func (r *recorder) ShortMusicCoverage(_, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shortMus++
}

func plainPlan(base float64) timemap.Plan {
	return timemap.NewPlan(base)
}

// Three parts: 10 s at 1x, 20 s at 2x, 6 s at 1x. Project clock: 10 + 10 + 6 = 26 s.
func threeParts() []VideoPart {
	return []VideoPart{
		{Path: "a.mp4", DurationMs: 10000, Plan: plainPlan(1.0)},
		{Path: "b.mp4", DurationMs: 20000, Plan: plainPlan(2.0)},
		{Path: "c.mp4", DurationMs: 6000, Plan: plainPlan(1.0)},
	}
}

func newTimeline(t *testing.T, parts []VideoPart, musicParts []MusicPart) (*Timeline, *player.Fake, *player.Fake, *recorder) {
	t.Helper()
	video := player.NewFake("video")
	music := player.NewFake("music")
	for _, p := range parts {
		video.Durations[p.Path] = p.DurationMs
	}
	music.DefaultDurationMs = 600000
	events := &recorder{}
	tl, err := New(video, music, parts, musicParts, events, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tl.Close() })
	return tl, video, music, events
}

func TestTotalProjectLength(t *testing.T) {
	tl, _, _, _ := newTimeline(t, threeParts(), nil)
	if got := tl.TotalProjectSec(); got != 26.0 {
		t.Fatalf("total = %v, want 26", got)
	}
}

func TestResolveAcrossParts(t *testing.T) {
	tl, _, _, _ := newTimeline(t, threeParts(), []MusicPart{
		{Path: "m1.mp3", FileOffsetMs: 2000, DurationMs: 15000},
		{Path: "m2.mp3", FileOffsetMs: 0, DurationMs: 15000},
	})

	tests := []struct {
		projectSec  float64
		wantVideo   int
		wantSource  int64
		wantMusic   int
		wantMusicMs int64
	}{
		{5.0, 0, 5000, 0, 7000},
		{12.0, 1, 4000, 0, 14000}, // 2 s into the 2x part = 4 s of source
		{16.0, 1, 12000, 1, 1000}, // second track, 1 s in
		{21.0, 2, 1000, 1, 6000},
	}
	for _, tt := range tests {
		pos, err := tl.ResolveAt(tt.projectSec)
		if err != nil {
			t.Fatalf("ResolveAt(%v): %v", tt.projectSec, err)
		}
		if pos.VideoIndex != tt.wantVideo || pos.SourceMs != tt.wantSource {
			t.Errorf("ResolveAt(%v) video = (%d, %d), want (%d, %d)",
				tt.projectSec, pos.VideoIndex, pos.SourceMs, tt.wantVideo, tt.wantSource)
		}
		if pos.MusicIndex != tt.wantMusic || pos.MusicTargetMs != tt.wantMusicMs {
			t.Errorf("ResolveAt(%v) music = (%d, %d), want (%d, %d)",
				tt.projectSec, pos.MusicIndex, pos.MusicTargetMs, tt.wantMusic, tt.wantMusicMs)
		}
	}
}

func TestSeekLoadsCorrectPart(t *testing.T) {
	tl, video, _, _ := newTimeline(t, threeParts(), nil)

	if err := tl.Seek(12.0); err != nil {
		t.Fatal(err)
	}
	if video.Path() != "b.mp4" {
		t.Fatalf("loaded path = %q, want b.mp4", video.Path())
	}
	if ms, _ := video.LastSeek(); ms != 4000 {
		t.Fatalf("seek target = %d, want 4000", ms)
	}
	if video.Rate() != 2.0 {
		t.Fatalf("rate = %v, want the part's 2x", video.Rate())
	}
}

func TestBrokenPartIsSkipped(t *testing.T) {
	parts := threeParts()
	video := player.NewFake("video")
	music := player.NewFake("music")
	for _, p := range parts {
		video.Durations[p.Path] = p.DurationMs
	}
	video.LoadErrs["b.mp4"] = errors.New("corrupt container")
	events := &recorder{}
	tl, err := New(video, music, parts, nil, events, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	// Project second 12 lands in the broken part; the seek skips it and
	// resolves over the 16 s that remain (10 s + 6 s).
	if err := tl.Seek(12.0); err != nil {
		t.Fatal(err)
	}
	if got := tl.TotalProjectSec(); got != 16.0 {
		t.Fatalf("total after skip = %v, want 16", got)
	}
	if video.Path() != "c.mp4" {
		t.Fatalf("loaded path = %q, want c.mp4", video.Path())
	}
	if len(events.skipped) != 1 || events.skipped[0] != "b.mp4" {
		t.Fatalf("skipped = %v, want [b.mp4]", events.skipped)
	}
	if got := tl.Skipped(); len(got) != 1 || got[0] != "b.mp4" {
		t.Fatalf("Skipped() = %v", got)
	}
}

func TestAllPartsBrokenEndsProject(t *testing.T) {
	parts := threeParts()
	video := player.NewFake("video")
	for _, p := range parts {
		video.LoadErrs[p.Path] = errors.New("missing file")
	}
	events := &recorder{}
	tl, err := New(video, player.NewFake("music"), parts, nil, events, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	if err := tl.Seek(0); err == nil {
		t.Fatal("seek over an all-broken project succeeded")
	}
	if events.ended != 1 {
		t.Fatalf("ProjectEnded emitted %d times, want once", events.ended)
	}
}

func TestCrossPartTransition(t *testing.T) {
	tl, video, _, events := newTimeline(t, threeParts(), nil)
	tl.SetIntent(true)

	// Play the first part out.
	video.SetTimeMs(9990)
	tl.Tick()

	if video.Path() != "b.mp4" {
		t.Fatalf("path after boundary = %q, want next part b.mp4", video.Path())
	}
	if ms, _ := video.LastSeek(); ms != 0 {
		t.Fatalf("seek into next part = %d, want 0", ms)
	}
	if video.State() != player.StatePlaying {
		t.Fatal("playback did not continue into the next part")
	}
	if events.ended != 0 {
		t.Fatal("boundary crossing emitted ProjectEnded")
	}
}

func TestFinalPartEndFinalizes(t *testing.T) {
	tl, video, _, events := newTimeline(t, threeParts(), nil)
	tl.SetIntent(true)
	if err := tl.Seek(21.0); err != nil {
		t.Fatal(err)
	}

	video.SetTimeMs(5990) // within 25 ms of the last part's end
	tl.Tick()

	if events.ended != 1 {
		t.Fatalf("ProjectEnded emitted %d times, want once", events.ended)
	}
	if tl.Intent() {
		t.Fatal("intent still playing after project end")
	}
	last := events.carets[len(events.carets)-1]
	if last != 26.0 {
		t.Fatalf("final caret = %v, want total length 26", last)
	}

	tl.Tick() // at end, a further tick is a no-op
	if events.ended != 1 {
		t.Fatal("ProjectEnded repeated after the end")
	}
}

func TestMusicFollowsProjectClock(t *testing.T) {
	tl, video, music, _ := newTimeline(t, threeParts(), []MusicPart{
		{Path: "m1.mp3", FileOffsetMs: 0, DurationMs: 30000},
	})
	tl.SetIntent(true)
	if err := tl.Seek(12.0); err != nil {
		t.Fatal(err)
	}
	if music.Path() != "m1.mp3" {
		t.Fatalf("music path = %q", music.Path())
	}
	if ms, _ := music.LastSeek(); ms != 12000 {
		t.Fatalf("music target = %d, want 12000", ms)
	}
	if music.Rate() != 1.0 {
		t.Fatalf("music rate = %v, want pitch-locked 1.0", music.Rate())
	}

	// Drift beyond tolerance is corrected on tick.
	video.SetTimeMs(4000) // still project second 12
	music.SetTimeMs(12400)
	seeks := music.SeekCount()
	tl.Tick()
	if music.SeekCount() != seeks+1 {
		t.Fatal("music drift was not corrected")
	}
}

func TestShortMusicCoverageReportedOnce(t *testing.T) {
	_, _, _, events := newTimeline(t, threeParts(), []MusicPart{
		{Path: "m1.mp3", DurationMs: 10000}, // 10 s of music for a 26 s project
	})
	if events.shortMus != 1 {
		t.Fatalf("ShortMusicCoverage emitted %d times, want once", events.shortMus)
	}
}

func TestMusicRunsOutTailPlaysSilent(t *testing.T) {
	tl, _, music, _ := newTimeline(t, threeParts(), []MusicPart{
		{Path: "m1.mp3", DurationMs: 10000},
	})
	tl.SetIntent(true)
	if err := tl.Seek(20.0); err != nil {
		t.Fatal(err)
	}
	if music.State() == player.StatePlaying {
		t.Fatal("music playing past its coverage")
	}
}

func TestMusicPausesWhenCoverageEndsDuringPlayback(t *testing.T) {
	tl, video, music, _ := newTimeline(t, threeParts(), []MusicPart{
		{Path: "m1.mp3", DurationMs: 12000},
	})
	tl.SetIntent(true)
	if err := tl.Seek(11.0); err != nil {
		t.Fatal(err)
	}
	if music.State() != player.StatePlaying {
		t.Fatal("music should play inside its coverage")
	}

	// Project clock drifts past the 12 s music bed mid-part.
	video.SetTimeMs(5000)
	tl.Tick()
	if music.State() == player.StatePlaying {
		t.Fatal("music kept playing past its coverage on the tick path")
	}
}

func TestReplayAfterEnd(t *testing.T) {
	tl, video, _, _ := newTimeline(t, threeParts(), nil)
	tl.SetIntent(true)
	if err := tl.Seek(21.0); err != nil {
		t.Fatal(err)
	}
	video.SetTimeMs(5990)
	tl.Tick()

	tl.SetIntent(true)
	if video.Path() != "a.mp4" {
		t.Fatalf("replay path = %q, want first part", video.Path())
	}
	if video.State() != player.StatePlaying {
		t.Fatal("replay did not start playback")
	}
}

func TestInvalidPartPlanRejected(t *testing.T) {
	parts := []VideoPart{{Path: "a.mp4", DurationMs: 1000, Plan: timemap.Plan{BaseSpeed: 9.0}}}
	_, err := New(player.NewFake("v"), player.NewFake("m"), parts, nil, NopEvents{}, Options{})
	if !errors.Is(err, timemap.ErrInvalidPlan) {
		t.Fatalf("err = %v, want ErrInvalidPlan", err)
	}
	_, err = New(player.NewFake("v"), player.NewFake("m"), nil, nil, NopEvents{}, Options{})
	if err == nil {
		t.Fatal("empty project accepted")
	}
}
