// Package engine holds the sync coordinator: the component that keeps the
// video player, the background-music player and the UI timeline caret in
// agreement with the user's intent and the current speed plan while the user
// scrubs, plays, changes speed and re-trims.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/timemap"
)

// Events is the sink for everything the coordinator reports upward. The host
// adapts it to UI events; implementations must not call back into the
// coordinator.
type Events interface {
	CaretUpdate(projectSec float64)
	ProjectEnded()
	PreviewUnavailable(reason string)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) CaretUpdate(float64)       {}
func (NopEvents) ProjectEnded()             {}
func (NopEvents) PreviewUnavailable(string) {}

// MusicPlan describes the background-music overlay: which file, where in the
// file project start maps to, and the project-ms window the music covers.
type MusicPlan struct {
	File          string `json:"file"`
	FileOffsetMs  int64  `json:"file_offset_ms"`
	WindowStartMs int64  `json:"window_start_ms"`
	WindowEndMs   int64  `json:"window_end_ms"`
}

// SeekOutcome classifies what happened to a seek request.
type SeekOutcome int

const (
	SeekAccepted SeekOutcome = iota
	SeekClamped
	SeekAdapterError
)

func (o SeekOutcome) String() string {
	switch o {
	case SeekAccepted:
		return "accepted"
	case SeekClamped:
		return "clamped"
	case SeekAdapterError:
		return "adapter_error"
	default:
		return "unknown"
	}
}

// Options are the coordinator's timing knobs. The defaults mirror the tuned
// values of the desktop tool; hosts may override them from settings.
type Options struct {
	ScrubCoalesceMs      int64 // seeks closer than this collapse, last target wins
	SeekLockMs           int64 // caret ignores adapter time for this long after a seek
	RateDebouncePausedMs int64 // min interval between rate changes while paused
	RateDebouncePlayMs   int64 // min interval between rate changes while playing
	MusicDriftMs         int64 // music re-seek threshold
	EndToleranceMs       int64 // distance to trim end that counts as project end
	Now                  func() time.Time
}

// DefaultOptions returns the tuned values.
func DefaultOptions() Options {
	return Options{
		ScrubCoalesceMs:      50,
		SeekLockMs:           320,
		RateDebouncePausedMs: 100,
		RateDebouncePlayMs:   50,
		MusicDriftMs:         150,
		EndToleranceMs:       25,
		Now:                  time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ScrubCoalesceMs <= 0 {
		o.ScrubCoalesceMs = def.ScrubCoalesceMs
	}
	if o.SeekLockMs <= 0 {
		o.SeekLockMs = def.SeekLockMs
	}
	if o.RateDebouncePausedMs <= 0 {
		o.RateDebouncePausedMs = def.RateDebouncePausedMs
	}
	if o.RateDebouncePlayMs <= 0 {
		o.RateDebouncePlayMs = def.RateDebouncePlayMs
	}
	if o.MusicDriftMs <= 0 {
		o.MusicDriftMs = def.MusicDriftMs
	}
	if o.EndToleranceMs <= 0 {
		o.EndToleranceMs = def.EndToleranceMs
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type pendingSeek struct {
	projectSec float64
	exact      bool
}

// Coordinator owns the two player adapters and the live sync state. All
// mutations run under one lock; the host calls Tick every 40–100 ms.
type Coordinator struct {
	mu     sync.Mutex
	opts   Options
	video  player.Adapter
	music  player.Adapter
	events Events

	plan        timemap.Plan
	trimStartMs int64
	trimEndMs   int64

	musicPlan  *MusicPlan
	musicEnded bool

	wantsPlay bool
	atEnd     bool

	pending         *pendingSeek
	flushDebounced  func(func())
	lastSeekApplied time.Time
	seekLockUntil   time.Time
	lastSeekProject float64
	lastRateApplied time.Time
	currentRate     float64
	lastGoodSource  int64

	videoErrReported bool
	closed           bool
}

// New wires a coordinator over the two adapters. events may be nil.
func New(video, music player.Adapter, events Events, opts Options) *Coordinator {
	if events == nil {
		events = NopEvents{}
	}
	opts = opts.withDefaults()
	c := &Coordinator{
		opts:        opts,
		video:       video,
		music:       music,
		events:      events,
		plan:        timemap.NewPlan(1.0),
		currentRate: 1.0,
	}
	c.flushDebounced = debounce.New(time.Duration(opts.ScrubCoalesceMs) * time.Millisecond)
	return c
}

// SetMedia loads the video (and music, when planned) and resets the trim to
// the full clip. A failed video load pauses intent and freezes the caret.
func (c *Coordinator) SetMedia(videoPath string, music *MusicPlan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return player.ErrClosed
	}

	if err := c.video.Load(videoPath); err != nil {
		c.wantsPlay = false
		c.events.PreviewUnavailable(fmt.Sprintf("video load failed: %v", err))
		return err
	}
	duration, _ := c.video.DurationMs()
	c.trimStartMs = 0
	c.trimEndMs = duration
	c.lastGoodSource = 0
	c.atEnd = false

	c.musicPlan = nil
	c.musicEnded = false
	if music != nil {
		if err := c.music.Load(music.File); err != nil {
			// Music degrades silently to "no music preview".
			log.Printf("music load failed, continuing without music: %v", err)
		} else {
			mp := *music
			c.musicPlan = &mp
			c.clampMusicWindowLocked()
		}
	}
	return nil
}

// SetPlan publishes a new speed plan. Invalid plans are refused and the
// previous plan stays in effect.
func (c *Coordinator) SetPlan(plan timemap.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = plan
	return nil
}

// SetBaseSpeed changes the default speed outside segments.
func (c *Coordinator) SetBaseSpeed(speed float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.plan
	next.BaseSpeed = speed
	if err := next.Validate(); err != nil {
		return err
	}
	c.plan = next
	return nil
}

// Plan returns the plan currently in effect.
func (c *Coordinator) Plan() timemap.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// SetTrim moves the preview trim and magnetically re-trims the music window:
// the window stays glued to the same video content when the trim start
// moves, and is clamped (shrinking as a last resort) into the new range.
func (c *Coordinator) SetTrim(startMs, endMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if endMs <= startMs {
		return fmt.Errorf("trim end %d must be after start %d", endMs, startMs)
	}

	if c.musicPlan != nil {
		// Project-ms distance between the old and new trim starts, under the
		// old trim. Moving the start forward pulls the window earlier on the
		// new project axis.
		deltaMs := int64(c.plan.SourceToProject(startMs, c.trimStartMs) * 1000)
		if startMs < c.trimStartMs {
			deltaMs = -int64(c.plan.SourceToProject(c.trimStartMs, startMs) * 1000)
		}
		c.musicPlan.WindowStartMs -= deltaMs
		c.musicPlan.WindowEndMs -= deltaMs
	}

	c.trimStartMs = startMs
	c.trimEndMs = endMs
	c.clampMusicWindowLocked()
	return nil
}

// clampMusicWindowLocked keeps the music window inside [0, project length].
// The window moves as a whole so its duration is preserved; it shrinks only
// when it is longer than the project itself.
func (c *Coordinator) clampMusicWindowLocked() {
	mp := c.musicPlan
	if mp == nil {
		return
	}
	totalMs := int64(c.plan.SourceToProject(c.trimEndMs, c.trimStartMs) * 1000)
	if mp.WindowEndMs-mp.WindowStartMs > totalMs {
		mp.WindowStartMs = 0
		mp.WindowEndMs = totalMs
		return
	}
	if mp.WindowStartMs < 0 {
		mp.WindowEndMs -= mp.WindowStartMs
		mp.WindowStartMs = 0
	}
	if mp.WindowEndMs > totalMs {
		shift := mp.WindowEndMs - totalMs
		mp.WindowStartMs -= shift
		mp.WindowEndMs = totalMs
	}
}

// MusicWindow reports the current window in project ms, if music is planned.
func (c *Coordinator) MusicWindow() (startMs, endMs int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.musicPlan == nil {
		return 0, 0, false
	}
	return c.musicPlan.WindowStartMs, c.musicPlan.WindowEndMs, true
}

// TotalProjectSec is the project length under the current plan and trim.
func (c *Coordinator) TotalProjectSec() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan.SourceToProject(c.trimEndMs, c.trimStartMs)
}

// Seek repositions both adapters coherently at the given project second.
// The target is clamped and the caret pinned right away; the adapter seek
// itself waits out the coalesce window, so a burst of calls applies only
// its last target. Adapter failures during the deferred apply surface
// through the Events sink.
func (c *Coordinator) Seek(projectSec float64, exact bool) SeekOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SeekAdapterError
	}

	outcome := SeekAccepted
	total := c.plan.SourceToProject(c.trimEndMs, c.trimStartMs)
	if projectSec < 0 {
		projectSec = 0
		outcome = SeekClamped
	} else if projectSec > total {
		projectSec = total
		outcome = SeekClamped
	}

	now := c.opts.Now()
	c.lastSeekApplied = now
	c.seekLockUntil = now.Add(time.Duration(c.opts.SeekLockMs) * time.Millisecond)
	c.lastSeekProject = projectSec
	c.atEnd = false
	c.events.CaretUpdate(projectSec)

	c.pending = &pendingSeek{projectSec: projectSec, exact: exact}
	c.flushDebounced(c.flushPending)
	return outcome
}

// flushPending applies the last coalesced seek target once the burst quiets.
func (c *Coordinator) flushPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending == nil {
		return
	}
	p := *c.pending
	c.pending = nil
	c.applySeekLocked(p.projectSec, p.exact, c.opts.Now())
}

// applySeekLocked is the coherent seek: video rate from the containing
// segment, video seek, music seek or pause per the window, seek lock armed.
func (c *Coordinator) applySeekLocked(projectSec float64, exact bool, now time.Time) SeekOutcome {
	outcome := SeekAccepted
	total := c.plan.SourceToProject(c.trimEndMs, c.trimStartMs)
	if projectSec < 0 {
		projectSec = 0
		outcome = SeekClamped
	} else if projectSec > total {
		projectSec = total
		outcome = SeekClamped
	}

	sourceMs := c.plan.ProjectToSource(projectSec, c.trimStartMs)
	if sourceMs < c.trimStartMs {
		sourceMs = c.trimStartMs
	} else if sourceMs > c.trimEndMs {
		sourceMs = c.trimEndMs
	}

	rate := c.plan.SpeedAt(sourceMs)
	if rate != c.currentRate {
		if err := c.video.SetRate(rate); err == nil {
			c.currentRate = rate
			c.lastRateApplied = now
		}
	}

	if err := c.video.Seek(sourceMs, exact); err != nil {
		c.reportVideoErrorLocked(fmt.Sprintf("seek failed: %v", err))
		return SeekAdapterError
	}
	c.syncIntentLocked()
	c.driveMusicAtLocked(int64(projectSec * 1000))

	c.lastSeekApplied = now
	c.seekLockUntil = now.Add(time.Duration(c.opts.SeekLockMs) * time.Millisecond)
	c.lastSeekProject = projectSec
	c.lastGoodSource = sourceMs
	c.atEnd = false
	c.events.CaretUpdate(projectSec)
	return outcome
}

// driveMusicAtLocked places the music adapter for the given project
// position: seek inside the window, paused outside of it. Music is
// pitch-locked at rate 1.0; cadence comes from re-seeks, never rate changes.
func (c *Coordinator) driveMusicAtLocked(projectMs int64) {
	mp := c.musicPlan
	if mp == nil || c.musicEnded {
		return
	}
	if projectMs >= mp.WindowStartMs && projectMs < mp.WindowEndMs {
		target := mp.FileOffsetMs + (projectMs - mp.WindowStartMs)
		if err := c.music.Seek(target, false); err != nil {
			log.Printf("music seek failed, dropping music preview: %v", err)
			c.musicEnded = true
			return
		}
		_ = c.music.SetRate(1.0)
		if c.wantsPlay {
			_ = c.music.Play()
		} else {
			_ = c.music.Pause()
		}
	} else {
		_ = c.music.Pause()
	}
}

// syncIntentLocked pushes wants-to-play onto the video adapter.
func (c *Coordinator) syncIntentLocked() {
	if c.wantsPlay {
		_ = c.video.Play()
	} else {
		_ = c.video.Pause()
	}
}

// SetIntent records what the user asked for. Pressing play at project end
// replays from the trim start: pause, exact seek to start, play.
func (c *Coordinator) SetIntent(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wantsPlay = playing
	now := c.opts.Now()

	if playing && (c.atEnd || c.video.State() == player.StateEnded) {
		_ = c.video.Pause()
		c.applySeekLocked(0, true, now)
		_ = c.video.Play()
		return
	}

	c.syncIntentLocked()

	observed := c.observedSourceLocked()
	projectMs := int64(c.plan.SourceToProject(observed, c.trimStartMs) * 1000)
	if playing {
		c.driveMusicAtLocked(projectMs)
	} else if c.musicPlan != nil {
		_ = c.music.Pause()
	}
}

// Intent reports the recorded wants-to-play flag.
func (c *Coordinator) Intent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wantsPlay
}

// SetVolume applies the preview volumes (0..100) to both adapters.
func (c *Coordinator) SetVolume(video, music int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.video.SetVolume(video)
	_ = c.music.SetVolume(music)
}

// SetMuted mutes or unmutes both adapters.
func (c *Coordinator) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.video.SetMute(muted)
	_ = c.music.SetMute(muted)
}

// observedSourceLocked samples the video adapter once, absorbing the
// transient zero some drivers report right after a load, and clamps into the
// trim.
func (c *Coordinator) observedSourceLocked() int64 {
	observed := c.video.TimeMs()
	if observed == 0 && c.lastGoodSource > 0 {
		observed = c.lastGoodSource
	}
	if observed < c.trimStartMs {
		observed = c.trimStartMs
	} else if observed > c.trimEndMs {
		observed = c.trimEndMs
	}
	return observed
}

// Tick advances the caret and performs sync correction. The host calls it
// every 40–100 ms.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	now := c.opts.Now()

	if c.video.State() == player.StateError {
		c.reportVideoErrorLocked("video adapter entered error state")
		return
	}

	// Inside the seek lock the caret follows the requested target, advancing
	// at wall rate while playing. Adapter time is not consulted, so the
	// caret cannot snap backwards while the driver catches up.
	if now.Before(c.seekLockUntil) {
		caret := c.lastSeekProject
		if c.wantsPlay {
			caret += now.Sub(c.lastSeekApplied).Seconds()
		}
		c.events.CaretUpdate(caret)
		return
	}

	observed := c.observedSourceLocked()
	state := c.video.State()
	projectSec := c.plan.SourceToProject(observed, c.trimStartMs)

	// Project-end finalize.
	if state == player.StateEnded || observed >= c.trimEndMs-c.opts.EndToleranceMs {
		c.finalizeLocked()
		return
	}

	// Rate correction, debounced.
	required := c.plan.SpeedAt(observed)
	if diff := required - c.currentRate; diff > 0.05 || diff < -0.05 {
		debounceMs := c.opts.RateDebouncePlayMs
		if !c.wantsPlay {
			debounceMs = c.opts.RateDebouncePausedMs
		}
		if now.Sub(c.lastRateApplied) >= time.Duration(debounceMs)*time.Millisecond {
			if err := c.video.SetRate(required); err == nil {
				c.currentRate = required
				c.lastRateApplied = now
			}
		}
	}

	c.correctMusicLocked(int64(projectSec * 1000))

	c.lastGoodSource = observed
	c.events.CaretUpdate(projectSec)
}

// correctMusicLocked keeps the music adapter on cadence: pause outside the
// window, resume inside it, silent re-seek when drift exceeds tolerance.
func (c *Coordinator) correctMusicLocked(projectMs int64) {
	mp := c.musicPlan
	if mp == nil || c.musicEnded {
		return
	}
	if c.music.State() == player.StateEnded {
		// Track ran out before the window did; stop driving it.
		c.musicEnded = true
		return
	}

	inWindow := projectMs >= mp.WindowStartMs && projectMs < mp.WindowEndMs
	if !inWindow {
		if c.music.State() == player.StatePlaying {
			_ = c.music.Pause()
		}
		return
	}

	expected := mp.FileOffsetMs + (projectMs - mp.WindowStartMs)
	actual := c.music.TimeMs()
	if diff := actual - expected; diff > c.opts.MusicDriftMs || diff < -c.opts.MusicDriftMs {
		_ = c.music.Seek(expected, false)
	}
	if c.wantsPlay && c.music.State() != player.StatePlaying {
		_ = c.music.Play()
	} else if !c.wantsPlay && c.music.State() == player.StatePlaying {
		_ = c.music.Pause()
	}
}

// finalizeLocked is the project-end action: pause both adapters, snap the
// caret to the trim end, report once.
func (c *Coordinator) finalizeLocked() {
	_ = c.video.Pause()
	if c.musicPlan != nil {
		_ = c.music.Pause()
	}
	c.wantsPlay = false
	endSec := c.plan.SourceToProject(c.trimEndMs, c.trimStartMs)
	c.events.CaretUpdate(endSec)
	if !c.atEnd {
		c.atEnd = true
		c.events.ProjectEnded()
	}
}

func (c *Coordinator) reportVideoErrorLocked(reason string) {
	c.wantsPlay = false
	_ = c.video.Pause()
	if !c.videoErrReported {
		c.videoErrReported = true
		c.events.PreviewUnavailable(reason)
	}
}

// Status is the engine surface the host polls for its UI.
type Status struct {
	ProjectSec  float64 `json:"project_sec"`
	State       string  `json:"state"`
	DurationSec float64 `json:"duration_sec"`
}

// GetStatus reports the current project position, adapter state and project
// length.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	observed := c.observedSourceLocked()
	return Status{
		ProjectSec:  c.plan.SourceToProject(observed, c.trimStartMs),
		State:       c.video.State().String(),
		DurationSec: c.plan.SourceToProject(c.trimEndMs, c.trimStartMs),
	}
}

// Close cancels pending debounced work and releases both adapters. In-flight
// adapter seeks are not canceled; their results are ignored.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	_ = c.video.Pause()
	_ = c.music.Pause()
	verr := c.video.Close()
	merr := c.music.Close()
	if verr != nil {
		return verr
	}
	return merr
}
