// Package project concatenates multiple speed-planned video parts and a
// music track list into one project clock, and plays the result through the
// same two-adapter setup the single-clip preview uses. Part boundaries are
// crossed by re-loading the adapter with the next file.
package project

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/timemap"
)

// VideoPart is one clip on the project timeline with its own speed plan.
type VideoPart struct {
	Path       string       `json:"path"`
	DurationMs int64        `json:"duration_ms"`
	Plan       timemap.Plan `json:"plan"`
}

// ProjectSec is the part's length on the project clock under its plan.
func (p VideoPart) ProjectSec() float64 {
	return p.Plan.SourceToProject(p.DurationMs, 0)
}

// MusicPart is one track in the project's music bed. Music plays at rate 1.0
// and is cut purely by duration.
type MusicPart struct {
	Path         string `json:"path"`
	FileOffsetMs int64  `json:"file_offset_ms"`
	DurationMs   int64  `json:"duration_ms"`
}

// Events is the sink for timeline reports. Implementations must not call
// back into the timeline.
type Events interface {
	CaretUpdate(projectSec float64)
	ProjectEnded()
	PartSkipped(path string, reason string)
	ShortMusicCoverage(musicSec, projectSec float64)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) CaretUpdate(float64)                 {}
func (NopEvents) ProjectEnded()                       {}
func (NopEvents) PartSkipped(string, string)          {}
func (NopEvents) ShortMusicCoverage(float64, float64) {}

// Options are the timeline's timing knobs.
type Options struct {
	MusicDriftMs   int64
	EndToleranceMs int64
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MusicDriftMs <= 0 {
		o.MusicDriftMs = 150
	}
	if o.EndToleranceMs <= 0 {
		o.EndToleranceMs = 25
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Position is the result of resolving a project second onto the parts.
type Position struct {
	VideoIndex    int
	SourceMs      int64
	MusicIndex    int // -1 when music coverage ran out
	MusicTargetMs int64
}

// Timeline drives playback of the concatenated project. The host calls Tick
// every 40–100 ms, like the single-clip coordinator.
type Timeline struct {
	mu     sync.Mutex
	opts   Options
	video  player.Adapter
	music  player.Adapter
	events Events

	parts    []VideoPart
	skipped  []bool
	musicBed []MusicPart

	current     int // index of the loaded video part, -1 before first seek
	currentM    int
	wantsPlay   bool
	atEnd       bool
	currentRate float64
	closed      bool
}

// New builds a timeline over the two adapters. A music bed shorter than the
// project length minus half a second is reported once; the tail then plays
// without music instead of aborting.
func New(video, music player.Adapter, parts []VideoPart, musicParts []MusicPart, events Events, opts Options) (*Timeline, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("project has no video parts")
	}
	if events == nil {
		events = NopEvents{}
	}
	for i, p := range parts {
		if err := p.Plan.Validate(); err != nil {
			return nil, fmt.Errorf("part %d (%s): %w", i, p.Path, err)
		}
	}
	t := &Timeline{
		opts:        opts.withDefaults(),
		video:       video,
		music:       music,
		events:      events,
		parts:       parts,
		skipped:     make([]bool, len(parts)),
		musicBed:    musicParts,
		current:     -1,
		currentM:    -1,
		currentRate: 1.0,
	}

	total := t.totalLocked()
	var musicSec float64
	for _, m := range musicParts {
		musicSec += float64(m.DurationMs) / 1000
	}
	if len(musicParts) > 0 && musicSec < total-0.5 {
		events.ShortMusicCoverage(musicSec, total)
	}
	return t, nil
}

func (t *Timeline) totalLocked() float64 {
	var total float64
	for i, p := range t.parts {
		if t.skipped[i] {
			continue
		}
		total += p.ProjectSec()
	}
	return total
}

// TotalProjectSec is the project length, excluding skipped parts.
func (t *Timeline) TotalProjectSec() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

// ResolveAt maps a project second onto a video part, a source position
// inside it, and a music part with its file target.
func (t *Timeline) ResolveAt(projectSec float64) (Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(projectSec)
}

func (t *Timeline) resolveLocked(projectSec float64) (Position, error) {
	if projectSec < 0 {
		projectSec = 0
	}
	pos := Position{VideoIndex: -1, MusicIndex: -1}

	var acc float64
	for i, p := range t.parts {
		if t.skipped[i] {
			continue
		}
		length := p.ProjectSec()
		if projectSec < acc+length || i == t.lastActiveLocked() {
			local := projectSec - acc
			if local > length {
				local = length
			}
			pos.VideoIndex = i
			pos.SourceMs = p.Plan.ProjectToSource(local, 0)
			if pos.SourceMs > p.DurationMs {
				pos.SourceMs = p.DurationMs
			}
			break
		}
		acc += length
	}
	if pos.VideoIndex < 0 {
		return pos, fmt.Errorf("no playable video part at %.3f s", projectSec)
	}

	var mAcc float64
	for i, m := range t.musicBed {
		length := float64(m.DurationMs) / 1000
		if projectSec < mAcc+length {
			pos.MusicIndex = i
			pos.MusicTargetMs = m.FileOffsetMs + int64((projectSec-mAcc)*1000)
			break
		}
		mAcc += length
	}
	return pos, nil
}

func (t *Timeline) lastActiveLocked() int {
	for i := len(t.parts) - 1; i >= 0; i-- {
		if !t.skipped[i] {
			return i
		}
	}
	return -1
}

// accBeforeLocked is the project length of active parts before index i.
func (t *Timeline) accBeforeLocked(i int) float64 {
	var acc float64
	for j := 0; j < i; j++ {
		if !t.skipped[j] {
			acc += t.parts[j].ProjectSec()
		}
	}
	return acc
}

// Seek positions both adapters at the given project second, loading the
// right part files first. Parts whose file fails to load are skipped and the
// project shortens accordingly.
func (t *Timeline) Seek(projectSec float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return player.ErrClosed
	}
	return t.seekLocked(projectSec)
}

func (t *Timeline) seekLocked(projectSec float64) error {
	for {
		pos, err := t.resolveLocked(projectSec)
		if err != nil {
			t.finalizeLocked()
			return err
		}
		part := t.parts[pos.VideoIndex]
		if err := t.loadPartLocked(pos.VideoIndex); err != nil {
			// Skip the broken part and resolve again over what remains.
			t.events.PartSkipped(part.Path, err.Error())
			continue
		}

		rate := part.Plan.SpeedAt(pos.SourceMs)
		if rate != t.currentRate {
			if err := t.video.SetRate(rate); err == nil {
				t.currentRate = rate
			}
		}
		if err := t.video.Seek(pos.SourceMs, true); err != nil {
			return err
		}
		t.syncIntentLocked()
		t.driveMusicLocked(pos)
		t.atEnd = false
		t.events.CaretUpdate(projectSec)
		return nil
	}
}

func (t *Timeline) loadPartLocked(i int) error {
	if t.current == i {
		return nil
	}
	if err := t.video.Load(t.parts[i].Path); err != nil {
		t.skipped[i] = true
		if t.current == i {
			t.current = -1
		}
		return err
	}
	t.current = i
	return nil
}

func (t *Timeline) driveMusicLocked(pos Position) {
	if pos.MusicIndex < 0 {
		// Coverage ran out; the tail plays without music.
		if t.currentM >= 0 {
			_ = t.music.Pause()
		}
		return
	}
	m := t.musicBed[pos.MusicIndex]
	if t.currentM != pos.MusicIndex {
		if err := t.music.Load(m.Path); err != nil {
			log.Printf("music part load failed, continuing without music: %v", err)
			t.currentM = -1
			t.musicBed = nil
			return
		}
		t.currentM = pos.MusicIndex
	}
	if err := t.music.Seek(pos.MusicTargetMs, false); err != nil {
		return
	}
	_ = t.music.SetRate(1.0)
	if t.wantsPlay {
		_ = t.music.Play()
	} else {
		_ = t.music.Pause()
	}
}

func (t *Timeline) syncIntentLocked() {
	if t.wantsPlay {
		_ = t.video.Play()
	} else {
		_ = t.video.Pause()
	}
}

// SetIntent starts or pauses project playback.
func (t *Timeline) SetIntent(playing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.wantsPlay = playing
	if playing && (t.atEnd || t.current < 0) {
		_ = t.seekLocked(0)
		return
	}
	t.syncIntentLocked()
	if !playing && t.currentM >= 0 {
		_ = t.music.Pause()
	}
}

// Intent reports the recorded wants-to-play flag.
func (t *Timeline) Intent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wantsPlay
}

// Tick advances the project clock: converts the observed source position of
// the current part to a project second, crosses part boundaries, corrects
// music drift and finalizes at the project end.
func (t *Timeline) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.atEnd || t.current < 0 {
		return
	}

	part := t.parts[t.current]
	observed := t.video.TimeMs()
	state := t.video.State()

	partDone := state == player.StateEnded || observed >= part.DurationMs-t.opts.EndToleranceMs
	if partDone {
		if t.current == t.lastActiveLocked() {
			t.finalizeLocked()
			return
		}
		// Cross into the next part at its start.
		next := t.accBeforeLocked(t.current) + part.ProjectSec()
		if err := t.seekLocked(next); err != nil {
			t.finalizeLocked()
		}
		return
	}

	projectSec := t.accBeforeLocked(t.current) + part.Plan.SourceToProject(observed, 0)
	total := t.totalLocked()
	if projectSec >= total-float64(t.opts.EndToleranceMs)/1000 {
		t.finalizeLocked()
		return
	}

	required := part.Plan.SpeedAt(observed)
	if diff := required - t.currentRate; diff > 0.05 || diff < -0.05 {
		if err := t.video.SetRate(required); err == nil {
			t.currentRate = required
		}
	}

	t.correctMusicLocked(projectSec)
	t.events.CaretUpdate(projectSec)
}

func (t *Timeline) correctMusicLocked(projectSec float64) {
	pos, err := t.resolveLocked(projectSec)
	if err != nil {
		return
	}
	if pos.MusicIndex < 0 {
		// Coverage ran out mid-playback; the tail continues without music.
		if t.currentM >= 0 && t.music.State() == player.StatePlaying {
			_ = t.music.Pause()
		}
		return
	}
	if t.currentM != pos.MusicIndex {
		t.driveMusicLocked(pos)
		return
	}
	actual := t.music.TimeMs()
	if diff := actual - pos.MusicTargetMs; diff > t.opts.MusicDriftMs || diff < -t.opts.MusicDriftMs {
		_ = t.music.Seek(pos.MusicTargetMs, false)
	}
	if t.wantsPlay && t.music.State() != player.StatePlaying {
		_ = t.music.Play()
	}
}

func (t *Timeline) finalizeLocked() {
	_ = t.video.Pause()
	if t.currentM >= 0 {
		_ = t.music.Pause()
	}
	t.wantsPlay = false
	t.events.CaretUpdate(t.totalLocked())
	if !t.atEnd {
		t.atEnd = true
		t.events.ProjectEnded()
	}
}

// Skipped reports which parts were dropped due to load failures.
func (t *Timeline) Skipped() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for i, s := range t.skipped {
		if s {
			out = append(out, t.parts[i].Path)
		}
	}
	return out
}

// Close pauses both adapters and releases them.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.video.Pause()
	_ = t.music.Pause()
	verr := t.video.Close()
	merr := t.music.Close()
	if verr != nil {
		return verr
	}
	return merr
}
