package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/marwale/clipspeed/internal/engine"
	"github.com/marwale/clipspeed/internal/granular"
	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/project"
	"github.com/marwale/clipspeed/internal/timemap"
)

const tickInterval = 80 * time.Millisecond

// wailsEvents forwards engine reports to the frontend as Wails events.
type wailsEvents struct {
	app *App
}

func (w *wailsEvents) CaretUpdate(projectSec float64) {
	runtime.EventsEmit(w.app.ctx, "preview:caret", projectSec)
}

func (w *wailsEvents) ProjectEnded() {
	runtime.EventsEmit(w.app.ctx, "preview:ended")
}

func (w *wailsEvents) PreviewUnavailable(reason string) {
	log.Printf("Preview unavailable: %s", reason)
	runtime.EventsEmit(w.app.ctx, "preview:unavailable", reason)
}

func (w *wailsEvents) PartSkipped(path, reason string) {
	log.Printf("Project part skipped: %s (%s)", path, reason)
	runtime.EventsEmit(w.app.ctx, "project:partSkipped", path)
}

func (w *wailsEvents) ShortMusicCoverage(musicSec, projectSec float64) {
	runtime.EventsEmit(w.app.ctx, "project:shortMusic", map[string]float64{
		"musicSeconds":   musicSec,
		"projectSeconds": projectSec,
	})
}

// newAdapters spawns the video and music players. Settings can point at a
// running playerd worker instead of spawning mpv in-process.
func (a *App) newAdapters() (video, music player.Adapter, err error) {
	settings, err := a.GetSettings()
	if err != nil {
		return nil, nil, err
	}

	if addr, ok := settings["playerdAddr"].(string); ok && addr != "" {
		statusPath, _ := settings["playerdStatusFile"].(string)
		video, err = player.DialRemote(player.RemoteOptions{Addr: addr, StatusPath: statusPath})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to playerd: %w", err)
		}
	} else {
		mpvPath, _ := settings["mpvPath"].(string)
		video, err = player.NewMPV(player.MPVOptions{BinaryPath: mpvPath})
		if err != nil {
			return nil, nil, fmt.Errorf("starting video player: %w", err)
		}
	}

	mpvPath, _ := settings["mpvPath"].(string)
	music, err = player.NewMPV(player.MPVOptions{BinaryPath: mpvPath, ExtraArgs: []string{"--vid=no"}})
	if err != nil {
		video.Close()
		return nil, nil, fmt.Errorf("starting music player: %w", err)
	}
	return video, music, nil
}

// LoadPreview opens a clip (and optional music bed) for synchronized preview.
func (a *App) LoadPreview(videoPath string, music *engine.MusicPlan) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timeline != nil {
		a.timeline.Close()
		a.timeline = nil
	}
	if a.coordinator == nil {
		video, musicAdapter, err := a.newAdapters()
		if err != nil {
			return err
		}
		a.coordinator = engine.New(video, musicAdapter, &wailsEvents{app: a}, engine.DefaultOptions())
		a.startTickLoopLocked()
	}

	if err := a.coordinator.SetMedia(videoPath, music); err != nil {
		return err
	}

	settings, err := a.GetSettings()
	if err == nil {
		a.coordinator.SetVolume(settingInt(settings, "previewVolume", 100), settingInt(settings, "musicVolume", 80))
	}
	return nil
}

func settingInt(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// SetPlaying starts or pauses preview playback.
func (a *App) SetPlaying(playing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timeline != nil {
		a.timeline.SetIntent(playing)
		return
	}
	if a.coordinator != nil {
		a.coordinator.SetIntent(playing)
	}
}

// SeekPreview scrubs to a project second. Rapid calls coalesce.
func (a *App) SeekPreview(projectSec float64, exact bool) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timeline != nil {
		if err := a.timeline.Seek(projectSec); err != nil {
			return "adapter_error"
		}
		return "accepted"
	}
	if a.coordinator == nil {
		return "adapter_error"
	}
	return a.coordinator.Seek(projectSec, exact).String()
}

// SetBaseSpeed changes the preview speed outside granular segments.
func (a *App) SetBaseSpeed(speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator == nil {
		return fmt.Errorf("no clip loaded")
	}
	return a.coordinator.SetBaseSpeed(speed)
}

// SetTrim moves the preview trim range, in source milliseconds.
func (a *App) SetTrim(startMs, endMs int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator == nil {
		return fmt.Errorf("no clip loaded")
	}
	return a.coordinator.SetTrim(startMs, endMs)
}

// SetPreviewVolume applies the video and music preview volumes.
func (a *App) SetPreviewVolume(video, music int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator != nil {
		a.coordinator.SetVolume(video, music)
	}
}

// SetPreviewMuted mutes or unmutes the whole preview.
func (a *App) SetPreviewMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator != nil {
		a.coordinator.SetMuted(muted)
	}
}

// GetPreviewStatus returns the caret position, player state and length.
func (a *App) GetPreviewStatus() (engine.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator == nil {
		return engine.Status{}, fmt.Errorf("no clip loaded")
	}
	return a.coordinator.GetStatus(), nil
}

// GetSpeedPlan returns the committed plan currently driving the preview.
func (a *App) GetSpeedPlan() timemap.Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editor != nil {
		return a.editor.Plan()
	}
	if a.coordinator != nil {
		return a.coordinator.Plan()
	}
	return timemap.NewPlan(1.0)
}

// --- granular authoring ---

// OpenSpeedEditor enters granular authoring over the current plan. The
// preview follows the draft, pending selection included.
func (a *App) OpenSpeedEditor(durationMs int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinator == nil {
		return fmt.Errorf("no clip loaded")
	}
	a.editor = granular.NewEditor(a.coordinator.Plan(), durationMs, func(draft timemap.Plan) {
		if a.coordinator == nil {
			return
		}
		if err := a.coordinator.SetPlan(draft); err != nil {
			log.Printf("Draft plan rejected: %v", err)
		}
		runtime.EventsEmit(a.ctx, "editor:planChanged", draft)
	})
	return nil
}

// CloseSpeedEditor leaves authoring mode, discarding any pending selection.
func (a *App) CloseSpeedEditor() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editor == nil {
		return
	}
	plan := a.editor.Close()
	a.editor = nil
	if a.coordinator != nil {
		if err := a.coordinator.SetPlan(plan); err != nil {
			log.Printf("Committed plan rejected: %v", err)
		}
	}
}

func (a *App) editorLocked() (*granular.Editor, error) {
	if a.editor == nil {
		return nil, fmt.Errorf("speed editor is not open")
	}
	return a.editor, nil
}

// SetSegmentStart places the start marker at a source millisecond.
func (a *App) SetSegmentStart(sourceMs int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	e.SetStart(sourceMs)
	return nil
}

// SetSegmentEnd places the end marker at a source millisecond.
func (a *App) SetSegmentEnd(sourceMs int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	e.SetEnd(sourceMs)
	return nil
}

// SetSegmentSpeed updates the selection's speed (live when it matches a
// committed segment).
func (a *App) SetSegmentSpeed(speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	return e.SetPendingSpeed(speed)
}

// CommitSegment commits the pending selection.
func (a *App) CommitSegment() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	return e.CommitPending()
}

// UndoSegment reverts the most recent segment commit.
func (a *App) UndoSegment() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return false, err
	}
	return e.Undo(), nil
}

// DeleteSegment removes committed segment i.
func (a *App) DeleteSegment(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	return e.DeleteSegment(i)
}

// EditSegment loads committed segment i back into the selection.
func (a *App) EditSegment(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	return e.EditSegment(i)
}

// ClearSegments drops all committed segments and the selection.
func (a *App) ClearSegments() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorLocked()
	if err != nil {
		return err
	}
	e.Clear()
	return nil
}

// --- project timeline ---

// LoadProject switches the preview to a multi-part project timeline.
func (a *App) LoadProject(parts []project.VideoPart, musicParts []project.MusicPart) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.editor = nil
	if a.coordinator != nil {
		a.coordinator.Close()
		a.coordinator = nil
	}
	if a.timeline != nil {
		a.timeline.Close()
		a.timeline = nil
	}

	video, music, err := a.newAdapters()
	if err != nil {
		return err
	}
	tl, err := project.New(video, music, parts, musicParts, &wailsEvents{app: a}, project.Options{})
	if err != nil {
		video.Close()
		music.Close()
		return err
	}
	a.timeline = tl
	a.startTickLoopLocked()
	return nil
}

// GetProjectLength returns the total project length in seconds.
func (a *App) GetProjectLength() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timeline != nil {
		return a.timeline.TotalProjectSec(), nil
	}
	if a.coordinator != nil {
		return a.coordinator.TotalProjectSec(), nil
	}
	return 0, fmt.Errorf("nothing loaded")
}

// --- tick loop ---

func (a *App) startTickLoopLocked() {
	if a.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	a.tickStop = stop
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.mu.Lock()
				if a.timeline != nil {
					a.timeline.Tick()
				} else if a.coordinator != nil {
					a.coordinator.Tick()
				}
				a.mu.Unlock()
			}
		}
	}()
}

func (a *App) stopTickLoopLocked() {
	if a.tickStop != nil {
		close(a.tickStop)
		a.tickStop = nil
	}
}
