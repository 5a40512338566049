package player

import (
	"fmt"
	"sync"
)

// Fake is a scripted in-memory Adapter used by engine, granular and project
// tests. It records every call, keeps a virtual playhead, and can be told to
// fail loads or return transient zero times the way real drivers do right
// after a load.
type Fake struct {
	mu sync.Mutex

	// Script knobs, set by tests before use.
	Durations         map[string]int64 // per-path duration override
	DefaultDurationMs int64
	LoadErrs          map[string]error // per-path load failure
	ZeroTimeReads     int              // next N TimeMs calls report 0

	name          string
	path          string
	state         State
	timeMs        int64
	rate          float64
	volume        int
	muted         bool
	surface       uintptr
	calls         []string
	seeks         int
	lastSeekMs    int64
	lastSeekExact bool
	closed        bool
}

var _ Adapter = (*Fake)(nil)

func NewFake(name string) *Fake {
	return &Fake{
		name:              name,
		DefaultDurationMs: 60000,
		Durations:         map[string]int64{},
		LoadErrs:          map[string]error{},
		state:             StateIdle,
		rate:              1.0,
		volume:            100,
	}
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if path == f.path && f.state != StateIdle && f.state != StateError {
		return nil // idempotent reload
	}
	f.record("load:%s", path)
	if err, ok := f.LoadErrs[path]; ok && err != nil {
		f.state = StateError
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	f.path = path
	f.state = StatePaused
	f.timeMs = 0
	return nil
}

func (f *Fake) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("play")
	if f.state == StatePaused || f.state == StateEnded {
		f.state = StatePlaying
	}
	return nil
}

func (f *Fake) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pause")
	if f.state == StatePlaying {
		f.state = StatePaused
	}
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.path = ""
	f.state = StateIdle
	f.timeMs = 0
	return nil
}

func (f *Fake) Seek(targetMs int64, exact bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := ClampSeek(targetMs, f.durationLocked())
	mode := "keyframe"
	if exact {
		mode = "exact"
	}
	f.record("seek:%d:%s", target, mode)
	f.seeks++
	f.lastSeekMs = target
	f.lastSeekExact = exact
	f.timeMs = target
	if f.state == StateEnded {
		f.state = StatePaused
	}
	return nil
}

func (f *Fake) SetRate(rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = ClampRate(rate)
	f.record("set_rate:%.2f", f.rate)
	return nil
}

func (f *Fake) SetVolume(volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = ClampVolume(volume)
	f.record("set_volume:%d", f.volume)
	return nil
}

func (f *Fake) SetMute(mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = mute
	f.record("set_mute:%v", mute)
	return nil
}

func (f *Fake) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) TimeMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ZeroTimeReads > 0 {
		f.ZeroTimeReads--
		return 0
	}
	return f.timeMs
}

func (f *Fake) durationLocked() int64 {
	if d, ok := f.Durations[f.path]; ok {
		return d
	}
	return f.DefaultDurationMs
}

func (f *Fake) DurationMs() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return 0, false
	}
	return f.durationLocked(), true
}

func (f *Fake) AttachSurface(handle uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surface = handle
	f.record("attach_surface")
	return nil
}

func (f *Fake) Capabilities() Capabilities {
	return Capabilities{ExactSeek: true, RateControl: true, SurfaceAttach: true}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.record("close")
	return nil
}

// Advance moves the virtual playhead by wallMs of wall-clock time at the
// current rate while playing, pinning to the end and flipping to Ended.
func (f *Fake) Advance(wallMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePlaying {
		return
	}
	f.timeMs += int64(float64(wallMs) * f.rate)
	if d := f.durationLocked(); f.timeMs >= d {
		f.timeMs = d
		f.state = StateEnded
	}
}

// SetTimeMs forces the observed playhead, emulating driver drift.
func (f *Fake) SetTimeMs(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeMs = ms
}

// SetState forces the observable state, emulating driver transitions.
func (f *Fake) SetState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *Fake) Rate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

func (f *Fake) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *Fake) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *Fake) SeekCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seeks
}

// LastSeek reports the most recent seek target and whether it was exact.
func (f *Fake) LastSeek() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeekMs, f.lastSeekExact
}

// Calls returns a copy of the recorded call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
