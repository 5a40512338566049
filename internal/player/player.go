// Package player defines the capability set the preview engine needs from a
// media playback backend, and the drivers that provide it: an mpv JSON-IPC
// driver, a remote driver speaking to the playerd worker over a loopback
// channel, and a scripted fake for tests.
//
// Driver quirks (speed vs. rate properties, end-of-file events vs. polling,
// exact vs. keyframe seeks) are normalized once, here, at the adapter
// boundary. Callers above this package never see them.
package player

import "errors"

// Playback rate bounds accepted by SetRate. Targets outside are clamped.
const (
	RateMin = 0.1
	RateMax = 4.0
)

// loadTimeout bounds how long Load waits for the driver to report a positive
// duration before giving up.
const loadRetryBudgetMs = 2000

var (
	// ErrLoadFailed is reported after the load retry budget is exhausted or a
	// terminal driver failure while opening media.
	ErrLoadFailed = errors.New("media load failed")

	// ErrClosed is returned by operations on a released adapter.
	ErrClosed = errors.New("player adapter is closed")
)

// State is the observable playback state of an adapter. It may lag the last
// issued command by up to one tick.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StatePlaying
	StatePaused
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Capabilities reports what a driver actually supports. Unsupported
// operations are accepted as no-ops rather than rejected.
type Capabilities struct {
	ExactSeek     bool `json:"exact_seek"`
	RateControl   bool `json:"rate_control"`
	SurfaceAttach bool `json:"surface_attach"`
	SharedMemory  bool `json:"shared_memory_polling"`
}

// Adapter is the capability set over a playback driver. All methods are safe
// to call from the engine thread; drivers may run internal workers but
// guarantee that load → seek → play issued back-to-back lands in that order.
type Adapter interface {
	// Load opens the media at path. Loading the already-current path is a
	// no-op. Load returns once the driver reports a positive duration or the
	// retry budget expires, in which case the error wraps ErrLoadFailed.
	Load(path string) error

	Play() error
	Pause() error
	Stop() error

	// Seek positions playback at targetMs. Exact seeks land on a single
	// decoded frame; non-exact seeks may land on the nearest keyframe.
	// Out-of-range targets are clamped to [0, duration], never rejected.
	Seek(targetMs int64, exact bool) error

	// SetRate sets the playback rate, clamped to [RateMin, RateMax]. Drivers
	// without rate control accept the call as a no-op and report it through
	// Capabilities.
	SetRate(rate float64) error

	SetVolume(volume int) error
	SetMute(mute bool) error

	State() State
	TimeMs() int64

	// DurationMs reports the media length; ok is false while unknown.
	DurationMs() (ms int64, ok bool)

	// AttachSurface hands the driver a native window handle to render into.
	// Only meaningful for video.
	AttachSurface(handle uintptr) error

	Capabilities() Capabilities

	Close() error
}

// ClampRate bounds a requested rate to what drivers accept.
func ClampRate(rate float64) float64 {
	if rate < RateMin {
		return RateMin
	}
	if rate > RateMax {
		return RateMax
	}
	return rate
}

// ClampVolume bounds a volume to [0, 100].
func ClampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}

// ClampSeek bounds a seek target to [0, durationMs]. A zero or unknown
// duration only clamps the lower bound.
func ClampSeek(targetMs, durationMs int64) int64 {
	if targetMs < 0 {
		return 0
	}
	if durationMs > 0 && targetMs > durationMs {
		return durationMs
	}
	return targetMs
}
