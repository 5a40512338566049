package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// RemoteOptions configures the out-of-process driver.
type RemoteOptions struct {
	// Addr is the loopback address of a running playerd worker,
	// e.g. "127.0.0.1:43123".
	Addr string

	// StatusPath optionally names the worker's shared status region. When
	// attach fails the driver logs once and polls over the wire instead;
	// the region is never a correctness dependency.
	StatusPath string
}

// Remote is the out-of-process Adapter variant: it speaks the newline-
// delimited JSON protocol to a playerd worker and, when available, polls the
// worker's shared status region instead of the wire.
type Remote struct {
	mu          sync.Mutex
	conn        net.Conn
	br          *bufio.Reader
	status      *StatusReader
	currentPath string
	durationMs  int64
	lastTimeMs  int64
	lastState   State
	closed      bool
}

var _ Adapter = (*Remote)(nil)

// DialRemote connects to a playerd worker.
func DialRemote(opts RemoteOptions) (*Remote, error) {
	conn, err := net.DialTimeout("tcp", opts.Addr, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing playerd at %s: %w", opts.Addr, err)
	}
	r := &Remote{conn: conn, br: bufio.NewReader(conn), lastState: StateIdle}
	if opts.StatusPath != "" {
		status, err := OpenStatusReader(opts.StatusPath)
		if err != nil {
			log.Printf("playerd status region unavailable, polling over the wire: %v", err)
		} else {
			r.status = status
		}
	}
	if resp, err := r.roundTrip(Request{Action: "ping"}); err != nil || resp.Status != StatusOK {
		conn.Close()
		return nil, fmt.Errorf("playerd at %s did not answer ping: %v", opts.Addr, err)
	}
	return r, nil
}

// roundTrip sends one request and reads exactly one response line. The worker
// processes requests in arrival order per connection, so no request IDs are
// needed. Callers hold r.mu.
func (r *Remote) roundTrip(req Request) (Response, error) {
	if r.closed {
		return Response{}, ErrClosed
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	// Generous deadline: the worker's load blocks on its own duration poll.
	if err := r.conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return Response{}, err
	}
	if _, err := r.conn.Write(append(payload, '\n')); err != nil {
		return Response{}, fmt.Errorf("playerd write: %w", err)
	}
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("playerd read: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("playerd response: %w", err)
	}
	return resp, nil
}

// do runs an action and folds protocol-level errors into a Go error.
func (r *Remote) do(req Request) (Response, error) {
	resp, err := r.roundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("playerd %s: %s", req.Action, resp.Message)
	}
	return resp, nil
}

func (r *Remote) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == r.currentPath && r.durationMs > 0 {
		return nil
	}
	r.lastState = StateOpening
	resp, err := r.do(Request{Action: "load", Path: path})
	if err != nil {
		r.lastState = StateError
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if resp.LengthMs != nil {
		r.durationMs = *resp.LengthMs
	}
	r.currentPath = path
	r.lastState = StatePaused
	r.lastTimeMs = 0
	return nil
}

func (r *Remote) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.do(Request{Action: "play"})
	return err
}

func (r *Remote) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.do(Request{Action: "pause"})
	return err
}

func (r *Remote) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.do(Request{Action: "stop"}); err != nil {
		return err
	}
	r.currentPath = ""
	r.durationMs = 0
	r.lastState = StateIdle
	return nil
}

func (r *Remote) Seek(targetMs int64, exact bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := ClampSeek(targetMs, r.durationMs)
	_, err := r.do(Request{Action: "set_time", TimeMs: &target, Exact: exact})
	if err == nil {
		r.lastTimeMs = target
	}
	return err
}

func (r *Remote) SetRate(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clamped := ClampRate(rate)
	_, err := r.do(Request{Action: "set_rate", Rate: &clamped})
	return err
}

func (r *Remote) SetVolume(volume int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clamped := ClampVolume(volume)
	_, err := r.do(Request{Action: "set_volume", Volume: &clamped})
	return err
}

func (r *Remote) SetMute(mute bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.do(Request{Action: "set_mute", Mute: &mute})
	return err
}

// snapshot prefers the shared status region and falls back to get_state over
// the wire. Transient failures keep the last known values.
func (r *Remote) snapshot() Status {
	if r.status != nil {
		if s, err := r.status.Read(); err == nil {
			r.lastState = s.State
			r.lastTimeMs = s.TimeMs
			if s.LengthMs > 0 {
				r.durationMs = s.LengthMs
			}
			return s
		}
	}
	resp, err := r.do(Request{Action: "get_state"})
	if err != nil {
		return Status{State: r.lastState, TimeMs: r.lastTimeMs, LengthMs: r.durationMs}
	}
	s := Status{State: r.lastState, TimeMs: r.lastTimeMs, LengthMs: r.durationMs}
	if resp.State != nil {
		s.State = State(*resp.State)
		r.lastState = s.State
	}
	if resp.TimeMs != nil {
		s.TimeMs = *resp.TimeMs
		r.lastTimeMs = s.TimeMs
	}
	if resp.LengthMs != nil && *resp.LengthMs > 0 {
		s.LengthMs = *resp.LengthMs
		r.durationMs = s.LengthMs
	}
	return s
}

func (r *Remote) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return StateIdle
	}
	return r.snapshot().State
}

func (r *Remote) TimeMs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.lastTimeMs
	}
	return r.snapshot().TimeMs
}

func (r *Remote) DurationMs() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durationMs, r.durationMs > 0
}

func (r *Remote) AttachSurface(handle uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hwnd := uint64(handle)
	_, err := r.do(Request{Action: "set_hwnd", Hwnd: &hwnd})
	return err
}

// Tracks lists the selectable streams of the loaded media.
func (r *Remote) Tracks() ([]Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, err := r.do(Request{Action: "get_tracks"})
	if err != nil {
		return nil, err
	}
	return resp.Tracks, nil
}

// SelectTrack switches the active stream.
func (r *Remote) SelectTrack(trackID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.do(Request{Action: "set_track", TrackID: &trackID})
	return err
}

func (r *Remote) Capabilities() Capabilities {
	return Capabilities{
		ExactSeek:     true,
		RateControl:   true,
		SurfaceAttach: true,
		SharedMemory:  r.status != nil,
	}
}

// Quit asks the worker process to exit. Close alone only releases the
// connection and leaves the worker running.
func (r *Remote) Quit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.do(Request{Action: "quit"})
	return err
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.status != nil {
		_ = r.status.Close()
	}
	return r.conn.Close()
}
