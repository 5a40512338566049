package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MPVOptions configures the mpv driver. Zero values pick sensible defaults.
type MPVOptions struct {
	BinaryPath string   // defaults to "mpv" on PATH
	SocketPath string   // IPC socket; defaults to a unique path in the temp dir
	ExtraArgs  []string // appended to the spawn command line
}

// MPV drives a dedicated mpv process over its JSON IPC socket. One process
// per adapter; the engine owns two of these (video + music).
type MPV struct {
	mu          sync.Mutex
	opts        MPVOptions
	cmd         *exec.Cmd
	conn        net.Conn
	br          *bufio.Reader
	reqID       int64
	currentPath string
	durationMs  int64
	lastTimeMs  int64
	lastState   State
	endReached  bool
	loadErr     error
	closed      bool
}

var _ Adapter = (*MPV)(nil)

// NewMPV spawns an mpv process in idle mode and connects to its IPC socket.
func NewMPV(opts MPVOptions) (*MPV, error) {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "mpv"
	}
	if opts.SocketPath == "" {
		opts.SocketPath = filepath.Join(os.TempDir(), "clipspeed-mpv-"+uuid.NewString()+".sock")
	}

	args := []string{
		"--idle=yes",
		"--input-ipc-server=" + opts.SocketPath,
		"--no-terminal",
		"--force-window=no",
		"--keep-open=always",
		"--pause",
	}
	args = append(args, opts.ExtraArgs...)

	cmd := exec.Command(opts.BinaryPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting mpv: %w", err)
	}

	m := &MPV{opts: opts, cmd: cmd, lastState: StateIdle}
	if err := m.connect(2 * time.Second); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return m, nil
}

func (m *MPV) connect(budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for {
		conn, err := net.Dial("unix", m.opts.SocketPath)
		if err == nil {
			m.conn = conn
			m.br = bufio.NewReader(conn)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("connecting to mpv ipc socket %s: %w", m.opts.SocketPath, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// mpvResponse covers both command replies and asynchronous events.
type mpvResponse struct {
	Event     string          `json:"event"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
}

// roundTrip sends one command and reads until its reply arrives, folding any
// interleaved events into the driver state. Callers hold m.mu.
func (m *MPV) roundTrip(command ...any) (json.RawMessage, error) {
	if m.closed {
		return nil, ErrClosed
	}
	m.reqID++
	req := map[string]any{"command": command, "request_id": m.reqID}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := m.conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := m.conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("mpv ipc write: %w", err)
	}
	for {
		line, err := m.br.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("mpv ipc read: %w", err)
		}
		var resp mpvResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Printf("mpv: discarding unparseable ipc line: %v", err)
			continue
		}
		if resp.Event != "" {
			m.handleEvent(resp.Event)
			continue
		}
		if resp.RequestID != m.reqID {
			continue
		}
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv: command failed: %s", resp.Error)
		}
		return resp.Data, nil
	}
}

func (m *MPV) handleEvent(event string) {
	switch event {
	case "end-file":
		m.endReached = true
	case "start-file", "file-loaded", "seek":
		m.endReached = false
	}
}

func (m *MPV) getProperty(name string, out any) error {
	data, err := m.roundTrip("get_property", name)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (m *MPV) setProperty(name string, value any) error {
	_, err := m.roundTrip("set_property", name, value)
	return err
}

// Load opens path, replacing the current file. Reloading the current path is
// a no-op. Returns once mpv reports a positive duration or the retry budget
// expires.
func (m *MPV) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if path == m.currentPath && m.durationMs > 0 {
		return nil
	}

	m.lastState = StateOpening
	m.loadErr = nil
	m.endReached = false
	if _, err := m.roundTrip("loadfile", path, "replace"); err != nil {
		m.lastState = StateError
		m.loadErr = fmt.Errorf("%w: %v", ErrLoadFailed, err)
		return m.loadErr
	}

	// mpv reports duration only after demuxer init; poll with a bounded
	// budget, yielding between polls.
	deadline := time.Now().Add(loadRetryBudgetMs * time.Millisecond)
	for {
		var durationSec float64
		if err := m.getProperty("duration", &durationSec); err == nil && durationSec > 0 {
			m.durationMs = int64(durationSec * 1000)
			m.currentPath = path
			m.lastState = StatePaused
			m.lastTimeMs = 0
			return nil
		}
		if time.Now().After(deadline) {
			m.lastState = StateError
			m.loadErr = fmt.Errorf("%w: no duration for %s within retry budget", ErrLoadFailed, path)
			return m.loadErr
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (m *MPV) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("pause", false)
}

func (m *MPV) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("pause", true)
}

func (m *MPV) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.roundTrip("stop"); err != nil {
		return err
	}
	m.currentPath = ""
	m.durationMs = 0
	m.lastState = StateIdle
	return nil
}

func (m *MPV) Seek(targetMs int64, exact bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentPath == "" {
		return nil
	}
	target := ClampSeek(targetMs, m.durationMs)
	flags := "absolute+keyframes"
	if exact {
		flags = "absolute+exact"
	}
	if _, err := m.roundTrip("seek", float64(target)/1000.0, flags); err != nil {
		return err
	}
	m.endReached = false
	m.lastTimeMs = target
	return nil
}

func (m *MPV) SetRate(rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("speed", ClampRate(rate))
}

func (m *MPV) SetVolume(volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("volume", ClampVolume(volume))
}

func (m *MPV) SetMute(mute bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("mute", mute)
}

// State derives the observable state from mpv properties, keeping the last
// known state when a query transiently fails.
func (m *MPV) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return StateIdle
	}
	if m.loadErr != nil {
		return StateError
	}
	if m.currentPath == "" {
		return StateIdle
	}
	var eof bool
	if err := m.getProperty("eof-reached", &eof); err == nil && eof {
		m.endReached = true
	}
	if m.endReached {
		m.lastState = StateEnded
		return StateEnded
	}
	var paused bool
	if err := m.getProperty("pause", &paused); err != nil {
		return m.lastState
	}
	if paused {
		m.lastState = StatePaused
	} else {
		m.lastState = StatePlaying
	}
	return m.lastState
}

func (m *MPV) TimeMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posSec float64
	if err := m.getProperty("time-pos", &posSec); err != nil {
		return m.lastTimeMs
	}
	m.lastTimeMs = int64(posSec * 1000)
	return m.lastTimeMs
}

func (m *MPV) DurationMs() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationMs, m.durationMs > 0
}

func (m *MPV) AttachSurface(handle uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProperty("wid", int64(handle))
}

// Tracks lists the selectable streams mpv sees in the loaded media.
func (m *MPV) Tracks() ([]Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var raw []struct {
		ID    int    `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		Lang  string `json:"lang"`
	}
	if err := m.getProperty("track-list", &raw); err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(raw))
	for _, t := range raw {
		tracks = append(tracks, Track{ID: t.ID, Type: t.Type, Title: t.Title, Lang: t.Lang})
	}
	return tracks, nil
}

// SelectTrack switches the active stream of the track's kind.
func (m *MPV) SelectTrack(trackID int) error {
	tracks, err := m.Tracks()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tracks {
		if t.ID != trackID {
			continue
		}
		switch t.Type {
		case "video":
			return m.setProperty("vid", trackID)
		case "audio":
			return m.setProperty("aid", trackID)
		case "sub":
			return m.setProperty("sid", trackID)
		}
	}
	return fmt.Errorf("mpv: no track with id %d", trackID)
}

func (m *MPV) Capabilities() Capabilities {
	return Capabilities{ExactSeek: true, RateControl: true, SurfaceAttach: true}
}

func (m *MPV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.conn != nil {
		// Best effort; mpv also dies when the socket closes under --idle.
		_ = m.conn.SetDeadline(time.Now().Add(250 * time.Millisecond))
		_, _ = m.conn.Write([]byte(`{"command":["quit"]}` + "\n"))
		_ = m.conn.Close()
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	_ = os.Remove(m.opts.SocketPath)
	return nil
}
