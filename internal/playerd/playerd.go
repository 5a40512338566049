// Package playerd implements the out-of-process player worker: a loopback
// server speaking newline-delimited JSON requests over TCP, wrapping a
// playback driver, and publishing a compact shared status region for
// low-overhead polling. The cmd/playerd binary is a thin flag wrapper around
// Start; the logic lives here so it can be tested in-process.
package playerd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/marwale/clipspeed/internal/player"
)

// trackLister is the optional driver surface behind get_tracks/set_track.
type trackLister interface {
	Tracks() ([]player.Track, error)
	SelectTrack(trackID int) error
}

// Server serves the wire protocol over a listener, driving one Adapter.
// Requests are processed strictly in arrival order per connection.
type Server struct {
	adapter  player.Adapter
	listener net.Listener
	status   *player.StatusWriter

	mu       sync.Mutex
	quitOnce sync.Once
	quitCh   chan struct{}
}

// NewServer wraps adapter behind a listener on addr ("127.0.0.1:0" picks a
// free port). statusPath optionally names the shared status region.
func NewServer(adapter player.Adapter, addr, statusPath string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("playerd listen on %s: %w", addr, err)
	}
	s := &Server{adapter: adapter, listener: l, quitCh: make(chan struct{})}
	if statusPath != "" {
		w, err := player.NewStatusWriter(statusPath)
		if err != nil {
			l.Close()
			return nil, err
		}
		s.status = w
	}
	return s, nil
}

// Addr is the address clients dial.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Done is closed when a quit request or Shutdown arrives.
func (s *Server) Done() <-chan struct{} { return s.quitCh }

// Serve accepts connections until Shutdown. It also runs the status
// publisher when a region was configured.
func (s *Server) Serve() {
	if s.status != nil {
		go s.publishStatus()
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quitCh:
				return
			default:
			}
			log.Printf("playerd: accept failed: %v", err)
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) publishStatus() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			length, _ := s.adapter.DurationMs()
			snap := player.Status{
				State:    s.adapter.State(),
				TimeMs:   s.adapter.TimeMs(),
				LengthMs: length,
			}
			if err := s.status.Write(snap); err != nil {
				log.Printf("playerd: status write failed: %v", err)
				return
			}
		}
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req player.Request
		var resp player.Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = errResponse(fmt.Sprintf("bad request: %v", err))
		} else {
			resp = s.handle(req)
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Printf("playerd: marshalling response: %v", err)
			return
		}
		payload = append(payload, '\n')
		if _, err := writer.Write(payload); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Printf("playerd: connection read: %v", err)
	}
}

func okResponse() player.Response { return player.Response{Status: player.StatusOK} }

func errResponse(message string) player.Response {
	return player.Response{Status: player.StatusError, Message: message}
}

func (s *Server) handle(req player.Request) player.Response {
	// One request at a time; the adapter is shared across connections.
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Action {
	case "ping":
		return okResponse()

	case "load":
		if req.Path == "" {
			return errResponse("load requires a path")
		}
		if err := s.adapter.Load(req.Path); err != nil {
			return errResponse(err.Error())
		}
		resp := okResponse()
		if length, ok := s.adapter.DurationMs(); ok {
			resp.LengthMs = &length
		}
		return resp

	case "play":
		return statusOf(s.adapter.Play())
	case "pause":
		return statusOf(s.adapter.Pause())
	case "stop":
		return statusOf(s.adapter.Stop())

	case "set_time":
		if req.TimeMs == nil {
			return errResponse("set_time requires a time")
		}
		return statusOf(s.adapter.Seek(*req.TimeMs, req.Exact))

	case "set_rate":
		if req.Rate == nil {
			return errResponse("set_rate requires a rate")
		}
		return statusOf(s.adapter.SetRate(*req.Rate))

	case "set_volume":
		if req.Volume == nil {
			return errResponse("set_volume requires a volume")
		}
		return statusOf(s.adapter.SetVolume(*req.Volume))

	case "set_mute":
		if req.Mute == nil {
			return errResponse("set_mute requires a mute flag")
		}
		return statusOf(s.adapter.SetMute(*req.Mute))

	case "get_state":
		state := int32(s.adapter.State())
		timeMs := s.adapter.TimeMs()
		resp := okResponse()
		resp.State = &state
		resp.TimeMs = &timeMs
		if length, ok := s.adapter.DurationMs(); ok {
			resp.LengthMs = &length
		}
		return resp

	case "get_tracks":
		lister, ok := s.adapter.(trackLister)
		if !ok {
			return errResponse("driver does not expose tracks")
		}
		tracks, err := lister.Tracks()
		if err != nil {
			return errResponse(err.Error())
		}
		resp := okResponse()
		resp.Tracks = tracks
		return resp

	case "set_track":
		if req.TrackID == nil {
			return errResponse("set_track requires a track_id")
		}
		lister, ok := s.adapter.(trackLister)
		if !ok {
			return errResponse("driver does not expose tracks")
		}
		return statusOf(lister.SelectTrack(*req.TrackID))

	case "set_hwnd":
		if req.Hwnd == nil {
			return errResponse("set_hwnd requires a hwnd")
		}
		return statusOf(s.adapter.AttachSurface(uintptr(*req.Hwnd)))

	case "quit":
		s.signalQuit()
		return okResponse()

	default:
		return errResponse(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func statusOf(err error) player.Response {
	if err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (s *Server) signalQuit() {
	s.quitOnce.Do(func() { close(s.quitCh) })
}

// Shutdown stops accepting, releases the adapter and removes the status
// region.
func (s *Server) Shutdown() {
	s.signalQuit()
	_ = s.listener.Close()
	if s.status != nil {
		_ = s.status.Close()
	}
	_ = s.adapter.Close()
}

// Options configures a standalone worker run.
type Options struct {
	Port       int
	StatusPath string
	MPV        player.MPVOptions
}

// Run starts an mpv-backed worker and blocks until an OS signal or a quit
// request arrives. This is the entry point the cmd/playerd binary calls.
func Run(opts Options) error {
	driver, err := player.NewMPV(opts.MPV)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	server, err := NewServer(driver, addr, opts.StatusPath)
	if err != nil {
		driver.Close()
		return err
	}
	log.Printf("playerd: listening on %s", server.Addr())

	osSignalChan := make(chan os.Signal, 1)
	signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)

	go server.Serve()

	select {
	case <-osSignalChan:
		log.Println("playerd: shutdown signal received from OS")
	case <-server.Done():
		log.Println("playerd: shutdown requested over the wire")
	}
	server.Shutdown()
	log.Println("playerd: exited")
	return nil
}

// FindFreePort reports a currently free TCP port on the loopback interface.
func FindFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
