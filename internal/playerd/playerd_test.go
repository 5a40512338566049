package playerd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marwale/clipspeed/internal/player"
)

func startTestServer(t *testing.T, statusPath string) (*Server, *player.Fake) {
	t.Helper()
	fake := player.NewFake("worker")
	server, err := NewServer(fake, "127.0.0.1:0", statusPath)
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve()
	t.Cleanup(server.Shutdown)
	return server, fake
}

func TestProtocolRoundTrip(t *testing.T) {
	server, fake := startTestServer(t, "")

	remote, err := player.DialRemote(player.RemoteOptions{Addr: server.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()

	if err := remote.Load("clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if got, ok := remote.DurationMs(); !ok || got != 60000 {
		t.Fatalf("duration = (%d, %v), want (60000, true)", got, ok)
	}
	if err := remote.Seek(1500, true); err != nil {
		t.Fatal(err)
	}
	if ms, exact := fake.LastSeek(); ms != 1500 || !exact {
		t.Fatalf("worker saw seek (%d, %v), want (1500, true)", ms, exact)
	}
	if err := remote.SetRate(2.5); err != nil {
		t.Fatal(err)
	}
	if got := fake.Rate(); got != 2.5 {
		t.Fatalf("worker rate = %v, want 2.5", got)
	}
	if err := remote.Play(); err != nil {
		t.Fatal(err)
	}
	if got := remote.State(); got != player.StatePlaying {
		t.Fatalf("state over the wire = %v, want playing", got)
	}
	if err := remote.SetMute(true); err != nil {
		t.Fatal(err)
	}
	if !fake.Muted() {
		t.Fatal("worker not muted after set_mute")
	}
}

func TestSeekClampsToDuration(t *testing.T) {
	server, fake := startTestServer(t, "")

	remote, err := player.DialRemote(player.RemoteOptions{Addr: server.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()

	if err := remote.Load("clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := remote.Seek(10_000_000, false); err != nil {
		t.Fatal(err)
	}
	if ms, _ := fake.LastSeek(); ms != 60000 {
		t.Fatalf("seek past end landed at %d, want clamped 60000", ms)
	}
}

func TestUnknownActionReportsError(t *testing.T) {
	server, _ := startTestServer(t, "")
	resp := server.handle(player.Request{Action: "warp"})
	if resp.Status != player.StatusError {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}

func TestQuitClosesDone(t *testing.T) {
	server, _ := startTestServer(t, "")
	resp := server.handle(player.Request{Action: "quit"})
	if resp.Status != player.StatusOK {
		t.Fatalf("quit status = %q", resp.Status)
	}
	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after quit")
	}
}

func TestStatusRegionPublishes(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "status")
	server, fake := startTestServer(t, statusPath)

	remote, err := player.DialRemote(player.RemoteOptions{Addr: server.Addr(), StatusPath: statusPath})
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()
	if !remote.Capabilities().SharedMemory {
		t.Fatal("remote did not attach to the status region")
	}

	if err := remote.Load("clip.mp4"); err != nil {
		t.Fatal(err)
	}
	fake.SetTimeMs(4321)

	// The publisher ticks every 100 ms; poll until the snapshot shows up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if remote.TimeMs() == 4321 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status region never reported 4321, last %d", remote.TimeMs())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
