package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/marwale/clipspeed/internal/player"
	"github.com/marwale/clipspeed/internal/playerd"
)

func main() {
	port := flag.Int("port", 0, "port to listen on (0 picks a free one)")
	findPort := flag.Bool("find-port", false, "find a free port and exit")
	statusPath := flag.String("status-file", "", "path for the shared status region (empty disables it)")
	mpvPath := flag.String("mpv", "", "mpv binary to use (default: mpv on PATH)")
	flag.Parse()

	if *findPort {
		port, err := playerd.FindFreePort()
		if err != nil {
			log.Fatalf("could not find a free port: %v", err)
		}
		fmt.Println(port)
		return
	}

	if *statusPath == "" {
		*statusPath = filepath.Join(os.TempDir(), "clipspeed-playerd-"+uuid.NewString())
	}
	log.Printf("playerd: status region at %s", *statusPath)

	err := playerd.Run(playerd.Options{
		Port:       *port,
		StatusPath: *statusPath,
		MPV:        player.MPVOptions{BinaryPath: *mpvPath},
	})
	if err != nil {
		log.Fatalf("playerd: %v", err)
	}
}
