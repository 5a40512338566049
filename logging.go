package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
)

// appDataDir is where settings, logs and temp media for ClipSpeed live.
func appDataDir() string {
	platform := runtime.GOOS
	base := "."

	switch platform {
	case "windows":
		base = filepath.Join(os.Getenv("LOCALAPPDATA"), "ClipSpeed")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("failed to get home dir: %v", err)
		}
		base = filepath.Join(home, "Library", "Application Support", "ClipSpeed")
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("failed to get home dir: %v", err)
		}
		base = filepath.Join(home, ".local", "ClipSpeed")
	default:
		goExecutablePath, err := os.Executable()
		if err != nil {
			log.Fatalf("Could not get executable path: %v", err)
		}
		base = filepath.Dir(goExecutablePath)
	}

	_ = os.MkdirAll(base, 0755)
	return base
}

func init() {
	logFile, err := os.Create(filepath.Join(appDataDir(), "log.txt"))
	if err == nil {
		mw := io.MultiWriter(os.Stdout, logFile)
		log.SetOutput(mw)
	}
}
