package main

import (
	"io"
	"log"
	"os"
	"time"
)

func binaryExists(path string) bool {
	if path == "" {
		return false
	}
	cmd := ExecCommand(path, "-version")

	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	// cmd.Run() will return nil if the command runs and exits with a zero status code.
	return cmd.Run() == nil
}

// ToolchainStatus reports which external binaries the preview can use.
type ToolchainStatus struct {
	Mpv     bool `json:"mpv"`
	Ffmpeg  bool `json:"ffmpeg"`
	Ffprobe bool `json:"ffprobe"`
}

// CheckToolchain probes for the external tools, honoring a configured mpv
// path when one is set.
func (a *App) CheckToolchain() ToolchainStatus {
	mpvPath := "mpv"
	if settings, err := a.GetSettings(); err == nil {
		if configured, ok := settings["mpvPath"].(string); ok && configured != "" {
			mpvPath = configured
		}
	}
	return ToolchainStatus{
		Mpv:     binaryExists(mpvPath),
		Ffmpeg:  binaryExists("ffmpeg"),
		Ffprobe: binaryExists("ffprobe"),
	}
}

// cleanupOldFiles deletes extracted wav files that have not been touched
// within the configured threshold.
func (a *App) cleanupOldFiles() {
	a.mu.Lock()
	defer a.mu.Unlock()

	log.Println("Starting cleanup of old temporary files...")
	now := time.Now()

	settings, err := a.GetSettings()
	if err != nil {
		log.Printf("Error getting settings for cleanup threshold: %v", err)
		settings = map[string]any{
			"cleanupThresholdDays": 14,
			"enableCleanup":        true,
		}
	}

	enableCleanup := true
	if val, ok := settings["enableCleanup"].(bool); ok {
		enableCleanup = val
	}
	if !enableCleanup {
		log.Println("Cleanup of old temporary files is disabled by settings.")
		return
	}

	cleanupThresholdDays := 14
	if val, ok := settings["cleanupThresholdDays"].(float64); ok { // JSON numbers are float64 in Go
		cleanupThresholdDays = int(val)
	} else if val, ok := settings["cleanupThresholdDays"].(int); ok {
		cleanupThresholdDays = val
	}

	cleanupThreshold := time.Duration(cleanupThresholdDays) * 24 * time.Hour
	log.Printf("Cleanup threshold set to %d days (%v)", cleanupThresholdDays, cleanupThreshold)

	filesToDelete := []string{}
	for filePath, lastUsed := range a.fileUsage {
		if now.Sub(lastUsed) > cleanupThreshold {
			filesToDelete = append(filesToDelete, filePath)
		}
	}

	for _, filePath := range filesToDelete {
		log.Printf("Deleting old file: %s (last used %s ago)", filePath, now.Sub(a.fileUsage[filePath]))
		if err := os.Remove(filePath); err != nil {
			log.Printf("Error deleting file %s: %v", filePath, err)
			if os.IsNotExist(err) {
				delete(a.fileUsage, filePath)
			}
		} else {
			delete(a.fileUsage, filePath)
		}
	}
	log.Printf("Cleanup complete. Deleted %d old files.", len(filesToDelete))
}
