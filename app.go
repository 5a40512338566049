package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/marwale/clipspeed/internal/engine"
	"github.com/marwale/clipspeed/internal/granular"
	"github.com/marwale/clipspeed/internal/project"
)

// App struct
type App struct {
	ctx context.Context
	mu  sync.Mutex

	settingsPath string
	testApi      bool

	coordinator *engine.Coordinator
	editor      *granular.Editor
	timeline    *project.Timeline
	tickStop    chan struct{}

	probeCache map[string]*ProbeResult
	probeMutex sync.RWMutex

	waveformCache map[WaveformCacheKey]*WaveformData
	waveMutex     sync.RWMutex

	fileUsage  map[string]time.Time
	updateInfo *UpdateResponseV1
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		settingsPath:  filepath.Join(appDataDir(), "settings.json"),
		probeCache:    make(map[string]*ProbeResult),
		waveformCache: make(map[WaveformCacheKey]*WaveformData),
		fileUsage:     make(map[string]time.Time),
	}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("Wails App: OnStartup called.")

	go a.checkForUpdate(AppVersion)
	go a.cleanupOldFiles()
}

// shutdown releases the preview players before the process exits.
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTickLoopLocked()
	if a.coordinator != nil {
		if err := a.coordinator.Close(); err != nil {
			log.Printf("Error closing preview coordinator: %v", err)
		}
		a.coordinator = nil
	}
	if a.timeline != nil {
		if err := a.timeline.Close(); err != nil {
			log.Printf("Error closing project timeline: %v", err)
		}
		a.timeline = nil
	}
}

// GetSettings reads settings.json. Creates it with defaults if it doesn't exist.
func (a *App) GetSettings() (map[string]any, error) {
	var settings map[string]any

	fileBytes, err := os.ReadFile(a.settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultSettings := map[string]any{
				"previewVolume":        100,
				"musicVolume":          80,
				"enableCleanup":        true,
				"cleanupThresholdDays": 14,
			}

			jsonData, marshalErr := json.MarshalIndent(defaultSettings, "", "  ")
			if marshalErr != nil {
				return nil, fmt.Errorf("failed to marshal default settings: %w", marshalErr)
			}

			dir := filepath.Dir(a.settingsPath)
			if mkDirErr := os.MkdirAll(dir, 0755); mkDirErr != nil {
				return nil, fmt.Errorf("failed to create settings directory %s: %w", dir, mkDirErr)
			}

			if writeErr := os.WriteFile(a.settingsPath, jsonData, 0644); writeErr != nil {
				return nil, fmt.Errorf("failed to write default settings file %s: %w", a.settingsPath, writeErr)
			}
			settings = defaultSettings
		} else {
			return nil, fmt.Errorf("failed to read settings file %s: %w", a.settingsPath, err)
		}
	} else {
		if unmarshalErr := json.Unmarshal(fileBytes, &settings); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal settings file %s: %w", a.settingsPath, unmarshalErr)
		}
	}
	return settings, nil
}

// SaveSettings saves the given settings to settings.json.
func (a *App) SaveSettings(settings map[string]any) error {
	jsonData, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings for saving: %w", err)
	}

	dir := filepath.Dir(a.settingsPath)
	if mkDirErr := os.MkdirAll(dir, 0755); mkDirErr != nil {
		return fmt.Errorf("failed to create settings directory %s for saving: %w", dir, mkDirErr)
	}

	if err := os.WriteFile(a.settingsPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write settings file %s: %w", a.settingsPath, err)
	}
	return nil
}

// touchFile records that a temporary file was just used, for cleanup.
func (a *App) touchFile(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fileUsage[path] = time.Now()
}

func (a *App) CloseApp() {
	runtime.Quit(a.ctx)
}
