package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProbeResult is the subset of ffprobe output the engine needs: the duration
// to derive trim ranges, and enough stream info for the clip list.
type ProbeResult struct {
	DurationMs      int64  `json:"duration_ms"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	SampleRate      int    `json:"sample_rate"`
	AudioBitrateKbs int    `json:"audio_bitrate_kbps"`
	Container       string `json:"container"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

func probeMedia(path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=codec_type,width,height,sample_rate,bit_rate",
		"-of", "json",
		path,
	}

	cmd := ExecCommand("ffprobe", args...)
	var outputBuffer bytes.Buffer
	var errBuffer bytes.Buffer
	cmd.Stdout = &outputBuffer
	cmd.Stderr = &errBuffer

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w. Output: %s", path, err, errBuffer.String())
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(outputBuffer.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("error decoding ffprobe output for %s: %w", path, err)
	}

	result := &ProbeResult{Container: parsed.Format.FormatName}
	if durationSec, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		result.DurationMs = int64(durationSec * 1000)
	}
	for _, stream := range parsed.Streams {
		switch stream.CodecType {
		case "video":
			if result.Width == 0 {
				result.Width = stream.Width
				result.Height = stream.Height
			}
		case "audio":
			if result.SampleRate == 0 {
				if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
					result.SampleRate = rate
				}
				if bitrate, err := strconv.Atoi(stream.BitRate); err == nil {
					result.AudioBitrateKbs = bitrate / 1000
				}
			}
		}
	}
	if result.DurationMs <= 0 {
		return nil, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	return result, nil
}

// ProbeMedia probes a media file, serving repeats from the cache.
func (a *App) ProbeMedia(path string) (*ProbeResult, error) {
	a.probeMutex.RLock()
	cached, found := a.probeCache[path]
	a.probeMutex.RUnlock()
	if found {
		return cached, nil
	}

	result, err := probeMedia(path)
	if err != nil {
		// Do not cache errors, so subsequent calls can retry.
		return nil, err
	}

	a.probeMutex.Lock()
	a.probeCache[path] = result
	a.probeMutex.Unlock()
	return result, nil
}

// ProbeAll probes several files concurrently, for project import. One bad
// file fails the whole batch; the caller falls back to per-file probes to
// find out which.
func (a *App) ProbeAll(paths []string) (map[string]*ProbeResult, error) {
	results := make(map[string]*ProbeResult, len(paths))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(4)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			result, err := a.ProbeMedia(path)
			if err != nil {
				return err
			}
			mu.Lock()
			results[path] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
