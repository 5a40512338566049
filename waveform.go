package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// WaveformCacheKey identifies one rendered waveform strip.
type WaveformCacheKey struct {
	FilePath        string
	SamplesPerPixel int
	MinDb           float64
}

// WaveformData is what the timeline strip renders: normalized peak heights,
// one per pixel column, plus the audio duration for axis scaling.
type WaveformData struct {
	Duration float64   `json:"duration"`
	Peaks    []float64 `json:"peaks"`
}

// extractAudio renders a media file's audio track to a 16-bit PCM WAV in
// the app data dir, so the peaks pass can stream it.
func (a *App) extractAudio(mediaPath string) (string, error) {
	wavDir := filepath.Join(appDataDir(), "wav_cache")
	if err := os.MkdirAll(wavDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create wav cache dir: %w", err)
	}
	wavPath := filepath.Join(wavDir, uuid.NewString()+".wav")

	args := []string{
		"-nostdin",
		"-i", mediaPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		wavPath,
	}
	cmd := ExecCommand("ffmpeg", args...)
	var outputBuffer bytes.Buffer
	cmd.Stdout = &outputBuffer
	cmd.Stderr = &outputBuffer

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg audio extraction failed: %w. Output: %s", err, outputBuffer.String())
	}
	a.touchFile(wavPath)
	return wavPath, nil
}

// wavToPeaks streams a 16-bit PCM WAV and reduces it to one normalized peak
// per samplesPerPixel block, mapped onto a dB scale so quiet passages stay
// visible.
func wavToPeaks(wavPath string, samplesPerPixel int, minDb float64) (*WaveformData, error) {
	if samplesPerPixel < 1 {
		return nil, fmt.Errorf("samples_per_pixel must be at least 1")
	}

	file, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file '%s': %w", wavPath, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("'%s' is not a valid WAV file", wavPath)
	}
	if decoder.WavAudioFormat != 1 || decoder.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported WAV format: only 16-bit PCM is supported (got %d-bit, format %d)", decoder.BitDepth, decoder.WavAudioFormat)
	}

	format := decoder.Format()
	if format == nil || format.NumChannels == 0 {
		return nil, fmt.Errorf("could not read audio format from '%s'", wavPath)
	}
	channels := int(format.NumChannels)
	sampleRate := int(format.SampleRate)

	chunkSize := 8192
	if chunkSize%channels != 0 {
		chunkSize = (chunkSize/channels + 1) * channels
	}
	pcmBuffer := &audio.IntBuffer{
		Format: format,
		Data:   make([]int, chunkSize),
	}

	var peaks []float64
	var blockMax int32
	samplesInBlock := 0
	totalFrames := 0

	flushBlock := func() {
		linear := float64(blockMax) / 32767.0
		dB := minDb
		if linear >= 0.000001 {
			dB = 20 * math.Log10(linear)
		}
		if dB < minDb {
			dB = minDb
		} else if dB > 0 {
			dB = 0
		}
		height := (dB - minDb) / -minDb
		peaks = append(peaks, height)
		blockMax = 0
		samplesInBlock = 0
	}

	for {
		numSamples, err := decoder.PCMBuffer(pcmBuffer)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading PCM chunk: %w", err)
		}
		if numSamples == 0 {
			break
		}

		samples := pcmBuffer.Data[:numSamples]
		frames := numSamples / channels
		totalFrames += frames

		for i := 0; i < frames; i++ {
			var frameMax int32
			for ch := 0; ch < channels; ch++ {
				val := int32(samples[i*channels+ch])
				if val < 0 {
					val = -val
				}
				if val > frameMax {
					frameMax = val
				}
			}
			if frameMax > blockMax {
				blockMax = frameMax
			}
			samplesInBlock++
			if samplesInBlock >= samplesPerPixel {
				flushBlock()
			}
		}
	}
	if samplesInBlock > 0 {
		flushBlock()
	}

	return &WaveformData{
		Duration: float64(totalFrames) / float64(sampleRate),
		Peaks:    peaks,
	}, nil
}

// GetWaveform renders (or serves from cache) the dB-scaled waveform strip
// for a media file. minDb is the display floor, typically -60.
func (a *App) GetWaveform(filePath string, samplesPerPixel int, minDb float64) (*WaveformData, error) {
	if minDb >= 0 {
		return nil, fmt.Errorf("minDb must be negative, got %.1f", minDb)
	}
	key := WaveformCacheKey{FilePath: filePath, SamplesPerPixel: samplesPerPixel, MinDb: minDb}

	a.waveMutex.RLock()
	cached, found := a.waveformCache[key]
	a.waveMutex.RUnlock()
	if found {
		return cached, nil
	}

	runtime.LogInfof(a.ctx, "Rendering waveform for: %s (spp: %d, minDb: %.1f)", filePath, samplesPerPixel, minDb)

	wavPath, err := a.extractAudio(filePath)
	if err != nil {
		runtime.LogError(a.ctx, fmt.Sprintf("Audio extraction failed for %s: %v", filePath, err))
		return nil, err
	}

	data, err := wavToPeaks(wavPath, samplesPerPixel, minDb)
	if err != nil {
		return nil, fmt.Errorf("failed to render waveform for '%s': %v", filePath, err)
	}

	a.waveMutex.Lock()
	a.waveformCache[key] = data
	a.waveMutex.Unlock()
	return data, nil
}
