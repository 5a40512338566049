package player

import (
	"encoding/binary"
	"fmt"
	"os"
)

// StatusBlockSize is the size of the shared status region. Only the first 20
// bytes carry data (int32 state, int64 time_ms, int64 length_ms); the rest is
// reserved.
const StatusBlockSize = 64

// statusPlausibleMaxMs rejects torn reads: no clip is a month long.
const statusPlausibleMaxMs = int64(30 * 24 * 3600 * 1000)

// Status is the compact playback snapshot the playerd worker publishes for
// low-overhead polling. It is an optimization only; the engine falls back to
// the wire protocol when the region is unavailable.
type Status struct {
	State    State
	TimeMs   int64
	LengthMs int64
}

func (s Status) plausible() bool {
	if s.State < StateIdle || s.State > StateError {
		return false
	}
	if s.TimeMs < -1 || s.TimeMs > statusPlausibleMaxMs {
		return false
	}
	if s.LengthMs < -1 || s.LengthMs > statusPlausibleMaxMs {
		return false
	}
	return true
}

func (s Status) encode() []byte {
	buf := make([]byte, StatusBlockSize)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(s.State))
	binary.NativeEndian.PutUint64(buf[4:12], uint64(s.TimeMs))
	binary.NativeEndian.PutUint64(buf[12:20], uint64(s.LengthMs))
	return buf
}

func decodeStatus(buf []byte) Status {
	return Status{
		State:    State(binary.NativeEndian.Uint32(buf[0:4])),
		TimeMs:   int64(binary.NativeEndian.Uint64(buf[4:12])),
		LengthMs: int64(binary.NativeEndian.Uint64(buf[12:20])),
	}
}

// StatusWriter publishes Status snapshots into a named file-backed region.
// The worker is the only writer; engine-side readers are read-only.
type StatusWriter struct {
	f *os.File
}

// NewStatusWriter creates (or truncates) the region at path.
func NewStatusWriter(path string) (*StatusWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating status region %s: %w", path, err)
	}
	if err := f.Truncate(StatusBlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing status region: %w", err)
	}
	return &StatusWriter{f: f}, nil
}

func (w *StatusWriter) Write(s Status) error {
	_, err := w.f.WriteAt(s.encode(), 0)
	return err
}

func (w *StatusWriter) Close() error {
	path := w.f.Name()
	err := w.f.Close()
	_ = os.Remove(path)
	return err
}

// StatusReader polls the region written by a StatusWriter.
type StatusReader struct {
	f *os.File
}

func OpenStatusReader(path string) (*StatusReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening status region %s: %w", path, err)
	}
	return &StatusReader{f: f}, nil
}

// Read returns the current snapshot, re-reading a bounded number of times
// when a torn write yields implausible values.
func (r *StatusReader) Read() (Status, error) {
	buf := make([]byte, StatusBlockSize)
	var last Status
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := r.f.ReadAt(buf, 0); err != nil {
			return Status{}, err
		}
		last = decodeStatus(buf)
		if last.plausible() {
			return last, nil
		}
	}
	return last, fmt.Errorf("status region stayed implausible after re-reads: %+v", last)
}

func (r *StatusReader) Close() error { return r.f.Close() }
