// Package timemap holds the pure math over a variable-speed plan: conversions
// between source time (raw media ms), project time (what the viewer sees on
// output, seconds) and wall-clock time (what the preview actually takes to
// play, seconds), plus segment lookup, merging and override insertion.
//
// Plans are treated as immutable values. Mutating operations return a new
// Plan and never touch the receiver.
package timemap

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// MinSpeed and MaxSpeed bound both the base speed and every segment speed.
	MinSpeed = 0.5
	MaxSpeed = 3.1

	// Segments closer than this are considered adjacent for merging.
	adjacencyGapMs = 5

	// Speeds closer than this are considered equal for merging.
	speedEpsilon = 0.01
)

var ErrInvalidPlan = errors.New("invalid speed plan")

// Segment is a half-open source-time range [StartMs, EndMs) played at Speed.
type Segment struct {
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Speed   float64 `json:"speed"`
}

func (s Segment) durationMs() int64 { return s.EndMs - s.StartMs }

// Plan is a base speed plus ordered, non-overlapping speed segments.
type Plan struct {
	BaseSpeed float64   `json:"base_speed"`
	Segments  []Segment `json:"segments"`
}

// NewPlan returns an empty plan at the given base speed.
func NewPlan(baseSpeed float64) Plan {
	return Plan{BaseSpeed: baseSpeed}
}

func validSpeed(v float64) bool {
	return v >= MinSpeed-1e-9 && v <= MaxSpeed+1e-9
}

// Validate checks the plan invariants: speeds within [MinSpeed, MaxSpeed],
// positive segment ranges, segments sorted by start and non-overlapping.
// Returned errors wrap ErrInvalidPlan.
func (p Plan) Validate() error {
	if !validSpeed(p.BaseSpeed) {
		return fmt.Errorf("%w: base speed %.3f outside [%.1f, %.1f]", ErrInvalidPlan, p.BaseSpeed, MinSpeed, MaxSpeed)
	}
	for i, seg := range p.Segments {
		if seg.EndMs <= seg.StartMs {
			return fmt.Errorf("%w: segment %d has empty range [%d, %d)", ErrInvalidPlan, i, seg.StartMs, seg.EndMs)
		}
		if !validSpeed(seg.Speed) {
			return fmt.Errorf("%w: segment %d speed %.3f outside [%.1f, %.1f]", ErrInvalidPlan, i, seg.Speed, MinSpeed, MaxSpeed)
		}
		if i > 0 && seg.StartMs < p.Segments[i-1].EndMs {
			return fmt.Errorf("%w: segment %d overlaps segment %d", ErrInvalidPlan, i, i-1)
		}
	}
	return nil
}

// ContainingSegment returns the index of the segment containing sourceMs.
// A point exactly on a segment's end boundary belongs to the next segment,
// if any (half-open semantics).
func (p Plan) ContainingSegment(sourceMs int64) (int, bool) {
	// First segment with EndMs > sourceMs; it contains the point iff its
	// start is at or before it.
	i := sort.Search(len(p.Segments), func(i int) bool {
		return p.Segments[i].EndMs > sourceMs
	})
	if i < len(p.Segments) && p.Segments[i].StartMs <= sourceMs {
		return i, true
	}
	return 0, false
}

// SpeedAt returns the playback speed in effect at sourceMs.
func (p Plan) SpeedAt(sourceMs int64) float64 {
	if i, ok := p.ContainingSegment(sourceMs); ok {
		return p.Segments[i].Speed
	}
	return p.BaseSpeed
}

// SourceToWall converts a source position to the wall-clock seconds the
// preview takes to reach it from source zero at the plan's speeds.
func (p Plan) SourceToWall(sourceMs int64) float64 {
	if sourceMs <= 0 {
		return 0
	}
	wall := 0.0
	var cursor int64
	for _, seg := range p.Segments {
		if sourceMs <= seg.StartMs {
			break
		}
		if seg.StartMs > cursor {
			wall += float64(seg.StartMs-cursor) / (1000 * p.BaseSpeed)
		}
		end := min64(sourceMs, seg.EndMs)
		wall += float64(end-seg.StartMs) / (1000 * seg.Speed)
		cursor = seg.EndMs
		if sourceMs <= cursor {
			return wall
		}
	}
	if sourceMs > cursor {
		wall += float64(sourceMs-cursor) / (1000 * p.BaseSpeed)
	}
	return wall
}

// WallToSource is the inverse of SourceToWall. The result is rounded to the
// nearest integer millisecond.
func (p Plan) WallToSource(wallSec float64) int64 {
	if wallSec <= 0 {
		return 0
	}
	remaining := wallSec
	var cursor int64
	for _, seg := range p.Segments {
		if seg.StartMs > cursor {
			gapWall := float64(seg.StartMs-cursor) / (1000 * p.BaseSpeed)
			if remaining < gapWall {
				return cursor + roundMs(remaining*1000*p.BaseSpeed)
			}
			remaining -= gapWall
		}
		segWall := float64(seg.durationMs()) / (1000 * seg.Speed)
		if remaining < segWall {
			return seg.StartMs + roundMs(remaining*1000*seg.Speed)
		}
		remaining -= segWall
		cursor = seg.EndMs
	}
	return cursor + roundMs(remaining*1000*p.BaseSpeed)
}

// SourceToProject converts a source position to project seconds relative to
// the trim start. Positions before the trim start clamp to zero.
func (p Plan) SourceToProject(sourceMs, trimStartMs int64) float64 {
	sec := p.SourceToWall(sourceMs) - p.SourceToWall(trimStartMs)
	if sec < 0 {
		return 0
	}
	return sec
}

// ProjectToSource converts project seconds (relative to the trim start) back
// to a source position.
func (p Plan) ProjectToSource(projectSec float64, trimStartMs int64) int64 {
	if projectSec < 0 {
		projectSec = 0
	}
	return p.WallToSource(p.SourceToWall(trimStartMs) + projectSec)
}

// MergeCompatible coalesces adjacent segments whose gap is at most 5 ms and
// whose speeds differ by less than 0.01. The receiver is left untouched.
func (p Plan) MergeCompatible() Plan {
	if len(p.Segments) == 0 {
		return p
	}
	segs := make([]Segment, len(p.Segments))
	copy(segs, p.Segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartMs < segs[j].StartMs })

	merged := make([]Segment, 0, len(segs))
	merged = append(merged, segs[0])
	for _, next := range segs[1:] {
		cur := &merged[len(merged)-1]
		if next.StartMs <= cur.EndMs+adjacencyGapMs && math.Abs(cur.Speed-next.Speed) < speedEpsilon {
			cur.EndMs = max64(cur.EndMs, next.EndMs)
		} else {
			merged = append(merged, next)
		}
	}
	return Plan{BaseSpeed: p.BaseSpeed, Segments: merged}
}

// InsertWithOverride inserts seg into the plan, splitting any overlapping
// segments into the non-overlapping pieces on either side, then merges
// compatible neighbors. The receiver is left untouched.
func (p Plan) InsertWithOverride(seg Segment) Plan {
	out := make([]Segment, 0, len(p.Segments)+2)
	for _, old := range p.Segments {
		if old.EndMs <= seg.StartMs || old.StartMs >= seg.EndMs {
			out = append(out, old)
			continue
		}
		if left := (Segment{StartMs: old.StartMs, EndMs: seg.StartMs, Speed: old.Speed}); left.durationMs() > 0 {
			out = append(out, left)
		}
		if right := (Segment{StartMs: seg.EndMs, EndMs: old.EndMs, Speed: old.Speed}); right.durationMs() > 0 {
			out = append(out, right)
		}
	}
	out = append(out, seg)
	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return Plan{BaseSpeed: p.BaseSpeed, Segments: out}.MergeCompatible()
}

func roundMs(ms float64) int64 { return int64(math.Round(ms)) }

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
