// Package granular is the segment-authoring model: a pending selection the
// user places with start/end markers, a speed for it, and the committed
// segment list. It owns the plan draft while the editor is open and hands a
// frozen plan to whoever previews or renders it.
package granular

import (
	"errors"
	"fmt"

	"github.com/marwale/clipspeed/internal/timemap"
)

// MinRangeMs is the smallest range a selection may commit with.
const MinRangeMs = 10

// ErrEmptyRange is returned when a commit is attempted on a selection
// shorter than MinRangeMs.
var ErrEmptyRange = errors.New("set the end marker after the start")

// Selection is the not-yet-committed segment being authored.
type Selection struct {
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Speed   float64 `json:"speed"`
}

func (s Selection) committable() bool {
	return s.EndMs > s.StartMs+MinRangeMs
}

// Editor mutates a speed-plan draft through marker commands. It is not safe
// for concurrent use; the host drives it from the engine goroutine.
type Editor struct {
	plan          timemap.Plan
	prevPlan      *timemap.Plan
	durationMs    int64
	pending       *Selection
	selectedIndex int
	pendingSpeed  float64
	publish       func(timemap.Plan)
}

// NewEditor opens an editor over the given plan and clip duration. publish,
// when non-nil, receives the draft plan after every mutation so the preview
// follows authoring; it may be nil.
func NewEditor(plan timemap.Plan, durationMs int64, publish func(timemap.Plan)) *Editor {
	return &Editor{
		plan:          plan,
		durationMs:    durationMs,
		selectedIndex: -1,
		pendingSpeed:  plan.BaseSpeed,
		publish:       publish,
	}
}

// Plan returns the committed plan, without the pending selection.
func (e *Editor) Plan() timemap.Plan {
	return e.plan
}

// Pending returns the current selection, if any.
func (e *Editor) Pending() (Selection, bool) {
	if e.pending == nil {
		return Selection{}, false
	}
	return *e.pending, true
}

// DraftPlan is the plan the preview should use while authoring: the
// committed plan with the pending selection overlaid as a transient segment.
func (e *Editor) DraftPlan() timemap.Plan {
	if e.pending == nil || !e.pending.committable() {
		return e.plan
	}
	return e.plan.InsertWithOverride(timemap.Segment{
		StartMs: e.pending.StartMs,
		EndMs:   e.pending.EndMs,
		Speed:   e.pending.Speed,
	})
}

func (e *Editor) publishDraft() {
	if e.publish != nil {
		e.publish(e.DraftPlan())
	}
}

func (e *Editor) clampMs(ms int64) int64 {
	// Out-of-bounds targets clamp silently.
	if ms < 0 {
		return 0
	}
	if ms > e.durationMs {
		return e.durationMs
	}
	return ms
}

// SetStart places the start marker. Inside an existing segment the marker
// snaps to that segment's end so selections never overlap committed ranges
// from a careless click. A prior non-empty selection is auto-committed first
// rather than discarded, which turns rapid marker sequences into a stream of
// committed segments without modal prompts.
func (e *Editor) SetStart(sourceMs int64) {
	sourceMs = e.clampMs(sourceMs)
	if i, ok := e.plan.ContainingSegment(sourceMs); ok {
		sourceMs = e.plan.Segments[i].EndMs
	}

	if e.pending != nil && e.pending.committable() {
		e.commitPendingLocked()
	}
	e.pending = &Selection{StartMs: sourceMs, EndMs: sourceMs, Speed: e.pendingSpeed}
	e.selectedIndex = -1
	e.publishDraft()
}

// SetEnd places the end marker. Inside an existing segment the marker snaps
// to that segment's start; the end is clamped to stay MinRangeMs after the
// start. A selection that became non-empty auto-commits immediately.
func (e *Editor) SetEnd(sourceMs int64) {
	if e.pending == nil {
		return
	}
	sourceMs = e.clampMs(sourceMs)
	if i, ok := e.plan.ContainingSegment(sourceMs); ok {
		sourceMs = e.plan.Segments[i].StartMs
	}
	if sourceMs < e.pending.StartMs+MinRangeMs {
		sourceMs = e.pending.StartMs + MinRangeMs
	}
	if sourceMs > e.durationMs {
		sourceMs = e.durationMs
	}
	e.pending.EndMs = sourceMs

	if e.pending.committable() {
		// The selection stays aimed at the range it just committed so the
		// speed control keeps editing it live.
		e.commitPendingLocked()
	}
	e.publishDraft()
}

// SetPendingSpeed updates the speed the next commit will use. When the
// selection exactly matches a committed segment the segment's speed updates
// in place, so dragging the speed control re-voices the segment live.
func (e *Editor) SetPendingSpeed(speed float64) error {
	if speed < timemap.MinSpeed || speed > timemap.MaxSpeed {
		return fmt.Errorf("%w: speed %.2f outside [%.1f, %.1f]", timemap.ErrInvalidPlan, speed, timemap.MinSpeed, timemap.MaxSpeed)
	}
	e.pendingSpeed = speed
	if e.pending == nil {
		return nil
	}
	e.pending.Speed = speed
	for i, seg := range e.plan.Segments {
		if seg.StartMs == e.pending.StartMs && seg.EndMs == e.pending.EndMs {
			e.plan.Segments = append([]timemap.Segment(nil), e.plan.Segments...)
			e.plan.Segments[i].Speed = speed
			break
		}
	}
	e.publishDraft()
	return nil
}

// CommitPending promotes the selection into the committed list, overriding
// any overlapped ranges and merging adjacent compatible neighbors.
func (e *Editor) CommitPending() error {
	if e.pending == nil || !e.pending.committable() {
		return ErrEmptyRange
	}
	e.commitPendingLocked()
	e.pending = nil
	e.selectedIndex = -1
	e.publishDraft()
	return nil
}

func (e *Editor) commitPendingLocked() {
	before := e.plan
	e.prevPlan = &before
	e.plan = e.plan.InsertWithOverride(timemap.Segment{
		StartMs: e.pending.StartMs,
		EndMs:   e.pending.EndMs,
		Speed:   e.pending.Speed,
	}).MergeCompatible()
}

// Undo reverts the most recent commit, one level deep. It reports whether
// there was a commit to revert.
func (e *Editor) Undo() bool {
	if e.prevPlan == nil {
		return false
	}
	e.plan = *e.prevPlan
	e.prevPlan = nil
	e.pending = nil
	e.selectedIndex = -1
	e.publishDraft()
	return true
}

// DeleteSegment removes committed segment i.
func (e *Editor) DeleteSegment(i int) error {
	if i < 0 || i >= len(e.plan.Segments) {
		return fmt.Errorf("no segment %d", i)
	}
	segs := append([]timemap.Segment(nil), e.plan.Segments[:i]...)
	e.plan.Segments = append(segs, e.plan.Segments[i+1:]...)
	if e.selectedIndex == i {
		e.selectedIndex = -1
		e.pending = nil
	}
	e.publishDraft()
	return nil
}

// Clear drops every committed segment and the pending selection.
func (e *Editor) Clear() {
	e.plan.Segments = nil
	e.pending = nil
	e.selectedIndex = -1
	e.publishDraft()
}

// EditSegment loads committed segment i into the selection for re-editing.
// An uncommitted selection over a different range is auto-committed first.
func (e *Editor) EditSegment(i int) error {
	if i < 0 || i >= len(e.plan.Segments) {
		return fmt.Errorf("no segment %d", i)
	}
	if e.pending != nil && e.pending.committable() {
		seg := e.plan.Segments[i]
		if e.pending.StartMs != seg.StartMs || e.pending.EndMs != seg.EndMs {
			e.commitPendingLocked()
			// Committing can renumber; find the segment again by range.
			for j, s := range e.plan.Segments {
				if s.StartMs == seg.StartMs && s.EndMs == seg.EndMs {
					i = j
					break
				}
			}
		}
	}
	seg := e.plan.Segments[i]
	e.pending = &Selection{StartMs: seg.StartMs, EndMs: seg.EndMs, Speed: seg.Speed}
	e.pendingSpeed = seg.Speed
	e.selectedIndex = i
	e.publishDraft()
	return nil
}

// SelectedIndex reports which committed segment the selection came from, or
// -1 when the selection is freshly placed.
func (e *Editor) SelectedIndex() int {
	return e.selectedIndex
}

// Discard drops the pending selection without committing it. Closing the
// editor mid-selection always discards, never implicitly commits.
func (e *Editor) Discard() {
	e.pending = nil
	e.selectedIndex = -1
	e.publishDraft()
}

// Close discards any pending selection and returns the committed plan.
func (e *Editor) Close() timemap.Plan {
	e.pending = nil
	e.selectedIndex = -1
	return e.plan
}
