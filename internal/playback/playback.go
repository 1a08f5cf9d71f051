// Package playback maps a playback position to the subtitle segment that
// should be highlighted. Nothing here blocks or allocates per tick.
package playback

import (
	"fmt"
	"math"
	"sort"

	"github.com/MimeLyc/subsync/internal/subtitle"
)

// Cursor is the derived playback state sent to the view.
type Cursor struct {
	CurrentTime     float64 `json:"current_time"`
	ActiveSegmentID string  `json:"active_segment_id,omitempty"`
	ActiveIndex     int     `json:"active_index"`
}

// ActiveSegment returns the first segment, in ascending StartTime order, with
// StartTime <= t < EndTime, or nil. segments must already be sorted.
func ActiveSegment(t float64, segments []subtitle.Segment) *subtitle.Segment {
	if math.IsNaN(t) {
		return nil
	}
	for i := range segments {
		if segments[i].StartTime <= t && t < segments[i].EndTime {
			return &segments[i]
		}
	}
	return nil
}

// Timeline answers ActiveSegment queries in O(log n) for a fixed segment list.
// maxEnd[i] is the largest EndTime among segments[0..i], so the first segment
// still open at t is the first index whose maxEnd exceeds t.
type Timeline struct {
	segments []subtitle.Segment
	maxEnd   []float64
}

// NewTimeline validates segments and precomputes the lookup table. It fails on
// non-finite times, EndTime <= StartTime or segments out of StartTime order.
func NewTimeline(segments []subtitle.Segment) (*Timeline, error) {
	maxEnd := make([]float64, len(segments))
	for i, seg := range segments {
		if !finite(seg.StartTime) || !finite(seg.EndTime) {
			return nil, fmt.Errorf("segment %d (%s): non-finite time", i, seg.ID)
		}
		if seg.EndTime <= seg.StartTime {
			return nil, fmt.Errorf("segment %d (%s): end %.3f not after start %.3f", i, seg.ID, seg.EndTime, seg.StartTime)
		}
		if i > 0 && seg.StartTime < segments[i-1].StartTime {
			return nil, fmt.Errorf("segment %d (%s): start %.3f before previous start %.3f", i, seg.ID, seg.StartTime, segments[i-1].StartTime)
		}
		maxEnd[i] = seg.EndTime
		if i > 0 && maxEnd[i-1] > maxEnd[i] {
			maxEnd[i] = maxEnd[i-1]
		}
	}
	return &Timeline{segments: segments, maxEnd: maxEnd}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (tl *Timeline) Len() int {
	return len(tl.segments)
}

func (tl *Timeline) Segments() []subtitle.Segment {
	return tl.segments
}

// Index returns the position of the active segment at t, or -1.
func (tl *Timeline) Index(t float64) int {
	if math.IsNaN(t) {
		return -1
	}
	// segments[0:started] have StartTime <= t
	started := sort.Search(len(tl.segments), func(i int) bool {
		return tl.segments[i].StartTime > t
	})
	i := sort.Search(started, func(i int) bool {
		return tl.maxEnd[i] > t
	})
	if i >= started {
		return -1
	}
	return i
}

// At returns the active segment at t, or nil.
func (tl *Timeline) At(t float64) *subtitle.Segment {
	i := tl.Index(t)
	if i < 0 {
		return nil
	}
	return &tl.segments[i]
}

func (tl *Timeline) Cursor(t float64) Cursor {
	return tl.cursor(t, tl.Index(t))
}

func (tl *Timeline) cursor(t float64, i int) Cursor {
	c := Cursor{CurrentTime: t, ActiveIndex: i}
	if i >= 0 {
		c.ActiveSegmentID = tl.segments[i].ID
	}
	return c
}

// firstOpenAt reports whether i is the first segment open at t.
func (tl *Timeline) firstOpenAt(i int, t float64) bool {
	if i < 0 || i >= len(tl.segments) {
		return false
	}
	seg := tl.segments[i]
	if t < seg.StartTime || t >= seg.EndTime {
		return false
	}
	return i == 0 || tl.maxEnd[i-1] <= t
}

// Tracker follows a playing video. Ticks that stay in the same segment or move
// to the next one are answered without a search; seeks fall back to the
// Timeline. A Tracker is not safe for concurrent use.
type Tracker struct {
	timeline *Timeline
	last     int
}

func NewTracker(timeline *Timeline) *Tracker {
	return &Tracker{timeline: timeline, last: -1}
}

// Update moves the tracker to t and returns the resulting cursor.
func (tr *Tracker) Update(t float64) Cursor {
	i := tr.index(t)
	tr.last = i
	return tr.timeline.cursor(t, i)
}

// Changed reports whether moving to t would change the active segment.
func (tr *Tracker) Changed(t float64) bool {
	return tr.index(t) != tr.last
}

func (tr *Tracker) index(t float64) int {
	if math.IsNaN(t) {
		return -1
	}
	if tr.last >= 0 {
		if tr.timeline.firstOpenAt(tr.last, t) {
			return tr.last
		}
		if tr.timeline.firstOpenAt(tr.last+1, t) {
			return tr.last + 1
		}
	}
	return tr.timeline.Index(t)
}
