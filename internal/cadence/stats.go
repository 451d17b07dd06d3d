// Package cadence tracks the keyframe interval (GOP duration) of a stream.
//
// The valve uses it to warn when max-history is shorter than the typical
// keyframe interval: in that case a flush often starts at a stale anchor and
// carries more than max-history of media.
package cadence

import (
	"math"
	"time"
)

const (
	// stabilityThreshold is the maximum allowed interval standard deviation as
	// a fraction of the mean interval.
	// Example: 2s GOP mean → stable if stddev < 300ms
	stabilityThreshold = 0.15

	// DefaultWindow is the number of recent intervals kept by a Tracker.
	DefaultWindow = 32
)

// Stats summarizes keyframe intervals.
type Stats struct {
	Keyframes    uint64        // keyframes observed since creation/reset
	Intervals    int           // intervals the statistics were computed over
	IntervalMean time.Duration // mean keyframe interval
	IntervalStd  time.Duration // standard deviation of the interval
	IntervalMin  time.Duration
	IntervalMax  time.Duration
	IsStable     bool // stddev < 15% of mean
}

// CalculateIntervalStats computes interval statistics from keyframe timestamps.
//
// This function:
//  1. Derives the interval between consecutive keyframes
//  2. Finds min/max/mean interval
//  3. Calculates the standard deviation
//  4. Determines stability (stddev < 15% of mean)
//
// Non-positive intervals (duplicate timestamps) are ignored.
func CalculateIntervalStats(keyframeTimes []time.Duration) Stats {
	st := Stats{Keyframes: uint64(len(keyframeTimes))}
	if len(keyframeTimes) < 2 {
		return st
	}

	intervals := make([]float64, 0, len(keyframeTimes)-1)
	for i := 1; i < len(keyframeTimes); i++ {
		d := keyframeTimes[i] - keyframeTimes[i-1]
		if d > 0 {
			intervals = append(intervals, float64(d))
		}
	}
	return fromIntervals(st, intervals)
}

func fromIntervals(st Stats, intervals []float64) Stats {
	if len(intervals) == 0 {
		return st
	}

	lo, hi, sum := intervals[0], intervals[0], 0.0
	for _, v := range intervals {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean := sum / float64(len(intervals))

	var sumSquares float64
	for _, v := range intervals {
		diff := v - mean
		sumSquares += diff * diff
	}
	std := math.Sqrt(sumSquares / float64(len(intervals)))

	st.Intervals = len(intervals)
	st.IntervalMean = time.Duration(mean)
	st.IntervalStd = time.Duration(std)
	st.IntervalMin = time.Duration(lo)
	st.IntervalMax = time.Duration(hi)
	st.IsStable = std < mean*stabilityThreshold
	return st
}

// Tracker accumulates keyframe timestamps in a bounded ring of intervals.
// Not safe for concurrent use.
type Tracker struct {
	ring      []float64
	next      int
	full      bool
	last      time.Duration
	hasLast   bool
	keyframes uint64
}

// NewTracker creates a tracker keeping the last window intervals
// (DefaultWindow if window <= 0).
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{ring: make([]float64, window)}
}

// Observe records a keyframe at ts.
func (t *Tracker) Observe(ts time.Duration) {
	t.keyframes++
	if t.hasLast {
		if d := ts - t.last; d > 0 {
			t.ring[t.next] = float64(d)
			t.next = (t.next + 1) % len(t.ring)
			if t.next == 0 {
				t.full = true
			}
		}
	}
	t.last = ts
	t.hasLast = true
}

// Stats returns statistics over the retained intervals.
func (t *Tracker) Stats() Stats {
	n := t.next
	if t.full {
		n = len(t.ring)
	}
	intervals := make([]float64, n)
	copy(intervals, t.ring[:n])
	return fromIntervals(Stats{Keyframes: t.keyframes}, intervals)
}

// Reset forgets all observations.
func (t *Tracker) Reset() {
	t.next = 0
	t.full = false
	t.hasLast = false
	t.last = 0
	t.keyframes = 0
}

// Rebase forgets the last keyframe timestamp but keeps the intervals, so a
// discontinuity (valve re-closed, stream restarted) does not produce a bogus
// interval.
func (t *Tracker) Rebase() {
	t.hasLast = false
	t.last = 0
}
