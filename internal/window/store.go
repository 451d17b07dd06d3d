// Package window implements the rolling, keyframe-anchored time window that
// backs the preroll valve while it is closed.
//
// The store is an ordered deque of items (oldest first) bounded by a maximum
// age relative to the newest item. The position of the latest keyframe is
// tracked as the anchor: age-based eviction never removes the anchor or
// anything after it, so a flush always has a decodable starting point once a
// keyframe has been seen.
//
// Store is not safe for concurrent use. The valve serializes access.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/oleiade/lane"
)

// ErrOutOfOrder is returned by Insert when the timestamp is older than the
// last inserted one. The store is left untouched.
var ErrOutOfOrder = errors.New("window: timestamp older than last inserted unit")

// FlushMode selects where a flush starts.
type FlushMode int

const (
	// FlushLatestKeyframe starts at the anchor (latest keyframe).
	FlushLatestKeyframe FlushMode = iota
	// FlushEarliestKeyframe starts at the first keyframe still retained,
	// maximizing the amount of preroll handed downstream.
	FlushEarliestKeyframe
)

// String returns the configuration spelling of the mode
func (m FlushMode) String() string {
	switch m {
	case FlushLatestKeyframe:
		return "latest-keyframe"
	case FlushEarliestKeyframe:
		return "earliest-keyframe"
	default:
		return "unknown"
	}
}

// ParseFlushMode parses the configuration spelling of a flush mode.
func ParseFlushMode(s string) (FlushMode, error) {
	switch s {
	case "", "latest-keyframe", "latest":
		return FlushLatestKeyframe, nil
	case "earliest-keyframe", "earliest":
		return FlushEarliestKeyframe, nil
	default:
		return FlushLatestKeyframe, fmt.Errorf("window: unknown flush mode %q", s)
	}
}

type entry[T any] struct {
	item     T
	ts       time.Duration
	keyframe bool
	seq      uint64
}

// Store is a time-bounded deque of items with a keyframe anchor.
type Store[T any] struct {
	units      *lane.Deque
	maxHistory time.Duration
	maxUnits   int

	// seq is assigned on insert and never reused, so the anchor survives
	// head eviction without index bookkeeping.
	nextSeq   uint64
	anchorSeq uint64
	anchorTS  time.Duration
	hasAnchor bool

	last    time.Duration
	hasLast bool
}

// New creates an empty store. maxUnits <= 0 disables the count cap.
func New[T any](maxHistory time.Duration, maxUnits int) *Store[T] {
	return &Store[T]{
		units:      lane.NewDeque(),
		maxHistory: maxHistory,
		maxUnits:   maxUnits,
	}
}

// Insert appends item at the tail and runs eviction.
//
// Returns the number of units evicted by this call (age plus count cap), or
// ErrOutOfOrder if ts is older than the last inserted timestamp.
func (s *Store[T]) Insert(item T, ts time.Duration, keyframe bool) (int, error) {
	if s.hasLast && ts < s.last {
		return 0, fmt.Errorf("%w: got %v, last %v", ErrOutOfOrder, ts, s.last)
	}

	e := &entry[T]{item: item, ts: ts, keyframe: keyframe, seq: s.nextSeq}
	s.nextSeq++
	s.units.Append(e)

	s.last = ts
	s.hasLast = true
	if keyframe {
		s.anchorSeq = e.seq
		s.anchorTS = ts
		s.hasAnchor = true
	}

	evicted := s.evictExpired()
	evicted += s.enforceCap()
	return evicted, nil
}

// evictExpired pops head entries older than the horizon, stopping at the
// anchor.
func (s *Store[T]) evictExpired() int {
	if !s.hasLast {
		return 0
	}
	horizon := s.last - s.maxHistory

	evicted := 0
	for !s.units.Empty() {
		head := s.units.First().(*entry[T])
		if head.ts >= horizon || s.anchored(head) {
			break
		}
		s.units.Shift()
		evicted++
	}
	return evicted
}

// enforceCap drops the oldest non-anchor entries until the count cap holds.
// When the anchor sits at the head, the entry right behind it goes instead.
func (s *Store[T]) enforceCap() int {
	if s.maxUnits <= 0 {
		return 0
	}

	evicted := 0
	for s.units.Size() > s.maxUnits {
		head := s.units.First().(*entry[T])
		if !s.anchored(head) {
			s.units.Shift()
			evicted++
			continue
		}
		anchor := s.units.Shift()
		s.units.Shift()
		s.units.Prepend(anchor)
		evicted++
	}
	return evicted
}

func (s *Store[T]) anchored(e *entry[T]) bool {
	return s.hasAnchor && e.seq >= s.anchorSeq
}

// Flush returns every retained item from the latest keyframe to the tail and
// empties the store. Without any keyframe it returns everything retained.
func (s *Store[T]) Flush() []T {
	items, _ := s.FlushFrom(FlushLatestKeyframe)
	return items
}

// FlushFrom drains the store starting at the position selected by mode.
// skipped counts the retained units that preceded the starting keyframe.
func (s *Store[T]) FlushFrom(mode FlushMode) (items []T, skipped int) {
	items = make([]T, 0, s.units.Size())
	started := !s.hasAnchor

	for !s.units.Empty() {
		e := s.units.Shift().(*entry[T])
		if !started {
			if mode == FlushEarliestKeyframe {
				started = e.keyframe
			} else {
				started = e.seq >= s.anchorSeq
			}
		}
		if !started {
			skipped++
			continue
		}
		items = append(items, e.item)
	}

	s.reset()
	return items, skipped
}

// Clear empties the store and resets the anchor and ordering marker.
// Returns the number of units discarded.
func (s *Store[T]) Clear() int {
	n := s.units.Size()
	s.units = lane.NewDeque()
	s.reset()
	return n
}

func (s *Store[T]) reset() {
	s.hasAnchor = false
	s.anchorSeq = 0
	s.anchorTS = 0
	s.hasLast = false
	s.last = 0
}

// SetMaxHistory changes the horizon and immediately re-applies age eviction.
// Returns the number of units evicted.
func (s *Store[T]) SetMaxHistory(d time.Duration) int {
	s.maxHistory = d
	return s.evictExpired()
}

// MaxHistory returns the configured horizon.
func (s *Store[T]) MaxHistory() time.Duration {
	return s.maxHistory
}

// SetMaxUnits changes the count cap (<= 0 disables it) and applies it.
func (s *Store[T]) SetMaxUnits(n int) int {
	s.maxUnits = n
	return s.enforceCap()
}

// IsEmpty reports whether the store holds no units.
func (s *Store[T]) IsEmpty() bool {
	return s.units.Empty()
}

// Len returns the number of retained units.
func (s *Store[T]) Len() int {
	return s.units.Size()
}

// Anchor returns the timestamp of the latest keyframe, if one is retained.
func (s *Store[T]) Anchor() (time.Duration, bool) {
	return s.anchorTS, s.hasAnchor
}

// Last returns the timestamp of the newest inserted unit.
func (s *Store[T]) Last() (time.Duration, bool) {
	return s.last, s.hasLast
}

// Span returns the time covered by the retained units (newest minus oldest).
func (s *Store[T]) Span() time.Duration {
	if s.units.Empty() {
		return 0
	}
	head := s.units.First().(*entry[T])
	tail := s.units.Last().(*entry[T])
	return tail.ts - head.ts
}

// Each calls fn for every retained unit, oldest first, without removing them.
// Intended for inspection; it is O(n).
func (s *Store[T]) Each(fn func(item T, ts time.Duration, keyframe bool)) {
	n := s.units.Size()
	for i := 0; i < n; i++ {
		e := s.units.Shift().(*entry[T])
		fn(e.item, e.ts, e.keyframe)
		s.units.Append(e)
	}
}
