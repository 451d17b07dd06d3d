// Package schedule drives valve open/close toggles at fixed offsets, either
// against the wall clock (Run) or against stream time (Cursor).
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Toggle opens or closes the valve at an offset from start
type Toggle struct {
	Open bool
	At   time.Duration
}

func (t Toggle) String() string {
	action := "close"
	if t.Open {
		action = "open"
	}
	return fmt.Sprintf("%s@%v", action, t.At)
}

// ParseAction maps "open"/"close" to a bool
func ParseAction(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return true, nil
	case "close":
		return false, nil
	default:
		return false, fmt.Errorf("schedule: unknown action %q (must be open or close)", s)
	}
}

// New builds a sorted schedule from action/offset pairs
func New(toggles ...Toggle) ([]Toggle, error) {
	out := make([]Toggle, len(toggles))
	copy(out, toggles)
	for _, t := range out {
		if t.At < 0 {
			return nil, fmt.Errorf("schedule: negative offset in %s", t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out, nil
}

// Parse reads "open@20s,close@40s". An empty string yields no toggles.
func Parse(s string) ([]Toggle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var toggles []Toggle
	for _, item := range strings.Split(s, ",") {
		action, at, ok := strings.Cut(strings.TrimSpace(item), "@")
		if !ok {
			return nil, fmt.Errorf("schedule: %q is not action@offset", item)
		}
		open, err := ParseAction(action)
		if err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(strings.TrimSpace(at))
		if err != nil {
			return nil, fmt.Errorf("schedule: bad offset in %q: %w", item, err)
		}
		toggles = append(toggles, Toggle{Open: open, At: d})
	}
	return New(toggles...)
}

// Cursor walks a sorted schedule as time advances
type Cursor struct {
	toggles []Toggle
	next    int
}

// NewCursor creates a cursor over a sorted schedule (see New/Parse)
func NewCursor(toggles []Toggle) *Cursor {
	return &Cursor{toggles: toggles}
}

// Advance returns the toggles whose offset is <= elapsed and not yet returned
func (c *Cursor) Advance(elapsed time.Duration) []Toggle {
	start := c.next
	for c.next < len(c.toggles) && c.toggles[c.next].At <= elapsed {
		c.next++
	}
	return c.toggles[start:c.next]
}

// Done reports whether every toggle has been returned
func (c *Cursor) Done() bool {
	return c.next >= len(c.toggles)
}

// NextAt returns the offset of the next pending toggle
func (c *Cursor) NextAt() (time.Duration, bool) {
	if c.Done() {
		return 0, false
	}
	return c.toggles[c.next].At, true
}

// Run applies toggles against the wall clock, measured from the call.
// Returns when every toggle has run or ctx is done. apply errors are logged,
// not fatal.
func Run(ctx context.Context, toggles []Toggle, apply func(open bool) error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	cursor := NewCursor(toggles)

	for {
		at, ok := cursor.NextAt()
		if !ok {
			return
		}

		timer := time.NewTimer(time.Until(start.Add(at)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		for _, t := range cursor.Advance(time.Since(start)) {
			logger.Info("schedule: toggling valve", "toggle", t.String())
			if err := apply(t.Open); err != nil {
				logger.Error("schedule: toggle failed", "toggle", t.String(), "error", err)
			}
		}
	}
}
