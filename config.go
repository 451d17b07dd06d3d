package prerollvalve

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/window"
)

// DefaultMaxHistory is the default rolling window horizon.
const DefaultMaxHistory = 5000 * time.Millisecond

// Config contains the valve settings
type Config struct {
	// Open is the initial state (false = buffering)
	Open bool
	// MaxHistory is the window horizon. Zero keeps only the latest keyframe
	// onward; negative is rejected.
	MaxHistory time.Duration
	// Debug logs every processed unit
	Debug bool
	// MaxUnits caps the number of retained units (0 = unbounded)
	MaxUnits int
	// FlushMode selects where the burst on open starts
	FlushMode FlushMode
	// CadenceWindow is how many keyframe intervals feed the cadence
	// statistics (0 = default)
	CadenceWindow int
	// Logger receives valve logs (slog.Default() if nil)
	Logger *slog.Logger
	// Events receives lifecycle events; sends never block (optional)
	Events chan<- Event
}

// DefaultConfig returns the default settings: closed, 5s history, no cap.
func DefaultConfig() Config {
	return Config{
		MaxHistory: DefaultMaxHistory,
		FlushMode:  FlushLatestKeyframe,
	}
}

// Validate checks the configuration (fail-fast)
func (c Config) Validate() error {
	if c.MaxHistory < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidMaxHistory, c.MaxHistory)
	}
	if c.MaxUnits < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxUnits, c.MaxUnits)
	}
	if c.FlushMode != FlushLatestKeyframe && c.FlushMode != FlushEarliestKeyframe {
		return fmt.Errorf("%w: %d", ErrInvalidFlushMode, int(c.FlushMode))
	}
	return nil
}

// ParseFlushMode parses "latest-keyframe" or "earliest-keyframe".
func ParseFlushMode(s string) (FlushMode, error) {
	m, err := window.ParseFlushMode(s)
	if err != nil {
		return m, fmt.Errorf("%w: %q", ErrInvalidFlushMode, s)
	}
	return m, nil
}
