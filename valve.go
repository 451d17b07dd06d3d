package prerollvalve

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/cadence"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/window"
)

// minCadenceIntervals is how many keyframe intervals are needed before the
// valve compares max-history against the GOP duration.
const minCadenceIntervals = 3

// Valve buffers units while closed and passes them through while open.
//
// One mutex guards settings, state and the window, so a state change and
// its flush are atomic with respect to Push: no unit is buffered after the
// flush and none overtakes it.
type Valve struct {
	mu sync.Mutex

	state      State
	maxHistory time.Duration
	maxUnits   int
	debug      bool
	flushMode  FlushMode

	store   *window.Store[Unit]
	cadence *cadence.Tracker
	sink    Sink
	logger  *slog.Logger
	events  chan<- Event

	// cadenceWarned is cleared whenever max-history changes
	cadenceWarned bool

	stats Stats
}

// NewValve creates a valve with fail-fast validation.
//
// sink may be nil: emitted units are then only returned from Push/SetOpen.
func NewValve(cfg Config, sink Sink) (*Valve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := StateClosed
	if cfg.Open {
		state = StateOpen
	}

	v := &Valve{
		state:      state,
		maxHistory: cfg.MaxHistory,
		maxUnits:   cfg.MaxUnits,
		debug:      cfg.Debug,
		flushMode:  cfg.FlushMode,
		store:      window.New[Unit](cfg.MaxHistory, cfg.MaxUnits),
		cadence:    cadence.NewTracker(cfg.CadenceWindow),
		sink:       sink,
		logger:     logger,
		events:     cfg.Events,
	}

	logger.Info("prerollvalve: valve created",
		"state", state.String(),
		"max_history", cfg.MaxHistory,
		"max_units", cfg.MaxUnits,
		"flush_mode", cfg.FlushMode.String(),
		"debug", cfg.Debug,
	)

	return v, nil
}

// Push processes one unit.
//
// Closed: the unit is buffered and nothing is emitted. Open: the unit is
// emitted unchanged. Returns the units emitted by this call.
func (v *Valve) Push(u Unit) ([]Unit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stats.UnitsIn++

	if v.state == StateOpen {
		if u.Keyframe {
			v.observeKeyframe(u.Timestamp)
		}
		v.trace(u, ActionPassedThrough)
		if err := v.emit(u); err != nil {
			return nil, fmt.Errorf("prerollvalve: pass-through emit failed: %w", err)
		}
		v.stats.UnitsPassed++
		return []Unit{u}, nil
	}

	last, _ := v.store.Last()
	evicted, err := v.store.Insert(u, u.Timestamp, u.Keyframe)
	if err != nil {
		v.stats.UnitsDropped++
		v.trace(u, ActionDropped)
		v.logger.Warn("prerollvalve: dropping out-of-order unit",
			"timestamp", u.Timestamp,
			"last_timestamp", last,
			"seq", u.Seq,
			"trace_id", u.TraceID,
		)
		v.notify(EventOutOfOrder, 1, u.Timestamp)
		return nil, fmt.Errorf("%w: %v before %v", ErrOutOfOrder, u.Timestamp, last)
	}

	if u.Keyframe {
		v.observeKeyframe(u.Timestamp)
	}
	v.stats.UnitsBuffered++
	v.stats.UnitsEvicted += uint64(evicted)
	v.trace(u, ActionBuffered)
	return nil, nil
}

// SetOpen switches the valve state.
//
// Closed→Open flushes the window to the sink before returning, and returns the
// burst. Open→Closed discards the window and resumes buffering. Setting the
// current state again is a no-op.
//
// If the sink fails mid-flush the rest of the burst is discarded, the valve
// stays open and the error is returned with the units emitted so far.
func (v *Valve) SetOpen(open bool) ([]Unit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if open == (v.state == StateOpen) {
		return nil, nil
	}

	if !open {
		v.state = StateClosed
		cleared := v.store.Clear()
		v.stats.UnitsDiscarded += uint64(cleared)
		v.logger.Info("prerollvalve: valve closed, buffering",
			"max_history", v.maxHistory,
		)
		v.notify(EventClosed, cleared, 0)
		return nil, nil
	}

	v.state = StateOpen
	_, hadAnchor := v.store.Anchor()
	span := v.store.Span()
	burst, skipped := v.store.FlushFrom(v.flushMode)
	v.stats.Flushes++
	v.stats.UnitsDiscarded += uint64(skipped)

	if !hadAnchor && len(burst) > 0 {
		v.logger.Warn("prerollvalve: no keyframe buffered, flushing everything",
			"units", len(burst),
		)
	}
	v.logger.Info("prerollvalve: valve opened, flushing",
		"units", len(burst),
		"skipped", skipped,
		"span", span,
		"flush_mode", v.flushMode.String(),
	)
	v.notify(EventOpened, len(burst), 0)

	for i, u := range burst {
		v.trace(u, ActionFlushed)
		if err := v.emit(u); err != nil {
			v.stats.UnitsFlushed += uint64(i)
			v.stats.UnitsDiscarded += uint64(len(burst) - i)
			v.logger.Error("prerollvalve: flush aborted",
				"error", err,
				"emitted", i,
				"discarded", len(burst)-i,
			)
			return burst[:i], fmt.Errorf("prerollvalve: flush aborted after %d of %d units: %w", i, len(burst), err)
		}
	}
	v.stats.UnitsFlushed += uint64(len(burst))

	var firstTS time.Duration
	if len(burst) > 0 {
		firstTS = burst[0].Timestamp
	}
	v.notify(EventFlushed, len(burst), firstTS)
	return burst, nil
}

// Resync discards the window and forgets the last timestamp, for use when the
// stream clock restarts (reconnect, new segment). The state is unchanged.
func (v *Valve) Resync() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	cleared := v.store.Clear()
	v.stats.UnitsDiscarded += uint64(cleared)
	v.cadence.Rebase()
	v.logger.Info("prerollvalve: stream clock resync", "cleared", cleared)
	v.notify(EventResync, cleared, 0)
	return cleared
}

// SetMaxHistory changes the window horizon. Negative values are rejected and
// the previous value is kept. While closed, eviction runs immediately.
func (v *Valve) SetMaxHistory(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidMaxHistory, d)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	old := v.maxHistory
	v.maxHistory = d
	v.cadenceWarned = false
	evicted := v.store.SetMaxHistory(d)
	v.stats.UnitsEvicted += uint64(evicted)

	v.logger.Info("prerollvalve: max-history changed",
		"old", old,
		"new", d,
		"evicted", evicted,
	)
	return nil
}

// SetMaxUnits changes the count cap (0 disables it).
func (v *Valve) SetMaxUnits(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxUnits, n)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.maxUnits = n
	v.stats.UnitsEvicted += uint64(v.store.SetMaxUnits(n))
	return nil
}

// SetFlushMode changes where future flushes start.
func (v *Valve) SetFlushMode(m FlushMode) error {
	if m != FlushLatestKeyframe && m != FlushEarliestKeyframe {
		return fmt.Errorf("%w: %d", ErrInvalidFlushMode, int(m))
	}

	v.mu.Lock()
	v.flushMode = m
	v.mu.Unlock()
	return nil
}

// SetDebug toggles per-unit logging.
func (v *Valve) SetDebug(debug bool) {
	v.mu.Lock()
	v.debug = debug
	v.mu.Unlock()
}

// Open reports whether the valve is passing units through
func (v *Valve) Open() bool {
	return v.State() == StateOpen
}

// State returns the current mode
func (v *Valve) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// MaxHistory returns the current horizon
func (v *Valve) MaxHistory() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxHistory
}

// MaxUnits returns the current count cap
func (v *Valve) MaxUnits() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxUnits
}

// FlushMode returns the current flush mode
func (v *Valve) FlushMode() FlushMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushMode
}

// Debug reports whether per-unit logging is on
func (v *Valve) Debug() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debug
}

// Stats returns a snapshot of the valve counters
func (v *Valve) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.stats
	st.State = v.state
	st.Buffered = v.store.Len()
	st.BufferedSpan = v.store.Span()
	st.Cadence = v.cadence.Stats()
	return st
}

func (v *Valve) emit(u Unit) error {
	if v.sink == nil {
		return nil
	}
	if err := v.sink.Emit(u); err != nil {
		v.stats.SinkErrors++
		return err
	}
	return nil
}

// observeKeyframe feeds the cadence tracker and warns once per max-history
// setting when the GOP is longer than the horizon.
func (v *Valve) observeKeyframe(ts time.Duration) {
	v.cadence.Observe(ts)
	if v.cadenceWarned {
		return
	}

	st := v.cadence.Stats()
	if st.Intervals < minCadenceIntervals || st.IntervalMean <= v.maxHistory {
		return
	}
	v.cadenceWarned = true
	v.logger.Warn("prerollvalve: max-history shorter than keyframe interval",
		"max_history", v.maxHistory,
		"keyframe_interval_mean", st.IntervalMean,
		"keyframe_interval_max", st.IntervalMax,
		"stable", st.IsStable,
	)
}

func (v *Valve) trace(u Unit, action Action) {
	if !v.debug {
		return
	}
	v.logger.Info("prerollvalve: unit",
		"state", v.state.String(),
		"timestamp", u.Timestamp,
		"keyframe", u.Keyframe,
		"action", string(action),
		"seq", u.Seq,
		"bytes", len(u.Payload),
	)
}

func (v *Valve) notify(t EventType, units int, ts time.Duration) {
	if v.events == nil {
		return
	}
	ev := Event{Type: t, State: v.state, Units: units, Timestamp: ts, At: time.Now()}
	select {
	case v.events <- ev:
	default:
		v.logger.Debug("prerollvalve: event channel full, dropping event", "type", string(t))
	}
}
