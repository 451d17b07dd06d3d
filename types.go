package prerollvalve

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/cadence"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/window"
)

// Unit is a single encoded media unit flowing through the valve
type Unit struct {
	// Payload is opaque to the valve and never copied
	Payload []byte
	// Timestamp is the position on the stream clock (non-decreasing)
	Timestamp time.Duration
	// Keyframe marks an independently decodable unit
	Keyframe bool
	// Seq is the host's monotonic sequence number
	Seq uint64
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// State is the valve's operating mode
type State int

const (
	// StateClosed buffers units into the rolling window
	StateClosed State = iota
	// StateOpen passes units straight through
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Action describes what the valve did with a unit
type Action string

const (
	ActionBuffered      Action = "buffered"
	ActionFlushed       Action = "flushed"
	ActionPassedThrough Action = "passed_through"
	ActionDropped       Action = "dropped"
)

// FlushMode selects where the burst emitted on open starts.
type FlushMode = window.FlushMode

const (
	// FlushLatestKeyframe starts at the most recent keyframe (default)
	FlushLatestKeyframe = window.FlushLatestKeyframe
	// FlushEarliestKeyframe starts at the oldest keyframe still retained
	FlushEarliestKeyframe = window.FlushEarliestKeyframe
)

// CadenceStats summarizes the observed keyframe interval.
type CadenceStats = cadence.Stats

// Stats is a point-in-time snapshot of valve counters
type Stats struct {
	// State is the current mode
	State State
	// UnitsIn counts every Push call
	UnitsIn uint64
	// UnitsBuffered counts units inserted into the window
	UnitsBuffered uint64
	// UnitsPassed counts units passed through while open
	UnitsPassed uint64
	// UnitsFlushed counts units emitted by flushes
	UnitsFlushed uint64
	// UnitsEvicted counts units aged out or removed by the count cap
	UnitsEvicted uint64
	// UnitsDropped counts out-of-order units rejected by the window
	UnitsDropped uint64
	// UnitsDiscarded counts units cleared on close, skipped before the flush
	// keyframe, or abandoned by a failed flush
	UnitsDiscarded uint64
	// Flushes is the number of Closed→Open transitions
	Flushes uint64
	// SinkErrors counts failed Emit calls
	SinkErrors uint64
	// Buffered is the number of units currently retained
	Buffered int
	// BufferedSpan is the time covered by the retained units
	BufferedSpan time.Duration
	// Cadence describes the keyframe interval seen so far
	Cadence CadenceStats
}

// EventType identifies a valve lifecycle event
type EventType string

const (
	EventOpened     EventType = "opened"
	EventClosed     EventType = "closed"
	EventFlushed    EventType = "flushed"
	EventOutOfOrder EventType = "out_of_order"
	EventResync     EventType = "resync"
)

// Event is published on Config.Events without blocking the valve.
type Event struct {
	Type EventType
	// State after the event
	State State
	// Units is the number of units involved (flushed, cleared, dropped)
	Units int
	// Timestamp is the stream time of the unit involved, if any
	Timestamp time.Duration
	// At is the wall-clock time of the event
	At time.Time
}
