package control

import (
	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
)

// ValveCallbacks binds control commands to a valve. extra, if not nil, is
// merged into get_status responses.
func ValveCallbacks(v *prerollvalve.Valve, extra func() map[string]interface{}) CommandCallbacks {
	return CommandCallbacks{
		OnOpen: func() (int, error) {
			flushed, err := v.SetOpen(true)
			return len(flushed), err
		},
		OnClose: func() error {
			_, err := v.SetOpen(false)
			return err
		},
		OnSetMaxHistory: v.SetMaxHistory,
		OnSetDebug: func(debug bool) error {
			v.SetDebug(debug)
			return nil
		},
		OnSetMaxUnits: v.SetMaxUnits,
		OnSetFlushMode: func(s string) error {
			mode, err := prerollvalve.ParseFlushMode(s)
			if err != nil {
				return err
			}
			return v.SetFlushMode(mode)
		},
		OnGetStatus: func() map[string]interface{} {
			status := StatusData(v)
			if extra != nil {
				for k, val := range extra() {
					status[k] = val
				}
			}
			return status
		},
	}
}

// StatusData renders valve settings and counters for a status response
func StatusData(v *prerollvalve.Valve) map[string]interface{} {
	s := v.Stats()
	return map[string]interface{}{
		"state":                s.State.String(),
		"max_history_ms":       v.MaxHistory().Milliseconds(),
		"max_units":            v.MaxUnits(),
		"flush_mode":           v.FlushMode().String(),
		"debug":                v.Debug(),
		"units_in":             s.UnitsIn,
		"units_buffered":       s.UnitsBuffered,
		"units_passed":         s.UnitsPassed,
		"units_flushed":        s.UnitsFlushed,
		"units_evicted":        s.UnitsEvicted,
		"units_dropped":        s.UnitsDropped,
		"units_discarded":      s.UnitsDiscarded,
		"flushes":              s.Flushes,
		"sink_errors":          s.SinkErrors,
		"buffered":             s.Buffered,
		"buffered_span_ms":     s.BufferedSpan.Milliseconds(),
		"keyframe_interval_ms": s.Cadence.IntervalMean.Milliseconds(),
		"cadence_stable":       s.Cadence.IsStable,
	}
}
