// Package prerollvalve provides a time-windowed, keyframe-aware buffering
// valve for encoded media streams.
//
// While closed, the valve keeps a rolling window of the most recent units
// (bounded by MaxHistory) and discards older ones, but never the latest
// keyframe or anything after it. When opened, it flushes the window starting
// at that keyframe, so downstream receives decodable preroll, and then passes
// every live unit through unchanged. Closing it again discards the window and
// re-arms buffering.
//
// # Quick Start
//
//	cfg := prerollvalve.DefaultConfig()
//	cfg.MaxHistory = 3 * time.Second
//
//	valve, err := prerollvalve.NewValve(cfg, sink)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// delivery goroutine
//	for u := range units {
//	    if _, err := valve.Push(u); err != nil {
//	        slog.Warn("push failed", "error", err)
//	    }
//	}
//
//	// control goroutine (motion detected, MQTT command, schedule...)
//	burst, err := valve.SetOpen(true)
//
// # Ordering guarantees
//
//   - Units are emitted in timestamp order.
//   - The burst produced by SetOpen(true) reaches the sink before any live
//     unit pushed afterwards.
//   - Setting the current state again does nothing.
//   - An out-of-order unit is dropped with ErrOutOfOrder, the window is left
//     untouched.
//
// If no keyframe has been buffered when the valve opens, everything retained
// is flushed: downstream may receive non-decodable leading units, but the
// pipeline never stalls waiting for a keyframe.
//
// # Hosting
//
// This package has no media dependencies. internal/gsthost wires a valve
// between a GStreamer ingest pipeline (ending in an appsink) and an egress
// pipeline (starting with an appsrc). The
// cmd/prerollvalve binary adds YAML configuration, MQTT remote control and
// scheduled toggles; cmd/valve-sim drives the valve with a synthetic stream.
package prerollvalve
