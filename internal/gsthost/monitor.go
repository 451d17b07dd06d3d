package gsthost

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCounters holds atomic counters per error category
type ErrorCounters struct {
	Network     atomic.Uint64
	Negotiation atomic.Uint64
	Auth        atomic.Uint64
	Resource    atomic.Uint64
	Unknown     atomic.Uint64
}

// Count increments the counter for category
func (c *ErrorCounters) Count(category ErrorCategory) {
	switch category {
	case ErrCategoryNetwork:
		c.Network.Add(1)
	case ErrCategoryNegotiation:
		c.Negotiation.Add(1)
	case ErrCategoryAuth:
		c.Auth.Add(1)
	case ErrCategoryResource:
		c.Resource.Add(1)
	default:
		c.Unknown.Add(1)
	}
}

// Total returns the sum of all counters
func (c *ErrorCounters) Total() uint64 {
	return c.Network.Load() + c.Negotiation.Load() + c.Auth.Load() +
		c.Resource.Load() + c.Unknown.Load()
}

// MonitorBus polls a pipeline bus until EOS, error or cancellation
//
// This function:
//  1. Polls the bus with a short timeout for responsive shutdown
//  2. Classifies and counts errors
//  3. Resets the reconnect state when the pipeline reaches PLAYING
//
// Returns ErrEndOfStream on EOS, a classified error on a bus error, and nil
// when ctx is cancelled. state may be nil (egress).
func MonitorBus(
	ctx context.Context,
	name string,
	pipeline *gst.Pipeline,
	counters *ErrorCounters,
	state *ReconnectState,
	logger *slog.Logger,
) error {
	if pipeline == nil {
		return fmt.Errorf("gsthost: %s pipeline not initialized", name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("gsthost: context cancelled, stopping bus monitor", "pipeline", name)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			logger.Info("gsthost: end of stream", "pipeline", name, "uptime", time.Since(started))
			return ErrEndOfStream

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Count(category)

			logger.Error("gsthost: pipeline error",
				"pipeline", name,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(started),
			)
			return fmt.Errorf("%s pipeline error [%s]: %s", name, category.String(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			oldState, newState := msg.ParseStateChanged()
			logger.Debug("gsthost: pipeline state changed",
				"pipeline", name,
				"from", oldState,
				"to", newState,
			)
			if newState == gst.StatePlaying && state != nil {
				state.Reset()
				logger.Info("gsthost: pipeline playing, reconnect state reset", "pipeline", name)
			}
		}
	}
}
