package gsthost

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Buffer is an encoded buffer pulled from the appsink
type Buffer struct {
	Data      []byte
	Timestamp time.Duration
	Keyframe  bool
	Seq       uint64
	TraceID   string
}

// CallbackContext holds state needed by the appsink callbacks
type CallbackContext struct {
	// Deliver runs on the streaming thread for every buffer
	Deliver func(Buffer)
	// OnCaps receives the caps of the first sample (optional)
	OnCaps func(*gst.Caps)
	// OnEOS runs when the ingest pipeline reaches end of stream (optional)
	OnEOS func()

	Counter   *atomic.Uint64 // sequence numbers
	BytesRead *atomic.Uint64

	// Logger (slog.Default() if nil)
	Logger *slog.Logger

	capsSent atomic.Bool
}

func (c *CallbackContext) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ResetCaps makes the next sample forward its caps again (new ingest pipeline).
func (c *CallbackContext) ResetCaps() {
	c.capsSent.Store(false)
}

// Callbacks returns the appsink callbacks bound to ctx
func Callbacks(ctx *CallbackContext) *app.SinkCallbacks {
	return &app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, ctx)
		},
		EOSFunc: func(sink *app.Sink) {
			ctx.logger().Info("gsthost: ingest reached end of stream")
			if ctx.OnEOS != nil {
				ctx.OnEOS()
			}
		},
	}
}

// OnNewSample is called by GStreamer when the appsink has a new sample
//
// This callback:
//  1. Pulls the sample and its buffer
//  2. Copies the payload (GStreamer reuses the memory)
//  3. Resolves the timestamp (PTS, else DTS, else 0)
//  4. Derives the keyframe flag from DELTA_UNIT
//  5. Hands the buffer to Deliver synchronously
//
// A missing sample or buffer is skipped rather than failing the stream.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		ctx.logger().Warn("gsthost: failed to pull sample from appsink, skipping")
		return gst.FlowOK
	}

	if ctx.OnCaps != nil && ctx.capsSent.CompareAndSwap(false, true) {
		if caps := sample.GetCaps(); caps != nil {
			ctx.OnCaps(caps)
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		ctx.logger().Warn("gsthost: failed to get buffer from sample, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	seq := ctx.Counter.Add(1)
	ctx.BytesRead.Add(uint64(len(payload)))

	b := Buffer{
		Data:      payload,
		Timestamp: ResolveTimestamp(buffer.PresentationTimestamp(), buffer.DecodingTimestamp()),
		Keyframe:  !buffer.HasFlags(gst.BufferFlagDeltaUnit),
		Seq:       seq,
		TraceID:   uuid.New().String(),
	}

	ctx.Deliver(b)
	return gst.FlowOK
}

// ResolveTimestamp picks PTS, falling back to DTS, then zero. GStreamer
// reports an unset clock time as a negative duration.
func ResolveTimestamp(pts, dts time.Duration) time.Duration {
	if pts >= 0 {
		return pts
	}
	if dts >= 0 {
		return dts
	}
	return 0
}
