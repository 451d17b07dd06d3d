package gsthost

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Writer pushes emitted buffers into the egress appsrc.
// Thread-safe: ingest callbacks and EOS forwarding may race.
type Writer struct {
	mu     sync.Mutex
	src    *app.Source
	ended  bool
	logger *slog.Logger
	pushed atomic.Uint64
	bytes  atomic.Uint64
}

// NewWriter wraps an appsrc. logger may be nil (slog.Default()).
func NewWriter(src *app.Source, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{src: src, logger: logger}
}

// Push copies data into a new GStreamer buffer stamped with ts.
func (w *Writer) Push(data []byte, ts time.Duration, keyframe bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return fmt.Errorf("gsthost: appsrc already ended")
	}

	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(ts)
	if !keyframe {
		buf.SetFlags(gst.BufferFlagDeltaUnit)
	}

	if ret := w.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("gsthost: appsrc push returned %s", ret.String())
	}
	w.pushed.Add(1)
	w.bytes.Add(uint64(len(data)))
	return nil
}

// SetCaps forwards the ingest caps to the appsrc
func (w *Writer) SetCaps(caps *gst.Caps) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.src.SetCaps(caps)
	w.logger.Info("gsthost: egress caps set", "caps", caps.String())
}

// EndStream forwards end-of-stream downstream once. Later pushes fail.
func (w *Writer) EndStream() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return
	}
	w.ended = true
	if ret := w.src.EndStream(); ret != gst.FlowOK {
		w.logger.Warn("gsthost: appsrc end-of-stream returned", "flow", ret.String())
	}
}

// Pushed returns the number of buffers and bytes pushed so far
func (w *Writer) Pushed() (buffers, bytes uint64) {
	return w.pushed.Load(), w.bytes.Load()
}
