package gsthost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
)

// HostConfig describes the GStreamer pipelines around the valve
type HostConfig struct {
	// Source is the ingest description, up to (not including) the appsink.
	// It must output parsed, timestamped encoded buffers.
	Source string
	// Sink is the egress description after the appsrc
	Sink string
	// MaxReconnectAttempts is the number of consecutive ingest failures
	// tolerated (default: 5)
	MaxReconnectAttempts int
	// ReconnectInitialDelay is the first backoff delay (default: 1s)
	ReconnectInitialDelay time.Duration
	// ReconnectMaxDelay caps the backoff (default: 30s)
	ReconnectMaxDelay time.Duration
	// Tap receives every emitted unit after it was pushed to the appsrc
	// (optional, e.g. a record writer)
	Tap prerollvalve.Sink
	// Logger (slog.Default() if nil)
	Logger *slog.Logger
}

// HostStats contains host and valve statistics
type HostStats struct {
	Valve prerollvalve.Stats
	// BuffersIn counts buffers pulled from the appsink
	BuffersIn uint64
	// BytesIn counts payload bytes pulled from the appsink
	BytesIn uint64
	// BuffersOut counts buffers pushed into the appsrc
	BuffersOut uint64
	// BytesOut counts payload bytes pushed into the appsrc
	BytesOut uint64
	// PushErrors counts Push failures (out-of-order, sink errors)
	PushErrors uint64
	// Reconnects is the number of ingest reconnection attempts
	Reconnects uint32
	// ErrorsNetwork, ErrorsNegotiation, ErrorsAuth, ErrorsResource and
	// ErrorsUnknown count classified bus errors
	ErrorsNetwork     uint64
	ErrorsNegotiation uint64
	ErrorsAuth        uint64
	ErrorsResource    uint64
	ErrorsUnknown     uint64
	// Uptime since Start
	Uptime time.Duration
}

// Host runs a valve between a GStreamer ingest pipeline and an egress
// pipeline. The ingest side reconnects with exponential backoff; every
// reconnect resyncs the valve since the new pipeline restarts its clock.
type Host struct {
	cfg          HostConfig
	pipelines    PipelineConfig
	reconnectCfg ReconnectConfig
	logger       *slog.Logger

	valve  *prerollvalve.Valve
	writer atomic.Pointer[Writer]

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ingest  *Ingest
	egress  *Egress
	started time.Time
	done    chan struct{}
	err     error

	callbacks      *CallbackContext
	buffersIn      atomic.Uint64
	bytesIn        atomic.Uint64
	pushErrors     atomic.Uint64
	counters       ErrorCounters
	reconnectState ReconnectState
}

// NewHost validates the configuration (fail-fast), checks GStreamer is
// available and creates the valve. Pipelines are created by Start.
func NewHost(cfg HostConfig, valveCfg prerollvalve.Config) (*Host, error) {
	pipelines := PipelineConfig{Source: cfg.Source, Sink: cfg.Sink}
	if err := pipelines.Validate(); err != nil {
		return nil, fmt.Errorf("gsthost: %w", err)
	}
	if err := CheckAvailable(); err != nil {
		return nil, fmt.Errorf("gsthost: GStreamer not available: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if valveCfg.Logger == nil {
		valveCfg.Logger = logger
	}

	reconnectCfg := DefaultReconnectConfig()
	if cfg.MaxReconnectAttempts > 0 {
		reconnectCfg.MaxRetries = cfg.MaxReconnectAttempts
	}
	if cfg.ReconnectInitialDelay > 0 {
		reconnectCfg.RetryDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		reconnectCfg.MaxRetryDelay = cfg.ReconnectMaxDelay
	}

	h := &Host{
		cfg:          cfg,
		pipelines:    pipelines,
		reconnectCfg: reconnectCfg,
		logger:       logger,
	}

	valve, err := prerollvalve.NewValve(valveCfg, prerollvalve.SinkFunc(h.emit))
	if err != nil {
		return nil, err
	}
	h.valve = valve

	h.callbacks = &CallbackContext{
		Deliver:   h.deliver,
		OnCaps:    h.forwardCaps,
		OnEOS:     h.forwardEOS,
		Counter:   &h.buffersIn,
		BytesRead: &h.bytesIn,
		Logger:    logger,
	}

	logger.Info("gsthost: GStreamer host created",
		"source", cfg.Source,
		"sink", cfg.Sink,
		"max_reconnects", reconnectCfg.MaxRetries,
	)
	return h, nil
}

// Valve returns the hosted valve (for control)
func (h *Host) Valve() *prerollvalve.Valve {
	return h.valve
}

// Start builds both pipelines, starts egress then ingest, and returns.
// Done is closed when the host stops on its own (EOS or unrecoverable error).
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return fmt.Errorf("gsthost: host already started")
	}

	egress, err := CreateEgress(h.pipelines)
	if err != nil {
		return fmt.Errorf("gsthost: failed to create egress pipeline: %w", err)
	}
	if err := egress.Pipeline.SetState(gst.StatePlaying); err != nil {
		DestroyPipeline(egress.Pipeline)
		return fmt.Errorf("gsthost: failed to start egress pipeline: %w", err)
	}
	h.egress = egress
	h.writer.Store(NewWriter(egress.AppSrc, h.logger))

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = time.Now()
	h.done = make(chan struct{})
	h.err = nil

	localCtx := h.ctx
	h.wg.Add(2)
	go h.runEgress(localCtx)
	go h.runIngest(localCtx)

	h.logger.Info("gsthost: GStreamer host started", "state", h.valve.State().String())
	return nil
}

// Done is closed once the host has stopped on its own
func (h *Host) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Err returns the error that stopped the host, if any
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Host) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == nil {
		return
	}
	select {
	case <-h.done:
	default:
		h.err = err
		close(h.done)
	}
}

// runIngest drives ingest pipelines with reconnection
func (h *Host) runIngest(ctx context.Context) {
	defer h.wg.Done()

	err := RunWithReconnect(ctx, h.runIngestOnce, h.reconnectCfg, &h.reconnectState,
		func(attempt int) {
			h.valve.Resync()
		},
		h.logger,
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("gsthost: ingest stopped after reconnection failure",
			"error", err,
			"uptime", time.Since(h.started),
			"buffers_in", h.buffersIn.Load(),
			"reconnects", h.reconnectState.Reconnects.Load(),
		)
		if w := h.writer.Load(); w != nil {
			w.EndStream()
		}
		h.finish(err)
	}
}

// runIngestOnce creates one ingest pipeline and monitors it. EOS counts as a
// clean finish.
func (h *Host) runIngestOnce(ctx context.Context) error {
	ingest, err := CreateIngest(h.pipelines)
	if err != nil {
		return err
	}
	defer func() {
		if err := DestroyPipeline(ingest.Pipeline); err != nil {
			h.logger.Error("gsthost: failed to destroy ingest pipeline", "error", err)
		}
		h.mu.Lock()
		h.ingest = nil
		h.mu.Unlock()
	}()

	h.callbacks.ResetCaps()
	ingest.AppSink.SetCallbacks(Callbacks(h.callbacks))

	h.mu.Lock()
	h.ingest = ingest
	h.mu.Unlock()

	if err := ingest.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start ingest pipeline: %w", err)
	}

	err = MonitorBus(ctx, "ingest", ingest.Pipeline, &h.counters, &h.reconnectState, h.logger)
	if errors.Is(err, ErrEndOfStream) {
		return nil
	}
	return err
}

// runEgress watches the egress bus. Egress EOS (after ingest EOS was
// forwarded) or an egress error stops the host.
func (h *Host) runEgress(ctx context.Context) {
	defer h.wg.Done()

	err := MonitorBus(ctx, "egress", h.egress.Pipeline, &h.counters, nil, h.logger)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrEndOfStream):
		h.logger.Info("gsthost: egress drained")
		h.finish(nil)
	default:
		h.finish(err)
	}
}

// deliver runs on the ingest streaming thread
func (h *Host) deliver(b Buffer) {
	_, err := h.valve.Push(prerollvalve.Unit{
		Payload:   b.Data,
		Timestamp: b.Timestamp,
		Keyframe:  b.Keyframe,
		Seq:       b.Seq,
		TraceID:   b.TraceID,
	})
	if err != nil {
		h.pushErrors.Add(1)
		h.logger.Debug("gsthost: push failed", "error", err, "seq", b.Seq)
	}
}

// emit is the valve sink: it runs under the valve lock
func (h *Host) emit(u prerollvalve.Unit) error {
	w := h.writer.Load()
	if w == nil {
		return fmt.Errorf("gsthost: egress not started")
	}
	if err := w.Push(u.Payload, u.Timestamp, u.Keyframe); err != nil {
		return err
	}
	if h.cfg.Tap != nil {
		return h.cfg.Tap.Emit(u)
	}
	return nil
}

func (h *Host) forwardCaps(caps *gst.Caps) {
	if w := h.writer.Load(); w != nil {
		w.SetCaps(caps)
	}
}

func (h *Host) forwardEOS() {
	if w := h.writer.Load(); w != nil {
		w.EndStream()
	}
}

// Stop gracefully shuts down both pipelines
//
// This method:
//  1. Cancels the context
//  2. Waits for goroutines to finish (timeout 3s)
//  3. Sets both pipelines to NULL
//
// Idempotent - safe to call multiple times.
func (h *Host) Stop() error {
	h.mu.Lock()
	if h.cancel == nil {
		h.mu.Unlock()
		h.logger.Debug("gsthost: host not started, nothing to stop")
		return nil
	}
	h.cancel()
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		h.logger.Warn("gsthost: stop timeout exceeded, some goroutines may still be running")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.egress != nil {
		if err := DestroyPipeline(h.egress.Pipeline); err != nil {
			h.logger.Error("gsthost: failed to destroy egress pipeline", "error", err)
		}
		h.egress = nil
	}
	h.writer.Store(nil)

	select {
	case <-h.done:
	default:
		close(h.done)
	}

	h.logger.Info("gsthost: GStreamer host stopped",
		"buffers_in", h.buffersIn.Load(),
		"reconnects", h.reconnectState.Reconnects.Load(),
		"uptime", time.Since(h.started),
	)

	h.cancel = nil
	h.ctx = nil
	return nil
}

// Stats returns host and valve statistics. Thread-safe.
func (h *Host) Stats() HostStats {
	st := HostStats{
		Valve:             h.valve.Stats(),
		BuffersIn:         h.buffersIn.Load(),
		BytesIn:           h.bytesIn.Load(),
		PushErrors:        h.pushErrors.Load(),
		Reconnects:        h.reconnectState.Reconnects.Load(),
		ErrorsNetwork:     h.counters.Network.Load(),
		ErrorsNegotiation: h.counters.Negotiation.Load(),
		ErrorsAuth:        h.counters.Auth.Load(),
		ErrorsResource:    h.counters.Resource.Load(),
		ErrorsUnknown:     h.counters.Unknown.Load(),
	}
	if w := h.writer.Load(); w != nil {
		st.BuffersOut, st.BytesOut = w.Pushed()
	}

	h.mu.Lock()
	if !h.started.IsZero() {
		st.Uptime = time.Since(h.started)
	}
	h.mu.Unlock()
	return st
}
