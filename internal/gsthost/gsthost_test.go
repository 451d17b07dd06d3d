package gsthost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		message string
		debug   string
		want    ErrorCategory
	}{
		{"Unauthorized", "rtspsrc: 401 from server", ErrCategoryAuth},
		{"Internal data stream error.", "streaming stopped, reason not-negotiated (-4): not negotiated", ErrCategoryNegotiation},
		{"Could not open file \"/clips/a.mp4\" for writing.", "Permission denied", ErrCategoryResource},
		{"Could not connect to server", "gstrtspsrc.c: Could not connect", ErrCategoryNetwork},
		{"Something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := ClassifyError(tt.message, tt.debug); got != tt.want {
				t.Errorf("ClassifyError(%q, %q) = %v, want %v", tt.message, tt.debug, got, tt.want)
			}
		})
	}
}

func TestClassifyGStreamerError_Nil(t *testing.T) {
	if got := ClassifyGStreamerError(nil); got != ErrCategoryUnknown {
		t.Errorf("ClassifyGStreamerError(nil) = %v, want unknown", got)
	}
}

func TestErrorCounters(t *testing.T) {
	var c ErrorCounters
	c.Count(ErrCategoryNetwork)
	c.Count(ErrCategoryNetwork)
	c.Count(ErrCategoryAuth)
	c.Count(ErrorCategory(42))

	if c.Network.Load() != 2 || c.Auth.Load() != 1 || c.Unknown.Load() != 1 {
		t.Errorf("counters = net %d auth %d unknown %d", c.Network.Load(), c.Auth.Load(), c.Unknown.Load())
	}
	if c.Total() != 4 {
		t.Errorf("Total() = %d, want 4", c.Total())
	}
}

func TestResolveTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		pts, dts time.Duration
		want     time.Duration
	}{
		{"pts", 40 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond},
		{"zero pts is valid", 0, 20 * time.Millisecond, 0},
		{"dts fallback", -1, 20 * time.Millisecond, 20 * time.Millisecond},
		{"neither", -1, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveTimestamp(tt.pts, tt.dts); got != tt.want {
				t.Errorf("ResolveTimestamp(%v, %v) = %v, want %v", tt.pts, tt.dts, got, tt.want)
			}
		})
	}
}

func TestPipelineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PipelineConfig
		wantErr string
	}{
		{"ok", PipelineConfig{Source: "videotestsrc ! x264enc", Sink: "fakesink"}, ""},
		{"no source", PipelineConfig{Sink: "fakesink"}, "source pipeline"},
		{"no sink", PipelineConfig{Source: "videotestsrc"}, "sink pipeline"},
		{"appsink in source", PipelineConfig{Source: "videotestsrc ! appsink", Sink: "fakesink"}, "appsink"},
		{"appsrc in sink", PipelineConfig{Source: "videotestsrc", Sink: "appsrc ! fakesink"}, "appsrc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptions(t *testing.T) {
	cfg := PipelineConfig{
		Source: " rtspsrc location=rtsp://cam ! rtph264depay ! h264parse ",
		Sink:   "h264parse ! mp4mux ! filesink location=out.mp4",
	}

	ingest := IngestDescription(cfg)
	if !strings.HasPrefix(ingest, "rtspsrc") || !strings.Contains(ingest, "appsink name="+DefaultSinkName) {
		t.Errorf("IngestDescription() = %q", ingest)
	}
	if !strings.Contains(ingest, "drop=false") {
		t.Errorf("ingest appsink must not drop buffers: %q", ingest)
	}

	egress := EgressDescription(cfg)
	if !strings.HasPrefix(egress, "appsrc name="+DefaultSrcName) || !strings.HasSuffix(egress, "location=out.mp4") {
		t.Errorf("EgressDescription() = %q", egress)
	}

	cfg.SinkName, cfg.SrcName = "in", "out"
	if !strings.Contains(IngestDescription(cfg), "appsink name=in ") {
		t.Errorf("custom sink name not used: %q", IngestDescription(cfg))
	}
	if !strings.HasPrefix(EgressDescription(cfg), "appsrc name=out ") {
		t.Errorf("custom src name not used: %q", EgressDescription(cfg))
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultReconnectConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRunWithReconnect(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}

	t.Run("recovers", func(t *testing.T) {
		var state ReconnectState
		calls, retries := 0, 0
		err := RunWithReconnect(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		}, cfg, &state, func(int) { retries++ }, quietLogger())

		if err != nil {
			t.Fatalf("RunWithReconnect() unexpected error: %v", err)
		}
		if calls != 3 || retries != 2 || state.Reconnects.Load() != 2 {
			t.Errorf("calls=%d retries=%d reconnects=%d, want 3 2 2", calls, retries, state.Reconnects.Load())
		}
	})

	t.Run("gives up", func(t *testing.T) {
		var state ReconnectState
		boom := errors.New("timeout")
		err := RunWithReconnect(context.Background(), func(context.Context) error {
			return boom
		}, cfg, &state, nil, quietLogger())

		if !errors.Is(err, boom) {
			t.Fatalf("RunWithReconnect() error = %v, want wrapping %v", err, boom)
		}
		if got := state.Reconnects.Load(); got != uint32(cfg.MaxRetries+1) {
			t.Errorf("Reconnects = %d, want %d", got, cfg.MaxRetries+1)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		var state ReconnectState
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RunWithReconnect(ctx, func(context.Context) error {
			t.Fatal("connectFn must not run after cancellation")
			return nil
		}, cfg, &state, nil, quietLogger())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithReconnect() error = %v, want context.Canceled", err)
		}
	})
}

// TestCreatePipelines exercises the GStreamer path when the runtime is present.
func TestCreatePipelines(t *testing.T) {
	if err := CheckAvailable(); err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}

	cfg := PipelineConfig{
		Source: "videotestsrc num-buffers=10 ! x264enc ! h264parse",
		Sink:   "fakesink",
	}

	ingest, err := CreateIngest(cfg)
	if err != nil {
		t.Skipf("Skipping test: ingest elements unavailable: %v", err)
	}
	defer DestroyPipeline(ingest.Pipeline)
	if ingest.AppSink == nil {
		t.Error("ingest appsink is nil")
	}

	egress, err := CreateEgress(cfg)
	if err != nil {
		t.Fatalf("CreateEgress() unexpected error: %v", err)
	}
	defer DestroyPipeline(egress.Pipeline)
	if egress.AppSrc == nil {
		t.Error("egress appsrc is nil")
	}
}
