package gsthost

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
)

func TestNewHost_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HostConfig
		wantErr string
	}{
		{"missing source", HostConfig{Sink: "fakesink"}, "source pipeline"},
		{"missing sink", HostConfig{Source: "videotestsrc"}, "sink pipeline"},
		{"appsink in source", HostConfig{Source: "videotestsrc ! appsink", Sink: "fakesink"}, "appsink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			_, err := NewHost(tt.cfg, prerollvalve.DefaultConfig())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewHost() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestHost_Stop_Idempotent verifies Stop() can be called on a host that
// never started, twice.
func TestHost_Stop_Idempotent(t *testing.T) {
	host, err := NewHost(HostConfig{
		Source: "videotestsrc ! x264enc ! h264parse",
		Sink:   "fakesink",
		Logger: quietLogger(),
	}, prerollvalve.DefaultConfig())
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}

	if err := host.Stop(); err != nil {
		t.Errorf("first Stop() failed: %v", err)
	}
	if err := host.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

// TestHost_EndToEnd pushes a short encoded test stream through a closed
// valve, opens it, and waits for EOS to drain through egress.
func TestHost_EndToEnd(t *testing.T) {
	valveCfg := prerollvalve.DefaultConfig()
	valveCfg.Logger = quietLogger()

	host, err := NewHost(HostConfig{
		Source:               "videotestsrc num-buffers=60 ! video/x-raw,framerate=30/1 ! x264enc key-int-max=15 tune=zerolatency ! h264parse",
		Sink:                 "fakesink sync=false",
		MaxReconnectAttempts: 1,
		Logger:               quietLogger(),
	}, valveCfg)
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := host.Start(ctx); err != nil {
		t.Skipf("Skipping test: pipeline elements unavailable: %v", err)
	}
	defer host.Stop()

	// let some buffers accumulate, then open
	deadline := time.Now().Add(10 * time.Second)
	for host.Stats().BuffersIn < 20 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := host.Valve().SetOpen(true); err != nil {
		t.Fatalf("SetOpen(true) unexpected error: %v", err)
	}

	select {
	case <-host.Done():
	case <-ctx.Done():
		t.Fatal("timeout waiting for host to drain")
	}
	if err := host.Err(); err != nil {
		t.Skipf("Skipping test: host stopped with error (encoder missing?): %v", err)
	}

	st := host.Stats()
	if st.BuffersOut == 0 {
		t.Error("no buffers reached egress")
	}
	if st.Valve.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", st.Valve.Flushes)
	}
}

func TestInjectedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := &CallbackContext{}
	if ctx.logger() != slog.Default() {
		t.Error("CallbackContext without Logger should use slog.Default()")
	}
	ctx.Logger = logger
	if ctx.logger() != logger {
		t.Error("CallbackContext ignores its Logger")
	}

	if w := NewWriter(nil, nil); w.logger != slog.Default() {
		t.Error("NewWriter(nil logger) should use slog.Default()")
	}
	if w := NewWriter(nil, logger); w.logger != logger {
		t.Error("NewWriter ignores its logger")
	}
}
