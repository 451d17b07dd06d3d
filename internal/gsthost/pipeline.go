// Package gsthost adapts the valve to GStreamer: an ingest pipeline ending in
// an appsink delivers encoded buffers, an egress pipeline starting with an
// appsrc receives what the valve emits.
package gsthost

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	// DefaultSinkName is the appsink name appended to the ingest description
	DefaultSinkName = "valve_in"
	// DefaultSrcName is the appsrc name prepended to the egress description
	DefaultSrcName = "valve_out"
)

// PipelineConfig describes both pipelines in gst-launch syntax
type PipelineConfig struct {
	// Source produces encoded, parsed buffers, e.g.
	// "rtspsrc location=rtsp://cam/stream ! rtph264depay ! h264parse"
	Source string
	// Sink consumes them, e.g. "h264parse ! mp4mux ! filesink location=clip.mp4"
	Sink string
	// SinkName / SrcName override the element names (optional)
	SinkName string
	SrcName  string
}

// Validate checks both descriptions are present and don't already declare
// the boundary elements.
func (c PipelineConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("gsthost: source pipeline description is required")
	}
	if strings.TrimSpace(c.Sink) == "" {
		return fmt.Errorf("gsthost: sink pipeline description is required")
	}
	if strings.Contains(c.Source, "appsink") {
		return fmt.Errorf("gsthost: source description must not contain appsink (it is appended)")
	}
	if strings.Contains(c.Sink, "appsrc") {
		return fmt.Errorf("gsthost: sink description must not contain appsrc (it is prepended)")
	}
	return nil
}

func (c PipelineConfig) sinkName() string {
	if c.SinkName != "" {
		return c.SinkName
	}
	return DefaultSinkName
}

func (c PipelineConfig) srcName() string {
	if c.SrcName != "" {
		return c.SrcName
	}
	return DefaultSrcName
}

// IngestDescription returns the source description terminated by an appsink.
// The appsink never drops: every buffer must reach the valve.
func IngestDescription(cfg PipelineConfig) string {
	return fmt.Sprintf("%s ! appsink name=%s sync=false max-buffers=0 drop=false",
		strings.TrimSpace(cfg.Source), cfg.sinkName())
}

// EgressDescription returns the sink description fed by a live, time-format
// appsrc. Timestamps come from the ingest buffers.
func EgressDescription(cfg PipelineConfig) string {
	return fmt.Sprintf("appsrc name=%s format=time is-live=true do-timestamp=false ! %s",
		cfg.srcName(), strings.TrimSpace(cfg.Sink))
}

// Ingest holds the ingest pipeline and its appsink
type Ingest struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// Egress holds the egress pipeline and its appsrc
type Egress struct {
	Pipeline *gst.Pipeline
	AppSrc   *app.Source
}

// CheckAvailable verifies GStreamer can be initialized and instantiate an
// element (fail-fast at construction time).
func CheckAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// CreateIngest parses the ingest pipeline. It is left in the NULL state.
func CreateIngest(cfg PipelineConfig) (*Ingest, error) {
	gst.Init(nil)

	desc := IngestDescription(cfg)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ingest pipeline %q: %w", desc, err)
	}

	elem, err := pipeline.GetElementByName(cfg.sinkName())
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to find appsink %q: %w", cfg.sinkName(), err)
	}

	slog.Debug("gsthost: ingest pipeline created", "description", desc)
	return &Ingest{Pipeline: pipeline, AppSink: app.SinkFromElement(elem)}, nil
}

// CreateEgress parses the egress pipeline. It is left in the NULL state.
func CreateEgress(cfg PipelineConfig) (*Egress, error) {
	gst.Init(nil)

	desc := EgressDescription(cfg)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse egress pipeline %q: %w", desc, err)
	}

	elem, err := pipeline.GetElementByName(cfg.srcName())
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to find appsrc %q: %w", cfg.srcName(), err)
	}

	slog.Debug("gsthost: egress pipeline created", "description", desc)
	return &Egress{Pipeline: pipeline, AppSrc: app.SrcFromElement(elem)}, nil
}

// DestroyPipeline sets the pipeline to NULL, releasing its resources.
// Safe to call with nil.
func DestroyPipeline(p *gst.Pipeline) error {
	if p == nil {
		return nil
	}
	if err := p.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
