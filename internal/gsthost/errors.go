package gsthost

import (
	"errors"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEndOfStream is returned by MonitorBus when the pipeline reached EOS.
var ErrEndOfStream = errors.New("gsthost: end of stream")

// ErrorCategory classifies GStreamer bus errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork: connection, timeout, DNS (reconnect may help)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryNegotiation: caps/format negotiation, missing parser or muxer
	ErrCategoryNegotiation
	// ErrCategoryAuth: credentials rejected by the source
	ErrCategoryAuth
	// ErrCategoryResource: sink side file/device failures (disk full, permissions)
	ErrCategoryResource
	// ErrCategoryUnknown: unclassified
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials",
	}
	negotiationKeywords = []string{
		"not negotiated", "negotiation", "caps", "format", "no decoder",
		"missing plugin", "parse", "mux", "stream type",
	}
	resourceKeywords = []string{
		"no space", "permission denied", "could not open file", "read-only",
		"could not write", "resource busy",
	}
	networkKeywords = []string{
		"connection", "timeout", "timed out", "unreachable", "network", "dns",
		"resolve", "socket", "tcp", "udp", "rtsp", "could not connect",
		"failed to connect",
	}
)

// ClassifyError categorizes a bus error from its message and debug string.
//
// Order matters: auth and negotiation are checked before the broad network
// keywords (an rtsp 401 mentions both "rtsp" and "401").
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

// ClassifyGStreamerError classifies a GError from a bus message.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyError(gerr.Error(), gerr.DebugString())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
