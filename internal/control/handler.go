// Package control exposes the valve over MQTT: JSON commands on a control
// topic, JSON responses on a status topic, and valve lifecycle events on an
// events topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command represents a control plane command
//
//	{"command": "set_max_history", "params": {"max_history_ms": 3000}}
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Topics contains the MQTT topic names
type Topics struct {
	Control string
	Status  string
	Events  string
}

// Config contains handler settings
type Config struct {
	Topics Topics
	// QoS per topic key ("control", "status", "events")
	QoS map[string]byte
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnOpen          func() (flushed int, err error)
	OnClose         func() error
	OnSetMaxHistory func(time.Duration) error
	OnSetDebug      func(bool) error
	OnSetMaxUnits   func(int) error
	OnSetFlushMode  func(string) error
	OnGetStatus     func() map[string]interface{}
}

// Handler handles control plane commands
type Handler struct {
	cfg       Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
	logger    *slog.Logger

	mu       sync.Mutex
	stopped  bool
	handled  uint64
	rejected uint64
}

// NewHandler creates a new control plane handler
func NewHandler(cfg Config, client mqtt.Client, callbacks CommandCallbacks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
		logger:    logger,
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	h.logger.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	h.logger.Info("control: handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing. Idempotent.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}
	close(h.commands)

	h.logger.Info("control: handler stopped", "handled", h.handled, "rejected", h.rejected)
	return nil
}

// messageHandler is called by paho when a control message arrives
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Error("control: failed to parse command", "error", err, "topic", msg.Topic())
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	h.logger.Info("control: command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		h.rejected++
		h.logger.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command and builds its response
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}
	fail := func(format string, args ...interface{}) Response {
		resp.Status = "error"
		resp.Error = fmt.Sprintf(format, args...)
		return resp
	}

	h.mu.Lock()
	h.handled++
	h.mu.Unlock()

	switch cmd.Command {
	case "open":
		if h.callbacks.OnOpen == nil {
			return fail("open not implemented")
		}
		flushed, err := h.callbacks.OnOpen()
		if err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"open": true, "flushed": flushed}

	case "close":
		if h.callbacks.OnClose == nil {
			return fail("close not implemented")
		}
		if err := h.callbacks.OnClose(); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"open": false}

	case "set_max_history":
		if h.callbacks.OnSetMaxHistory == nil {
			return fail("set_max_history not implemented")
		}
		ms, ok := cmd.Params["max_history_ms"].(float64)
		if !ok {
			return fail("missing or invalid 'max_history_ms' parameter (expected number)")
		}
		d := time.Duration(ms * float64(time.Millisecond))
		if err := h.callbacks.OnSetMaxHistory(d); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"max_history_ms": d.Milliseconds()}

	case "set_debug":
		if h.callbacks.OnSetDebug == nil {
			return fail("set_debug not implemented")
		}
		debug, ok := cmd.Params["debug"].(bool)
		if !ok {
			return fail("missing or invalid 'debug' parameter (expected bool)")
		}
		if err := h.callbacks.OnSetDebug(debug); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"debug": debug}

	case "set_max_units":
		if h.callbacks.OnSetMaxUnits == nil {
			return fail("set_max_units not implemented")
		}
		n, ok := cmd.Params["max_units"].(float64)
		if !ok || n != float64(int(n)) {
			return fail("missing or invalid 'max_units' parameter (expected integer)")
		}
		if err := h.callbacks.OnSetMaxUnits(int(n)); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"max_units": int(n)}

	case "set_flush_mode":
		if h.callbacks.OnSetFlushMode == nil {
			return fail("set_flush_mode not implemented")
		}
		mode, ok := cmd.Params["flush_mode"].(string)
		if !ok {
			return fail("missing or invalid 'flush_mode' parameter (expected string)")
		}
		if err := h.callbacks.OnSetFlushMode(mode); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"flush_mode": mode}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Data = h.callbacks.OnGetStatus()

	default:
		return fail("unknown command: %s", cmd.Command)
	}

	return resp
}

// sendResponse publishes resp on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Status, h.cfg.QoS["status"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		h.logger.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		h.logger.Error("control: failed to publish response", "error", err)
		return
	}

	h.logger.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
