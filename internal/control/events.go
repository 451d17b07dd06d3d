package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
)

// EventMessage is the JSON form of a valve event
type EventMessage struct {
	InstanceID  string `json:"instance_id,omitempty"`
	Event       string `json:"event"`
	State       string `json:"state"`
	Units       int    `json:"units"`
	TimestampMS int64  `json:"timestamp_ms"`
	At          string `json:"at"`
}

// NewEventMessage converts a valve event for publishing
func NewEventMessage(instanceID string, ev prerollvalve.Event) EventMessage {
	return EventMessage{
		InstanceID:  instanceID,
		Event:       string(ev.Type),
		State:       ev.State.String(),
		Units:       ev.Units,
		TimestampMS: ev.Timestamp.Milliseconds(),
		At:          ev.At.UTC().Format(time.RFC3339Nano),
	}
}

// EventPublisher forwards valve events to the events topic
type EventPublisher struct {
	client     mqtt.Client
	topic      string
	qos        byte
	instanceID string
	logger     *slog.Logger

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewEventPublisher creates a publisher for cfg.Topics.Events
func NewEventPublisher(cfg Config, instanceID string, client mqtt.Client, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		client:     client,
		topic:      cfg.Topics.Events,
		qos:        cfg.QoS["events"],
		instanceID: instanceID,
		logger:     logger,
	}
}

// Publish sends a single event
func (p *EventPublisher) Publish(ev prerollvalve.Event) error {
	payload, err := json.Marshal(NewEventMessage(p.instanceID, ev))
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.errors.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	p.published.Add(1)
	return nil
}

// Run publishes events from ch until ctx is done or ch is closed.
func (p *EventPublisher) Run(ctx context.Context, ch <-chan prerollvalve.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				p.logger.Warn("control: event publish failed", "event", ev.Type, "error", err)
			}
		}
	}
}

// Published returns the number of events sent successfully
func (p *EventPublisher) Published() uint64 { return p.published.Load() }

// Errors returns the number of failed publishes
func (p *EventPublisher) Errors() uint64 { return p.errors.Load() }
