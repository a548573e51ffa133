package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/natsclient"
)

// NATSBridge forwards bus events to a JetStream subject so other
// processes (the HTTP API's SSE handler, external dashboards) can observe
// workflow progress without being wired directly into the engine process.
// Grounded on the same JetStream publish idiom as workflow.CallbackFields.
type NATSBridge struct {
	nc      *natsclient.Client
	subject string
}

// NewNATSBridge constructs a bridge that publishes every forwarded event
// to subject (e.g. "agentflow.events").
func NewNATSBridge(nc *natsclient.Client, subject string) *NATSBridge {
	return &NATSBridge{nc: nc, subject: subject}
}

// Forward implements Bridge.
func (b *NATSBridge) Forward(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}

	js, err := b.nc.JetStream()
	if err != nil {
		return fmt.Errorf("events: get jetstream: %w", err)
	}

	if _, err := js.Publish(ctx, b.subject, data); err != nil {
		return fmt.Errorf("events: publish to %s: %w", b.subject, err)
	}
	return nil
}
