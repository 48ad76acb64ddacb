// Package bus defines the message-bus boundary the saga services publish
// and subscribe through. Concrete transports (Kafka, RabbitMQ, in-process)
// implement Bus; services only see envelopes and an explicit routing table.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTransport marks delivery-layer failures (broker unreachable, closed
// connection). Callers must not conflate it with business failure: a
// transport error never cancels an order.
var ErrTransport = errors.New("bus: transport unavailable")

// Envelope is one routed message: a dot-separated topic such as
// "order.created" plus an opaque JSON payload.
type Envelope struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Handler consumes one delivery. Handlers must tolerate duplicate delivery
// of the same logical event.
type Handler func(ctx context.Context, env Envelope) error

// Routes maps topic to handler. Tables are built once at startup and handed
// to the transport adapter.
type Routes map[string]Handler

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Bus interface {
	Publisher
	// Subscribe binds the routing table under a consumer group and starts
	// delivering in the background until ctx is cancelled.
	Subscribe(ctx context.Context, group string, routes Routes) error
	Close() error
}

// PublishJSON marshals payload and publishes it under topic, keyed so that
// one order's events stay ordered on partitioned transports.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return p.Publish(ctx, Envelope{Topic: topic, Key: key, Payload: data})
}
