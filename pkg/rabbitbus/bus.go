// Package rabbitbus adapts the bus boundary onto a RabbitMQ topic exchange.
// Routing keys are the bus topics; each service binds one durable queue.
// Connection loss triggers bounded-backoff reconnects, and while down
// Publish fails with bus.ErrTransport so callers can queue or alarm.
package rabbitbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmehra2102/order-fulfillment/pkg/bus"
	"github.com/dmehra2102/order-fulfillment/pkg/tracing"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type subscription struct {
	group  string
	routes bus.Routes
}

type Bus struct {
	log      *slog.Logger
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	subs []subscription
}

func New(log *slog.Logger, url, exchange string) (*Bus, error) {
	b := &Bus{log: log, url: url, exchange: exchange}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", bus.ErrTransport, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: channel: %v", bus.ErrTransport, err)
	}
	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: exchange declare: %v", bus.ErrTransport, err)
	}

	b.mu.Lock()
	b.conn, b.ch = conn, ch
	b.mu.Unlock()
	b.log.Info("connected to rabbitmq", "exchange", b.exchange)
	return nil
}

func (b *Bus) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil || b.conn == nil || b.conn.IsClosed() {
		return nil, fmt.Errorf("%w: not connected", bus.ErrTransport)
	}
	return b.ch, nil
}

func (b *Bus) Publish(ctx context.Context, env bus.Envelope) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = v
	}
	for k, v := range tracing.InjectHeaders(ctx, nil) {
		headers[k] = v
	}

	err = ch.PublishWithContext(ctx, b.exchange, env.Topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Headers:     headers,
		MessageId:   env.Key,
		Body:        env.Payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", bus.ErrTransport, env.Topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, group string, routes bus.Routes) error {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{group: group, routes: routes})
	b.mu.Unlock()
	return b.startConsumer(ctx, group, routes)
}

func (b *Bus) startConsumer(ctx context.Context, group string, routes bus.Routes) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(group, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: queue declare %s: %v", bus.ErrTransport, group, err)
	}
	for topic := range routes {
		if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
			return fmt.Errorf("%w: bind %s to %s: %v", bus.ErrTransport, topic, q.Name, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", bus.ErrTransport, q.Name, err)
	}

	go b.consume(ctx, group, routes, deliveries)
	return nil
}

func (b *Bus) consume(ctx context.Context, group string, routes bus.Routes, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				// Channel gone: reconnect with backoff and resubscribe.
				b.log.Warn("delivery channel closed, reconnecting", "group", group)
				b.reconnect(ctx, group, routes)
				return
			}
			b.handle(ctx, routes, d)
		}
	}
}

func (b *Bus) handle(ctx context.Context, routes bus.Routes, d amqp.Delivery) {
	handler, ok := routes[d.RoutingKey]
	if !ok {
		_ = d.Nack(false, false)
		return
	}

	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	msgCtx := tracing.ExtractHeaders(ctx, headers)

	env := bus.Envelope{
		Topic:   d.RoutingKey,
		Key:     d.MessageId,
		Payload: d.Body,
		Headers: headers,
	}
	if err := handler(msgCtx, env); err != nil {
		// Handlers are idempotent and business failures are not retryable,
		// so a failed delivery is logged and dead-ended rather than requeued.
		b.log.Error("handler failed", "topic", d.RoutingKey, "err", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (b *Bus) reconnect(ctx context.Context, group string, routes bus.Routes) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err := b.connect(); err == nil {
			if err := b.startConsumer(ctx, group, routes); err == nil {
				b.log.Info("resubscribed after reconnect", "group", group)
				return
			}
		}
		b.log.Warn("reconnect attempt failed", "group", group, "backoff", backoff.String())
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
