// Package kafkabus adapts the bus boundary onto Kafka. One topic per
// routing key, one consumer group per service, trace context carried in
// message headers.
package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-fulfillment/pkg/bus"
	"github.com/dmehra2102/order-fulfillment/pkg/idempotency"
	"github.com/dmehra2102/order-fulfillment/pkg/tracing"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type Bus struct {
	log          *slog.Logger
	brokers      []string
	writer       *kafka.Writer
	guard        idempotency.Guard
	tracer       trace.Tracer
	fetchBackoff time.Duration

	mu      sync.Mutex
	readers []*kafka.Reader
}

// fetcher is the slice of kafka.Reader the consume loop needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// New builds the adapter. guard may be nil; with a guard each fetched
// message is checked against the idempotency store before its handler runs.
func New(log *slog.Logger, brokers []string, guard idempotency.Guard) *Bus {
	return &Bus{
		log:     log,
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		guard:        guard,
		tracer:       otel.Tracer("kafkabus"),
		fetchBackoff: initialBackoff,
	}
}

func (b *Bus) Publish(ctx context.Context, env bus.Envelope) error {
	headers := make([]kafka.Header, 0, len(env.Headers)+2)
	for k, v := range env.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	for k, v := range tracing.InjectHeaders(ctx, nil) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   env.Topic,
		Key:     []byte(env.Key),
		Value:   env.Payload,
		Headers: headers,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: write %s: %v", bus.ErrTransport, env.Topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, group string, routes bus.Routes) error {
	for topic, handler := range routes {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers: b.brokers,
			Topic:   topic,
			GroupID: group,
		})
		b.mu.Lock()
		b.readers = append(b.readers, r)
		b.mu.Unlock()
		go b.consume(ctx, r, topic, handler)
	}
	return nil
}

func (b *Bus) consume(ctx context.Context, r fetcher, topic string, handler bus.Handler) {
	backoff := b.fetchBackoff
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// A broker hiccup must not kill the consumer; back off and
			// keep fetching.
			b.log.Error("fetch failed, retrying", "topic", topic, "backoff", backoff.String(), "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = b.fetchBackoff

		if b.guard != nil {
			key := idempotency.MessageKey(msg.Topic, msg.Partition, msg.Offset)
			seen, err := b.guard.Seen(ctx, key)
			if err != nil {
				b.log.Error("idempotency check failed", "err", err)
				continue
			}
			if seen {
				b.log.Info("duplicate message skipped", "key", key)
				_ = r.CommitMessages(ctx, msg)
				continue
			}
		}

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}

		msgCtx := tracing.ExtractHeaders(ctx, headers)
		msgCtx, span := b.tracer.Start(msgCtx, "consume "+topic)

		env := bus.Envelope{
			Topic:   msg.Topic,
			Key:     string(msg.Key),
			Payload: msg.Value,
			Headers: headers,
		}
		if err := handler(msgCtx, env); err != nil {
			b.log.Error("handler failed", "topic", topic, "err", err)
		}
		span.End()
		_ = r.CommitMessages(ctx, msg)
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.readers {
		_ = r.Close()
	}
	return b.writer.Close()
}
