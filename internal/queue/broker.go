// Package queue is the AMQP adapter behind the job and continuation queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformed marks a message that can never be processed. Handlers wrap it
// to have the delivery dropped instead of requeued.
var ErrMalformed = errors.New("malformed message")

// Channel is the subset of *amqp.Channel the broker uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type Broker struct {
	conn *amqp.Connection
	ch   Channel
	mu   sync.Mutex
}

// Dial connects to the broker and opens a single channel.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	b := NewBroker(ch)
	b.conn = conn
	return b, nil
}

func NewBroker(ch Channel) *Broker {
	return &Broker{ch: ch}
}

func (b *Broker) Close() error {
	err := b.ch.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// DeclareQueues declares durable queues.
func (b *Broker) DeclareQueues(names ...string) error {
	for _, name := range names {
		if _, err := b.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

// DeclareTopic declares a durable topic exchange.
func (b *Broker) DeclareTopic(name string) error {
	if err := b.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish sends v as a persistent JSON message to the named queue.
func (b *Broker) Publish(ctx context.Context, queue string, v any) error {
	return b.publish(ctx, "", queue, v)
}

// PublishTo sends v to an exchange with the given routing key.
func (b *Broker) PublishTo(ctx context.Context, exchange, key string, v any) error {
	return b.publish(ctx, exchange, key, v)
}

func (b *Broker) publish(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q/%q: %w", exchange, key, err)
	}
	return nil
}

// Consume delivers messages from queue to handler on workers goroutines
// until ctx is cancelled or the delivery channel closes. A nil handler
// result acks, ErrMalformed rejects without requeue and any other error
// nacks with requeue.
func (b *Broker) Consume(ctx context.Context, queue string, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	deliveries, err := b.startConsumer(queue, workers)
	if err != nil {
		return err
	}

	slog.Info("consumer started", "queue", queue, "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					settle(ctx, queue, d, handler)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// startConsumer sets the prefetch and registers the consumer as one step.
// A non-global Qos applies to every consumer started after it on the
// channel, so consumers sharing the channel must not interleave here.
func (b *Broker) startConsumer(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

func settle(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if aerr := d.Ack(false); aerr != nil {
			slog.Error("ack failed", "queue", queue, "message_id", d.MessageId, "error", aerr)
		}
	case errors.Is(err, ErrMalformed):
		slog.Error("dropping malformed message", "queue", queue, "message_id", d.MessageId, "error", err)
		if rerr := d.Reject(false); rerr != nil {
			slog.Error("reject failed", "queue", queue, "message_id", d.MessageId, "error", rerr)
		}
	default:
		slog.Warn("requeueing message", "queue", queue, "message_id", d.MessageId, "error", err)
		if nerr := d.Nack(false, true); nerr != nil {
			slog.Error("nack failed", "queue", queue, "message_id", d.MessageId, "error", nerr)
		}
	}
}

// Decode unmarshals a message body, wrapping failures in ErrMalformed.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
