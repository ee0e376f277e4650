package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/rabbitmq"
)

const (
	routingPrefix = "conversation."
	bindingAll    = "conversation.*"
)

// Broker publishes feed events towards every subscribed connection.
type Broker interface {
	Publish(ctx context.Context, event models.FeedEvent) error
}

// LocalBroker delivers straight to the in-process hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, event models.FeedEvent) error {
	b.hub.Deliver(event)
	return nil
}

// Consumer feeds raw deliveries to a handler.
type Consumer interface {
	Consume(ctx context.Context, handle func(body []byte)) error
	Close() error
}

const (
	defaultRedialBackoff = 500 * time.Millisecond
	maxRedialBackoff     = 30 * time.Second
)

// AMQPBroker routes events through a topic exchange so every instance's hub
// sees every conversation's events.
type AMQPBroker struct {
	publisher rabbitmq.Publisher
	hub       *Hub
	log       *zap.Logger
	redial    func() (Consumer, error)
	backoff   time.Duration

	mu       sync.Mutex
	consumer Consumer
}

type BrokerOption func(*AMQPBroker)

// WithRedial sets how a dropped consumer is replaced.
func WithRedial(dial func() (Consumer, error)) BrokerOption {
	return func(b *AMQPBroker) { b.redial = dial }
}

// WithRedialBackoff sets the first wait between redial attempts.
func WithRedialBackoff(d time.Duration) BrokerOption {
	return func(b *AMQPBroker) {
		if d > 0 {
			b.backoff = d
		}
	}
}

func NewAMQPBroker(publisher rabbitmq.Publisher, consumer Consumer, hub *Hub, log *zap.Logger, opts ...BrokerOption) *AMQPBroker {
	b := &AMQPBroker{publisher: publisher, consumer: consumer, hub: hub, log: log, backoff: defaultRedialBackoff}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DialAMQPBroker connects publisher and consumer for exchange.
func DialAMQPBroker(amqpURL, exchange string, hub *Hub, log *zap.Logger) (*AMQPBroker, error) {
	publisher := rabbitmq.NewPublisher(amqpURL, exchange, log)
	if rabbitmq.PublisherMode(publisher) != "amqp" {
		return nil, fmt.Errorf("feed broker unavailable: %s", rabbitmq.PublisherNoopReason(publisher))
	}
	consumer, err := rabbitmq.NewConsumer(amqpURL, exchange, bindingAll, log)
	if err != nil {
		_ = publisher.Close()
		return nil, errors.Wrap(err, "feed consumer")
	}
	redial := func() (Consumer, error) {
		return rabbitmq.NewConsumer(amqpURL, exchange, bindingAll, log)
	}
	return NewAMQPBroker(publisher, consumer, hub, log, WithRedial(redial)), nil
}

// Publish sends the event to the exchange. When the exchange rejects it the
// event is still delivered to local connections.
func (b *AMQPBroker) Publish(ctx context.Context, event models.FeedEvent) error {
	if err := b.publisher.Publish(ctx, RoutingKey(event.ConversationID), event); err != nil {
		b.hub.Deliver(event)
		return errors.Wrap(err, "feed publish")
	}
	return nil
}

// Run consumes the exchange into the local hub until ctx is done. A dropped
// consumer is redialled; once the new queue is bound every local connection
// is closed so clients reconnect and resync past the gap. Without a redial
// function Run closes the connections and returns the consumer error.
func (b *AMQPBroker) Run(ctx context.Context) error {
	for {
		err := b.current().Consume(ctx, b.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("feed consumer stopped", zap.Error(err))
		if b.redial == nil {
			b.hub.CloseAll()
			return errors.Wrap(err, "feed consume")
		}

		next, err := b.reconnect(ctx)
		if err != nil {
			return err
		}
		b.mu.Lock()
		_ = b.consumer.Close()
		b.consumer = next
		b.mu.Unlock()

		closed := b.hub.CloseAll()
		b.log.Info("feed consumer rebound", zap.Int("closed_connections", closed))
	}
}

func (b *AMQPBroker) current() Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumer
}

func (b *AMQPBroker) reconnect(ctx context.Context) (Consumer, error) {
	delay := b.backoff
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		consumer, err := b.redial()
		if err == nil {
			return consumer, nil
		}
		b.log.Warn("feed consumer redial failed", zap.Duration("retry_in", delay), zap.Error(err))
		if delay *= 2; delay > maxRedialBackoff {
			delay = maxRedialBackoff
		}
	}
}

func (b *AMQPBroker) handle(body []byte) {
	var event models.FeedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		b.log.Warn("feed delivery decode failed", zap.Error(err))
		return
	}
	b.hub.Deliver(event)
}

func (b *AMQPBroker) Close() error {
	_ = b.current().Close()
	return b.publisher.Close()
}

// RoutingKey is the topic a conversation's events are published under.
func RoutingKey(conversationID int64) string {
	return routingPrefix + strconv.FormatInt(conversationID, 10)
}
