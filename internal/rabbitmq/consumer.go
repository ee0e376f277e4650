package rabbitmq

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the channel.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Consumer reads from an exclusive, auto-deleted queue bound to a topic exchange.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *zap.Logger
}

// NewConsumer declares the exchange and a server-named queue bound with bindingKey.
func NewConsumer(amqpURL, exchange, bindingKey string, log *zap.Logger) (*Consumer, error) {
	conn, ch, err := dialTopic(amqpURL, exchange)
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	log.Info("rabbitmq consumer bound", zap.String("exchange", exchange), zap.String("queue", q.Name), zap.String("binding", bindingKey))
	return &Consumer{conn: conn, ch: ch, queue: q.Name, log: log}, nil
}

// Consume invokes handle for every delivery body, in arrival order, until ctx
// is cancelled or the channel closes with ErrDeliveriesClosed.
func (c *Consumer) Consume(ctx context.Context, handle func(body []byte)) error {
	deliveries, err := c.ch.Consume(c.queue, "", true, true, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.log.Warn("rabbitmq delivery channel closed", zap.String("queue", c.queue))
				return ErrDeliveriesClosed
			}
			handle(d.Body)
		}
	}
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
