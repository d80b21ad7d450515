package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const amqpExchangeKind = "topic"

// AMQPTransport publishes changes to a topic exchange with routing key
// "change.<table>". Each instance consumes through its own exclusive queue.
type AMQPTransport struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zerolog.Logger
}

func NewAMQPTransport(url, exchange string, logger *zerolog.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqpExchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	l := logger.With().Str("component", "realtime_amqp").Logger()
	return &AMQPTransport{conn: conn, channel: ch, exchange: exchange, logger: &l}, nil
}

func routingKey(table string) string {
	return "change." + table
}

func (t *AMQPTransport) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	err = t.channel.PublishWithContext(ctx, t.exchange, routingKey(c.Table), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (t *AMQPTransport) Subscribe(ctx context.Context, h Handler) error {
	q, err := t.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	if err := t.channel.QueueBind(q.Name, "change.*", t.exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue bind: %w", err)
	}

	msgs, err := t.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal(d.Body, &c); err != nil {
					t.logger.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("Dropping malformed change")
					continue
				}
				h(c)
			}
		}
	}()
	return nil
}

func (t *AMQPTransport) Close() error {
	if t.channel != nil {
		t.channel.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
