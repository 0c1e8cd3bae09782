package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConnection bundles a connection with the channel opened on it.
type AMQPConnection struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// DialAMQP connects to the broker and declares the durable task queue.
func DialAMQP(cfg *Config) (*AMQPConnection, error) {
	if cfg == nil || cfg.AMQPURL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.AMQPQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.AMQPQueue, err)
	}
	return &AMQPConnection{Conn: conn, Channel: ch}, nil
}

// Close releases the channel and the connection.
func (c *AMQPConnection) Close() error {
	if c == nil {
		return nil
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}
