// Package queue publishes dispatch records to RabbitMQ.
package queue

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Publisher sends a message body to a named queue.
type Publisher interface {
	Publish(queueName string, body []byte) error
	Close() error
}

// RabbitMQ is a Publisher over one AMQP connection and channel.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	logger   *zap.Logger
}

// Dial connects to url and opens a channel.
func Dial(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	logger.Named("rabbitmq").Info("connected to rabbitmq")
	return &RabbitMQ{conn: conn, channel: ch, declared: make(map[string]bool), logger: logger.Named("rabbitmq")}, nil
}

// Publish declares queueName as durable on first use and sends a persistent JSON message.
func (r *RabbitMQ) Publish(queueName string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared[queueName] {
		_, err := r.channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		r.declared[queueName] = true
	}

	err := r.channel.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}
	return nil
}

// Close closes the channel and the connection, returning the last error.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("error closing rabbitmq channel", zap.Error(err))
			lastErr = err
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("error closing rabbitmq connection", zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
