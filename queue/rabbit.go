// Package queue implements the Gateway's secondary audit channel: a durable
// RabbitMQ queue that records Shared-Log publish failures so an operator can
// replay or inspect them independently of the primary Redis Streams log.
package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"
)

// FailureReason classifies why a Shared-Log publish could not be completed.
type FailureReason string

const (
	ReasonStreamUnavailable FailureReason = "stream_unavailable"
	ReasonTransformRejected FailureReason = "transform_rejected"
	ReasonTimeout           FailureReason = "timeout"
	ReasonUnknown           FailureReason = "unknown"
)

// AuditMessage records a single failed publish attempt against the shared
// operation log, enough to replay or diagnose it after the fact.
type AuditMessage struct {
	DocumentID string                 `json:"document_id"`
	Topic      string                 `json:"topic"`
	Payload    json.RawMessage        `json:"payload"`
	Reason     FailureReason          `json:"reason"`
	Detail     string                 `json:"detail,omitempty"`
	Attempt    int                    `json:"attempt"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditPublisher records Shared-Log publish failures to a durable channel.
type AuditPublisher interface {
	PublishFailure(msg AuditMessage) error
	Close() error
}

// Config configures the audit queue connection.
type Config struct {
	AMQPURL   string
	QueueName string
}

// RabbitMQService is the AuditPublisher backed by a RabbitMQ queue.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
}

// NewRabbitMQService dials url and declares the durable audit queue.
func NewRabbitMQService(config Config) (*RabbitMQService, error) {
	return NewRabbitMQServiceWithDialer(config, &RealAMQPDialer{})
}

// NewRabbitMQServiceWithDialer allows injecting a dialer for testing.
func NewRabbitMQServiceWithDialer(config Config, dialer AMQPDialer) (*RabbitMQService, error) {
	conn, err := dialer.Dial(config.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(config.QueueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", config.QueueName, err)
	}

	return &RabbitMQService{connection: conn, channel: ch, config: config}, nil
}

// PublishFailure records a Shared-Log publish failure on the audit queue.
func (r *RabbitMQService) PublishFailure(msg AuditMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	err = r.channel.Publish("", r.config.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish audit message for document %s: %w", msg.DocumentID, err)
	}

	log.Printf("audit: recorded publish failure for document %s topic %s reason %s", msg.DocumentID, msg.Topic, msg.Reason)
	return nil
}

// Close releases the channel and connection. Safe to call on a zero-value
// or already-closed service.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
