package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRabbitMQServiceWithDialer_Success(t *testing.T) {
	dialer := NewMockAMQPDialer()
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	require.NoError(t, err)
	require.NotNil(t, service)
	defer service.Close()

	ch := dialer.GetMockChannel()
	assert.True(t, ch.QueueDeclareCalled)
	assert.Equal(t, "audit-queue", ch.LastQueueName)
}

func TestNewRabbitMQServiceWithDialer_DialError(t *testing.T) {
	dialer := NewMockAMQPDialerWithError(assert.AnError)
	config := Config{AMQPURL: "amqp://bad", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
	assert.Contains(t, err.Error(), "failed to connect to RabbitMQ")
}

func TestNewRabbitMQServiceWithDialer_ChannelError(t *testing.T) {
	dialer := SetupMockDialerWithChannelError()
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
	assert.Contains(t, err.Error(), "failed to open channel")
}

func TestNewRabbitMQServiceWithDialer_QueueDeclareError(t *testing.T) {
	dialer, _ := SetupMockDialerWithQueueError()
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
	assert.Contains(t, err.Error(), "failed to declare queue")
}

func TestRabbitMQService_PublishFailure(t *testing.T) {
	dialer, ch, _ := SetupMockDialerForTest()
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	require.NoError(t, err)
	defer service.Close()

	msg := AuditMessage{
		DocumentID: "doc-1",
		Topic:      "document-changes",
		Payload:    json.RawMessage(`{"op":"insert"}`),
		Reason:     ReasonStreamUnavailable,
		Detail:     "redis connection refused",
		Attempt:    3,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}

	err = service.PublishFailure(msg)
	require.NoError(t, err)

	require.Len(t, ch.PublishedMessages, 1)
	assert.Equal(t, "audit-queue", ch.LastKey)
	assert.Equal(t, "", ch.LastExchange)

	var decoded AuditMessage
	require.NoError(t, json.Unmarshal(ch.PublishedMessages[0].Body, &decoded))
	assert.Equal(t, "doc-1", decoded.DocumentID)
	assert.Equal(t, ReasonStreamUnavailable, decoded.Reason)
	assert.Equal(t, 3, decoded.Attempt)
}

func TestRabbitMQService_PublishFailure_PublishError(t *testing.T) {
	dialer, ch, _ := SetupMockDialerForTest()
	ch.PublishErr = assert.AnError
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	require.NoError(t, err)
	defer service.Close()

	err = service.PublishFailure(AuditMessage{DocumentID: "doc-1", OccurredAt: time.Unix(0, 0)})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "publish audit message for document doc-1")
}

func TestAuditMessage_JSONSerialization(t *testing.T) {
	msg := AuditMessage{
		DocumentID: "doc-42",
		Topic:      "document-updates",
		Payload:    json.RawMessage(`{"a":1}`),
		Reason:     ReasonTimeout,
		Attempt:    1,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Metadata:   map[string]interface{}{"stream": "document-updates"},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded AuditMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.DocumentID, decoded.DocumentID)
	assert.Equal(t, msg.Reason, decoded.Reason)
	assert.Equal(t, msg.Attempt, decoded.Attempt)
}

func TestRabbitMQService_Close_NilSafety(t *testing.T) {
	service := &RabbitMQService{}
	assert.NotPanics(t, func() {
		service.Close()
	})
}

func TestRabbitMQService_Close_CallsUnderlying(t *testing.T) {
	dialer, ch, conn := SetupMockDialerForTest()
	config := Config{AMQPURL: "amqp://localhost:5672", QueueName: "audit-queue"}

	service, err := NewRabbitMQServiceWithDialer(config, dialer)
	require.NoError(t, err)

	require.NoError(t, service.Close())

	assert.True(t, ch.CloseCalled)
	assert.True(t, conn.CloseCalled)
}
