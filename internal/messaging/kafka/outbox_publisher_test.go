package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publishedAt := time.Date(2025, 9, 14, 18, 30, 0, 0, time.UTC)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "order-123", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)

		var envelope OrderEventEnvelope
		require.NoError(t, json.Unmarshal(value, &envelope))
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.Equal(t, domain.AggregateOrder, envelope.AggregateType)
		assert.Equal(t, domain.EventOrderPaid, envelope.EventType)
		assert.JSONEq(t, `{"status":"paid"}`, string(envelope.Payload))
		assert.True(t, envelope.PublishedAt.Equal(publishedAt))

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		assert.Equal(t, domain.EventOrderPaid, headers[HeaderEventType])
		assert.Equal(t, "outbox-1", headers[HeaderOutboxID])
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), "")
	publisher.now = func() time.Time { return publishedAt }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{"status":"paid"}`),
	})
	require.NoError(t, err)

	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), TopicDeadLetterQueue)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventOrderDeleted,
	})
	require.Error(t, err)

	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"})
	assert.ErrorIs(t, err, domain.ErrOutboxPublish)
}
