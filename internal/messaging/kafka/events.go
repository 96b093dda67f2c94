package kafka

import (
	"encoding/json"
	"time"
)

// Topics для событий витрины.
const (
	TopicOrderEvents     = "dormside.order.events"
	TopicDeadLetterQueue = "dormside.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OrderEventEnvelope — формат сообщения в TopicOrderEvents.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetterPayload — содержимое OrderEventEnvelope.Payload в TopicDeadLetterQueue:
// исходное событие outbox и причина, по которой его не удалось доставить.
type DeadLetterPayload struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}
