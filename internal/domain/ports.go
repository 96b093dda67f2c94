package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateIntent создаёт payment intent на сумму в минимальных единицах.
	CreateIntent(ctx context.Context, params IntentParams) (PaymentIntent, error)
	// GetIntent возвращает актуальное состояние intent с нормализованным статусом.
	GetIntent(ctx context.Context, intentID string) (PaymentIntent, error)
}

// StoreStatusGate — авторитетный источник решения "магазин принимает заказы".
type StoreStatusGate interface {
	IsAcceptingOrders(ctx context.Context) (bool, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// Outbox event types жизненного цикла заказа.
const (
	EventOrderCreated        = "order.created"
	EventOrderIntentAttached = "order.intent_attached"
	EventOrderPaid           = "order.paid"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderDeleted        = "order.deleted"

	AggregateOrder = "order"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
