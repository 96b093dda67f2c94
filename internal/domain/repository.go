package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
// Хранилище — единственный владелец записи: ID и CreatedAt выдаёт только оно.
type OrderRepository interface {
	// Create присваивает ID и время создания, сохраняет заказ и возвращает полную запись.
	Create(ctx context.Context, draft OrderDraft) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает все заказы, самые новые первыми.
	List(ctx context.Context) ([]Order, error)
	// UpdateStatus перезаписывает только статус; легальность перехода не проверяется.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) (Order, error)
	// AttachPaymentIntent перезаписывает только ссылку на payment intent.
	AttachPaymentIntent(ctx context.Context, id, intentID string) (Order, error)
	// Delete удаляет заказ; возвращает true, если запись существовала.
	Delete(ctx context.Context, id string) (bool, error)
}

// SettingsRepository хранит настройки витрины.
type SettingsRepository interface {
	// Get возвращает сохранённые настройки или значения по умолчанию.
	Get(ctx context.Context) (StoreSettings, error)
	Update(ctx context.Context, settings StoreSettings) (StoreSettings, error)
}

// MenuRepository хранит меню.
type MenuRepository interface {
	Get(ctx context.Context) ([]MenuItem, error)
	// Replace сохраняет очищенное меню и возвращает его.
	Replace(ctx context.Context, items []MenuItem) ([]MenuItem, error)
}

// IdempotencyRepository хранит ключи Idempotency-Key и сохранённые ответы.
type IdempotencyRepository interface {
	// Claim регистрирует ключ в состоянии processing. Занятый ключ возвращается вместе с
	// ErrIdempotencyKeyAlreadyExists (тот же запрос) или ErrIdempotencyHashMismatch (другой).
	Claim(ctx context.Context, key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Finish сохраняет ответ и итоговый статус ключа.
	Finish(ctx context.Context, key string, status IdempotencyStatus, resp StoredResponse) error
	// Delete освобождает ключ, чтобы клиент мог повторить запрос после временной ошибки.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
