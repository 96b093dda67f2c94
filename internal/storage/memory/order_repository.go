package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	now   func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
		now:   time.Now,
	}
}

// Create присваивает заказу ID и время создания и сохраняет его.
func (r *orderRepositoryInMemory) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.intentTaken(draft.PaymentIntentID, "") {
		return domain.Order{}, domain.ErrPaymentIntentClaimed
	}

	id := uuid.NewString()
	order := draft.Materialize(id, r.now())
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[id] = order.Clone()
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает все заказы, самые новые первыми.
func (r *orderRepositoryInMemory) List(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, order.Clone())
	}
	domain.SortMostRecentFirst(result)

	return result, nil
}

// UpdateStatus перезаписывает статус заказа.
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	return r.mutate(ctx, id, func(order *domain.Order) {
		order.Status = status
	})
}

// AttachPaymentIntent перезаписывает ссылку на payment intent, если он не принадлежит другому заказу.
func (r *orderRepositoryInMemory) AttachPaymentIntent(ctx context.Context, id, intentID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if r.intentTaken(intentID, id) {
		return domain.Order{}, domain.ErrPaymentIntentClaimed
	}
	order.PaymentIntentID = intentID
	r.items[id] = order
	return order.Clone(), nil
}

// Delete удаляет заказ и сообщает, существовал ли он.
func (r *orderRepositoryInMemory) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *orderRepositoryInMemory) mutate(ctx context.Context, id string, apply func(order *domain.Order)) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	apply(&order)
	r.items[id] = order
	return order.Clone(), nil
}

// intentTaken вызывается под mu.
func (r *orderRepositoryInMemory) intentTaken(intentID, ownerID string) bool {
	if intentID == "" {
		return false
	}
	for id, order := range r.items {
		if id != ownerID && order.PaymentIntentID == intentID {
			return true
		}
	}
	return false
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
