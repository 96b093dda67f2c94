package lifecycle

import (
	"fmt"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

// IntentError сообщает, что заказ уже сохранён, но payment intent создать не удалось.
// Клиент повторяет запрос с OrderID, и новый заказ не создаётся.
type IntentError struct {
	OrderID string
	Err     error
}

func (e *IntentError) Error() string {
	return fmt.Sprintf("order %s saved without payment intent: %v", e.OrderID, e.Err)
}

func (e *IntentError) Unwrap() error {
	return e.Err
}

// IncompleteError — шлюз ещё не подтвердил оплату; заказ остаётся pending.
type IncompleteError struct {
	Status domain.IntentStatus
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: intent status %s", domain.ErrPaymentIncomplete.Error(), e.Status)
}

func (e *IncompleteError) Unwrap() error {
	return domain.ErrPaymentIncomplete
}

func reconciliation(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrReconciliation, reason)
}
