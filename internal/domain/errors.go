package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation — общий маркер ошибок валидации входящего заказа.
	ErrValidation = errors.New("invalid order")
	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка позиции без названия.
	ErrItemNameRequired = errors.New("item name is required")
	// Ошибка при некорректном количестве позиции (< 1).
	ErrItemQtyInvalid = errors.New("item quantity must be at least one")
	// Ошибка отсутствующего адреса для доставки.
	ErrAddressRequired = errors.New("delivery address is required")
	// Ошибка неизвестного способа получения.
	ErrFulfillmentInvalid = errors.New("fulfillment must be pickup or delivery")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method must be cash or card")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("status must be pending, cash_pending or paid")
	// Ошибка отрицательной денежной суммы.
	ErrAmountNegative = errors.New("money amounts must be non-negative")
	// Ошибка несоответствия стоимости доставки политике магазина.
	ErrDeliveryFeeMismatch = errors.New("delivery fee does not match fulfillment")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// ErrStatusMethodMismatch — клиент прислал статус, несовместимый со способом оплаты.
	ErrStatusMethodMismatch = errors.New("status does not match payment method")
	// ErrCartEmpty — попытка оплатить пустую корзину.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrInvalidAmount — итоговая сумма к оплате не положительна.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnauthorized — операция требует прав администратора.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrdersClosed — магазин не принимает заказы.
	ErrOrdersClosed = errors.New("orders are closed")
	// ErrGateway — ошибка платёжного шлюза; сообщение провайдера передаётся дальше.
	ErrGateway = errors.New("payment gateway error")
	// ErrStorageUnavailable — хранилище недоступно или не настроено для текущего окружения.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrReconciliation — payment intent не соответствует заказу.
	ErrReconciliation = errors.New("payment intent does not match order")
	// ErrPaymentIntentClaimed — payment intent уже закреплён за другим заказом.
	ErrPaymentIntentClaimed = fmt.Errorf("%w: payment intent belongs to another order", ErrReconciliation)
	// ErrPaymentIncomplete — шлюз ещё не подтвердил оплату.
	ErrPaymentIncomplete = errors.New("payment is not complete")
	// ErrInvalidTransition — запрещённый переход статуса (например, из paid).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован для другого запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError собирает все нарушения инвариантов заказа.
type ValidationError struct {
	Reasons []error
}

// NewValidationError возвращает nil, если замечаний нет.
func NewValidationError(reasons []error) error {
	if len(reasons) == 0 {
		return nil
	}
	return &ValidationError{Reasons: reasons}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		parts = append(parts, reason.Error())
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap позволяет errors.Is находить как ErrValidation, так и конкретные причины.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.Reasons...)
}

// IsRetryable сообщает, можно ли безопасно повторить запрос после ошибки.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGateway) || errors.Is(err, ErrStorageUnavailable)
}
