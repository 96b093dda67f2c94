package domain

// IntentStatus — нормализованный статус payment intent у платёжного шлюза.
type IntentStatus string

const (
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusProcessing     IntentStatus = "processing"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusFailed         IntentStatus = "failed"
	IntentStatusCanceled       IntentStatus = "canceled"
)

// Reusable сообщает, можно ли продолжить оплату по этому intent, не создавая новый.
func (s IntentStatus) Reusable() bool {
	return s == IntentStatusProcessing || s == IntentStatusRequiresAction
}

// Terminal сообщает, что intent больше не изменится.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed || s == IntentStatusCanceled
}

// IntentParams — параметры создания payment intent.
type IntentParams struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent — внешний объект шлюза; в заказе хранится только его ID.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// Metadata keys, которые магазин записывает в payment intent.
const (
	IntentMetaOrderSource = "order_source"
	IntentMetaFulfillment = "fulfillment"
	IntentMetaTip         = "tip"
	IntentMetaOrderID     = "order_id"

	OrderSourceDormside = "dormside"
)
