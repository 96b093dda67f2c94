package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/metrics"
)

// Actor — кто инициирует изменение заказа.
type Actor struct {
	Admin bool
}

var (
	// CustomerActor — анонимный покупатель.
	CustomerActor = Actor{}
	// AdminActor — аутентифицированный администратор.
	AdminActor = Actor{Admin: true}
)

// PlaceOrderRequest — оформление заказа.
type PlaceOrderRequest struct {
	Draft domain.OrderDraft
	// SessionOrderID — заказ, уже созданный в этой сессии оформления.
	SessionOrderID string
}

// PlaceOrderResult — сохранённый заказ и client secret для оплаты картой.
type PlaceOrderResult struct {
	Order        domain.Order
	ClientSecret string
}

// IntentRequest — запрос payment intent для корзины или существующего заказа.
type IntentRequest struct {
	OrderID     string
	Items       []domain.OrderItem
	Fulfillment domain.Fulfillment
	Tip         decimal.Decimal
}

// IntentResult — данные для подтверждения оплаты на клиенте.
type IntentResult struct {
	OrderID         string
	PaymentIntentID string
	ClientSecret    string
	Status          domain.IntentStatus
	AmountMinor     int64
}

// Amount возвращает сумму intent в основных единицах.
func (r IntentResult) Amount() decimal.Decimal {
	return domain.FromMinorUnits(r.AmountMinor)
}

// FinalizeRequest — подтверждение оплаты заказа картой.
type FinalizeRequest struct {
	OrderID         string
	PaymentIntentID string
}

// UpdateStatusRequest — смена статуса через PATCH.
type UpdateStatusRequest struct {
	ID              string
	Status          domain.OrderStatus
	PaymentIntentID string
}

// Option настраивает Controller.
type Option func(*Controller)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithOutbox включает запись событий заказа в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(c *Controller) { c.outbox = outbox }
}

// WithCurrency задаёт валюту payment intent.
func WithCurrency(currency string) Option {
	return func(c *Controller) {
		if currency = strings.ToLower(strings.TrimSpace(currency)); currency != "" {
			c.currency = currency
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller управляет жизненным циклом заказа:
// NoOrder → Pending → {CashPending | AwaitingPayment} → Paid, удаление — из любого состояния.
type Controller struct {
	orders   domain.OrderRepository
	gate     domain.StoreStatusGate
	payments domain.PaymentGateway
	outbox   domain.OutboxRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	currency string
	now      func() time.Time
}

// NewController создаёт контроллер жизненного цикла заказа.
func NewController(orders domain.OrderRepository, gate domain.StoreStatusGate, payments domain.PaymentGateway, opts ...Option) *Controller {
	c := &Controller{
		orders:   orders,
		gate:     gate,
		payments: payments,
		logger:   log.New().WithField("component", "order-lifecycle"),
		currency: domain.DefaultCurrency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder оформляет заказ. Повтор с SessionOrderID от того же покупателя на ту же сумму
// возвращает уже созданный заказ.
func (c *Controller) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := c.ensureOpen(ctx); err != nil {
		return PlaceOrderResult{}, err
	}

	draft := req.Draft
	if err := validateDraft(&draft); err != nil {
		return PlaceOrderResult{}, err
	}

	if sessionID := strings.TrimSpace(req.SessionOrderID); sessionID != "" {
		existing, err := c.orders.Get(ctx, sessionID)
		switch {
		case err == nil && placedFrom(existing, draft):
			return c.resume(ctx, existing)
		case err == nil:
			// Чужой или изменённый заказ не раскрываем: оформляем новый.
			c.logger.WithField("order_id", sessionID).Warn("session order does not match the submitted draft, creating a new one")
		case errors.Is(err, domain.ErrOrderNotFound):
			c.logger.WithField("order_id", sessionID).Info("session order no longer exists, creating a new one")
		default:
			return PlaceOrderResult{}, err
		}
	}

	if draft.PaymentMethod == domain.PaymentMethodCash {
		draft.PaymentIntentID = ""
		order, err := c.orders.Create(ctx, draft)
		if err != nil {
			return PlaceOrderResult{}, fmt.Errorf("create order: %w", err)
		}
		c.recordCreated(ctx, order)
		return PlaceOrderResult{Order: order}, nil
	}

	// Intent, созданный заранее через /api/checkout, сверяем до сохранения заказа.
	var preset domain.PaymentIntent
	if presetID := strings.TrimSpace(draft.PaymentIntentID); presetID != "" {
		intent, err := c.getIntent(ctx, presetID)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		if intent.AmountMinor != domain.MinorUnits(draft.Total) {
			return PlaceOrderResult{}, reconciliation("payment intent amount does not match order total")
		}
		// Новый заказ ещё не имеет id, поэтому intent с чужим order_id или уже
		// списанный не может ему принадлежать.
		if intent.Metadata[domain.IntentMetaOrderID] != "" {
			return PlaceOrderResult{}, reconciliation("payment intent belongs to another order")
		}
		if intent.Status == domain.IntentStatusSucceeded {
			return PlaceOrderResult{}, reconciliation("payment intent has already been charged")
		}
		if intent.Status.Reusable() {
			preset = intent
		}
	}
	draft.PaymentIntentID = preset.ID

	order, err := c.orders.Create(ctx, draft)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentIntentClaimed) {
			c.logger.WithField("payment_intent_id", preset.ID).Warn("payment intent is already attached to another order")
		}
		return PlaceOrderResult{}, fmt.Errorf("create order: %w", err)
	}
	c.recordCreated(ctx, order)

	if preset.ID != "" {
		c.metrics.RecordIntentReused()
		return PlaceOrderResult{Order: order, ClientSecret: preset.ClientSecret}, nil
	}

	order, intent, err := c.replaceIntent(ctx, order)
	if err != nil {
		return PlaceOrderResult{Order: order}, &IntentError{OrderID: order.ID, Err: err}
	}
	return PlaceOrderResult{Order: order, ClientSecret: intent.ClientSecret}, nil
}

// resume возвращает заказ из текущей сессии, не создавая второй.
func (c *Controller) resume(ctx context.Context, order domain.Order) (PlaceOrderResult, error) {
	logger := c.logger.WithField("order_id", order.ID)
	if order.PaymentMethod != domain.PaymentMethodCard || order.Status != domain.OrderStatusPending {
		logger.Debug("session order already placed")
		return PlaceOrderResult{Order: order}, nil
	}

	order, intent, err := c.ensureIntent(ctx, order)
	if err != nil {
		return PlaceOrderResult{Order: order}, &IntentError{OrderID: order.ID, Err: err}
	}
	logger.Debug("session order resumed")
	return PlaceOrderResult{Order: order, ClientSecret: intent.ClientSecret}, nil
}

// CreatePaymentIntent создаёт intent для корзины либо обеспечивает ровно один рабочий intent у заказа.
func (c *Controller) CreatePaymentIntent(ctx context.Context, req IntentRequest) (IntentResult, error) {
	if err := c.ensureOpen(ctx); err != nil {
		return IntentResult{}, err
	}
	if len(req.Items) == 0 {
		return IntentResult{}, domain.ErrCartEmpty
	}

	fulfillment := req.Fulfillment
	if !fulfillment.Valid() {
		fulfillment = domain.FulfillmentPickup
	}
	quote := domain.QuoteCart(req.Items, fulfillment, req.Tip)
	if !domain.Chargeable(quote.Total) {
		return IntentResult{}, domain.ErrInvalidAmount
	}
	amount := quote.AmountMinor()

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		intent, err := c.createIntent(ctx, amount, fulfillment, quote.Tip, "", "")
		if err != nil {
			return IntentResult{}, err
		}
		return toIntentResult("", intent), nil
	}

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	switch {
	case order.Status == domain.OrderStatusPaid:
		return IntentResult{}, fmt.Errorf("%w: order %s is already paid", domain.ErrInvalidTransition, order.ID)
	case order.PaymentMethod != domain.PaymentMethodCard:
		return IntentResult{}, reconciliation("cash orders do not take card payments")
	case order.AmountMinor() != amount:
		return IntentResult{}, reconciliation("cart total does not match order total")
	}

	order, intent, err := c.ensureIntent(ctx, order)
	if err != nil {
		return IntentResult{}, err
	}
	return toIntentResult(order.ID, intent), nil
}

// ensureIntent переиспользует рабочий intent заказа, финализирует успешный
// и заменяет неуспешный новым.
func (c *Controller) ensureIntent(ctx context.Context, order domain.Order) (domain.Order, domain.PaymentIntent, error) {
	if order.PaymentIntentID == "" {
		return c.replaceIntent(ctx, order)
	}

	current, err := c.getIntent(ctx, order.PaymentIntentID)
	if err != nil {
		return order, domain.PaymentIntent{}, err
	}

	amountMatches := current.AmountMinor == order.AmountMinor()
	switch {
	case amountMatches && current.Status.Reusable():
		c.metrics.RecordIntentReused()
		return order, current, nil
	case amountMatches && current.Status == domain.IntentStatusSucceeded:
		paid, err := c.Finalize(ctx, FinalizeRequest{OrderID: order.ID, PaymentIntentID: current.ID})
		if err != nil {
			return order, domain.PaymentIntent{}, err
		}
		return paid, current, nil
	default:
		c.logger.WithFields(log.Fields{
			"order_id":       order.ID,
			"payment_intent": current.ID,
			"intent_status":  current.Status,
		}).Info("replacing unusable payment intent")
		return c.replaceIntent(ctx, order)
	}
}

// replaceIntent создаёт новый intent для заказа и прикрепляет его.
func (c *Controller) replaceIntent(ctx context.Context, order domain.Order) (domain.Order, domain.PaymentIntent, error) {
	previous := order.PaymentIntentID
	if previous == "" {
		previous = "initial"
	}
	idemKey := fmt.Sprintf("dormside-order-%s-%s", order.ID, previous)

	intent, err := c.createIntent(ctx, order.AmountMinor(), order.Fulfillment, order.Tip, order.ID, idemKey)
	if err != nil {
		return order, domain.PaymentIntent{}, err
	}

	updated, err := c.orders.AttachPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return order, domain.PaymentIntent{}, fmt.Errorf("attach payment intent: %w", err)
	}

	c.logger.WithFields(log.Fields{
		"order_id":       updated.ID,
		"payment_intent": intent.ID,
		"amount_minor":   intent.AmountMinor,
	}).Info("payment intent attached")
	c.emitEvent(ctx, updated, domain.EventOrderIntentAttached)

	return updated, intent, nil
}

// Finalize переводит заказ картой в paid после проверки intent у шлюза.
func (c *Controller) Finalize(ctx context.Context, req FinalizeRequest) (domain.Order, error) {
	order, err := c.orders.Get(ctx, strings.TrimSpace(req.OrderID))
	if err != nil {
		c.metrics.RecordFinalize(finalizeOutcome(err))
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusPaid {
		c.metrics.RecordFinalize(metrics.FinalizeAlreadyPaid)
		return order, nil
	}

	intent, err := c.verifyIntent(ctx, order, strings.TrimSpace(req.PaymentIntentID))
	if err != nil {
		c.metrics.RecordFinalize(finalizeOutcome(err))
		return order, err
	}

	if intent.Status != domain.IntentStatusSucceeded {
		c.metrics.RecordFinalize(metrics.FinalizeIncomplete)
		c.logger.WithFields(log.Fields{
			"order_id":      order.ID,
			"intent_status": intent.Status,
		}).Info("payment not complete yet")
		return order, &IncompleteError{Status: intent.Status}
	}

	if order.PaymentIntentID == "" {
		if order, err = c.orders.AttachPaymentIntent(ctx, order.ID, intent.ID); err != nil {
			c.metrics.RecordFinalize(metrics.FinalizeError)
			return domain.Order{}, fmt.Errorf("attach payment intent: %w", err)
		}
	}

	paid, err := c.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPaid)
	if err != nil {
		c.metrics.RecordFinalize(metrics.FinalizeError)
		return domain.Order{}, fmt.Errorf("mark order paid: %w", err)
	}

	c.metrics.RecordFinalize(metrics.FinalizePaid)
	c.metrics.RecordStatusChange(string(domain.OrderStatusPaid))
	c.logger.WithFields(log.Fields{
		"order_id":       paid.ID,
		"payment_intent": intent.ID,
		"amount_minor":   intent.AmountMinor,
	}).Info("order paid")
	c.emitEvent(ctx, paid, domain.EventOrderPaid)

	return paid, nil
}

// verifyIntent проверяет, что intent принадлежит заказу и покрывает его сумму.
func (c *Controller) verifyIntent(ctx context.Context, order domain.Order, intentID string) (domain.PaymentIntent, error) {
	if intentID == "" {
		return domain.PaymentIntent{}, reconciliation("payment intent id is required")
	}
	if order.PaymentMethod != domain.PaymentMethodCard {
		return domain.PaymentIntent{}, reconciliation("cash orders are settled by an administrator")
	}
	if order.PaymentIntentID != "" && order.PaymentIntentID != intentID {
		return domain.PaymentIntent{}, reconciliation("payment intent is not associated with the order")
	}

	intent, err := c.getIntent(ctx, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	// Без прикреплённого intent принадлежность подтверждает только metadata.
	if order.PaymentIntentID == "" && intent.Metadata[domain.IntentMetaOrderID] != order.ID {
		return domain.PaymentIntent{}, reconciliation("payment intent is not associated with the order")
	}
	if intent.AmountMinor != order.AmountMinor() {
		return domain.PaymentIntent{}, reconciliation("payment intent amount does not match order total")
	}
	return intent, nil
}

// UpdateStatus — смена статуса через PATCH.
// paid от покупателя проходит через Finalize, остальные переходы доступны только администратору.
func (c *Controller) UpdateStatus(ctx context.Context, actor Actor, req UpdateStatusRequest) (domain.Order, error) {
	status := domain.OrderStatus(strings.TrimSpace(string(req.Status)))
	if !status.Valid() {
		return domain.Order{}, domain.NewValidationError([]error{domain.ErrStatusInvalid})
	}

	if !actor.Admin {
		if status != domain.OrderStatusPaid {
			return domain.Order{}, fmt.Errorf("%w: only an administrator can set status %s", domain.ErrUnauthorized, status)
		}
		return c.Finalize(ctx, FinalizeRequest{OrderID: req.ID, PaymentIntentID: req.PaymentIntentID})
	}

	order, err := c.orders.Get(ctx, strings.TrimSpace(req.ID))
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == status {
		return order, nil
	}
	if order.Status == domain.OrderStatusPaid {
		return order, fmt.Errorf("%w: order %s is already paid", domain.ErrInvalidTransition, order.ID)
	}

	updated, err := c.orders.UpdateStatus(ctx, order.ID, status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}

	c.metrics.RecordStatusChange(string(status))
	c.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"from":     order.Status,
		"to":       updated.Status,
	}).Info("order status changed by administrator")

	event := domain.EventOrderStatusChanged
	if status == domain.OrderStatusPaid {
		event = domain.EventOrderPaid
	}
	c.emitEvent(ctx, updated, event)

	return updated, nil
}

// Delete удаляет заказ из любого состояния.
func (c *Controller) Delete(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	order, getErr := c.orders.Get(ctx, id)
	removed, err := c.orders.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	if !removed {
		return false, nil
	}

	c.metrics.RecordOrderDeleted()
	c.logger.WithField("order_id", id).Info("order deleted")
	if getErr != nil {
		order = domain.Order{ID: id}
	}
	c.emitEvent(ctx, order, domain.EventOrderDeleted)

	return true, nil
}

// List возвращает заказы, самые новые первыми.
func (c *Controller) List(ctx context.Context) ([]domain.Order, error) {
	return c.orders.List(ctx)
}

// Get возвращает заказ по идентификатору.
func (c *Controller) Get(ctx context.Context, id string) (domain.Order, error) {
	return c.orders.Get(ctx, strings.TrimSpace(id))
}

func (c *Controller) ensureOpen(ctx context.Context) error {
	open, err := c.gate.IsAcceptingOrders(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if !open {
		c.metrics.RecordOrdersClosedRejection()
		return domain.ErrOrdersClosed
	}
	return nil
}

func (c *Controller) createIntent(ctx context.Context, amountMinor int64, fulfillment domain.Fulfillment, tip decimal.Decimal, orderID, idemKey string) (domain.PaymentIntent, error) {
	metadata := map[string]string{
		domain.IntentMetaOrderSource: domain.OrderSourceDormside,
		domain.IntentMetaFulfillment: string(fulfillment),
		domain.IntentMetaTip:         tip.StringFixed(2),
	}
	if orderID != "" {
		metadata[domain.IntentMetaOrderID] = orderID
	}

	start := time.Now()
	intent, err := c.payments.CreateIntent(ctx, domain.IntentParams{
		AmountMinor:    amountMinor,
		Currency:       c.currency,
		Metadata:       metadata,
		IdempotencyKey: idemKey,
	})
	c.metrics.ObserveGatewayCall("create_intent", err, time.Since(start))
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("create payment intent failed")
		return domain.PaymentIntent{}, asGatewayError(err)
	}

	c.metrics.RecordIntentCreated()
	return intent, nil
}

func (c *Controller) getIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	start := time.Now()
	intent, err := c.payments.GetIntent(ctx, id)
	c.metrics.ObserveGatewayCall("get_intent", err, time.Since(start))
	if err != nil {
		return domain.PaymentIntent{}, asGatewayError(err)
	}
	return intent, nil
}

func (c *Controller) recordCreated(ctx context.Context, order domain.Order) {
	c.metrics.RecordOrderCreated(string(order.PaymentMethod))
	c.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_method": order.PaymentMethod,
		"fulfillment":    order.Fulfillment,
		"total":          order.Total.StringFixed(2),
	}).Info("order created")
	c.emitEvent(ctx, order, domain.EventOrderCreated)
}

type orderEvent struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Fulfillment     string `json:"fulfillment,omitempty"`
	Total           string `json:"total,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

// emitEvent пишет событие в outbox; ошибка не прерывает операцию.
func (c *Controller) emitEvent(ctx context.Context, order domain.Order, eventType string) {
	if c.outbox == nil {
		return
	}

	event := orderEvent{
		OrderID:         order.ID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		Fulfillment:     string(order.Fulfillment),
		PaymentIntentID: order.PaymentIntentID,
		CustomerEmail:   order.Customer.Email,
		OccurredAt:      c.now().UTC().Format(time.RFC3339Nano),
	}
	if order.Status != "" {
		event.Total = order.Total.StringFixed(2)
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := c.outbox.Enqueue(ctx, msg); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	c.metrics.RecordOutboxEvent()
}

// validateDraft нормализует черновик и проверяет его до любых внешних вызовов.
func validateDraft(draft *domain.OrderDraft) error {
	draft.Normalize()

	reasons := draft.ValidateInvariants()
	if draft.Status != "" && draft.Status.Valid() && draft.Status != draft.PaymentMethod.InitialStatus() {
		reasons = append(reasons, domain.ErrStatusMethodMismatch)
	}
	if err := domain.NewValidationError(reasons); err != nil {
		return err
	}

	if !domain.Chargeable(draft.Total) {
		return domain.ErrInvalidAmount
	}

	draft.Status = draft.PaymentMethod.InitialStatus()
	return nil
}

// placedFrom сообщает, что сохранённый заказ оформлен тем же покупателем на ту же сумму.
func placedFrom(order domain.Order, draft domain.OrderDraft) bool {
	return strings.EqualFold(strings.TrimSpace(order.Customer.Email), draft.Customer.Email) &&
		strings.EqualFold(strings.TrimSpace(order.Customer.Name), draft.Customer.Name) &&
		order.PaymentMethod == draft.PaymentMethod &&
		order.AmountMinor() == domain.MinorUnits(draft.Total)
}

func toIntentResult(orderID string, intent domain.PaymentIntent) IntentResult {
	return IntentResult{
		OrderID:         orderID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Status:          intent.Status,
		AmountMinor:     intent.AmountMinor,
	}
}

func asGatewayError(err error) error {
	if errors.Is(err, domain.ErrGateway) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrGateway, err)
}

func finalizeOutcome(err error) string {
	if errors.Is(err, domain.ErrReconciliation) {
		return metrics.FinalizeReconciliation
	}
	return metrics.FinalizeError
}
