package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата картой ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCashPending — заказ оплачивается наличными при получении.
	OrderStatusCashPending OrderStatus = "cash_pending"
	// OrderStatusPaid — оплата подтверждена; терминальное состояние.
	OrderStatusPaid OrderStatus = "paid"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCashPending, OrderStatusPaid:
		return true
	default:
		return false
	}
}

// Fulfillment — способ получения заказа.
type Fulfillment string

const (
	FulfillmentPickup   Fulfillment = "pickup"
	FulfillmentDelivery Fulfillment = "delivery"
)

func (f Fulfillment) Valid() bool {
	return f == FulfillmentPickup || f == FulfillmentDelivery
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCash || m == PaymentMethodCard
}

// InitialStatus возвращает статус, с которым создаётся заказ для данного способа оплаты.
func (m PaymentMethod) InitialStatus() OrderStatus {
	if m == PaymentMethodCash {
		return OrderStatusCashPending
	}
	return OrderStatusPending
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	Name string
	// Price — строка цены из меню (например, "$9.50").
	Price    string
	Quantity int
}

// UnitPrice разбирает строку цены позиции.
func (i OrderItem) UnitPrice() decimal.Decimal {
	return ParsePrice(i.Price)
}

// LineTotal возвращает цену позиции с учётом количества.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer — контактные данные покупателя.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// Order агрегирует состояние заказа.
type Order struct {
	ID              string
	CreatedAt       time.Time
	Status          OrderStatus
	Fulfillment     Fulfillment
	PaymentMethod   PaymentMethod
	Tip             decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	Items           []OrderItem
	Customer        Customer
	PaymentIntentID string
}

// AmountMinor возвращает итог заказа в минимальных денежных единицах.
func (o Order) AmountMinor() int64 {
	return MinorUnits(o.Total)
}

// Clone возвращает копию заказа, не разделяющую срез позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}

// OrderDraft — данные заказа до того, как хранилище присвоит ID и время создания.
type OrderDraft struct {
	Status          OrderStatus
	Fulfillment     Fulfillment
	PaymentMethod   PaymentMethod
	Tip             decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	Items           []OrderItem
	Customer        Customer
	PaymentIntentID string
}

// Materialize превращает черновик в заказ с выданными хранилищем полями.
func (d OrderDraft) Materialize(id string, createdAt time.Time) Order {
	return Order{
		ID:              id,
		CreatedAt:       createdAt.UTC(),
		Status:          d.Status,
		Fulfillment:     d.Fulfillment,
		PaymentMethod:   d.PaymentMethod,
		Tip:             d.Tip,
		DeliveryFee:     d.DeliveryFee,
		Total:           d.Total,
		Items:           append([]OrderItem(nil), d.Items...),
		Customer:        d.Customer,
		PaymentIntentID: d.PaymentIntentID,
	}
}

// Normalize обрезает пробелы в пользовательских строках.
func (d *OrderDraft) Normalize() {
	d.Customer.Name = strings.TrimSpace(d.Customer.Name)
	d.Customer.Email = strings.TrimSpace(d.Customer.Email)
	d.Customer.Phone = strings.TrimSpace(d.Customer.Phone)
	d.Customer.Address = strings.TrimSpace(d.Customer.Address)
	for i := range d.Items {
		d.Items[i].Name = strings.TrimSpace(d.Items[i].Name)
		d.Items[i].Price = strings.TrimSpace(d.Items[i].Price)
	}
}

// ValidateInvariants проверяет инварианты черновика и возвращает список замечаний.
func (d *OrderDraft) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(d.Customer.Name) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if len(d.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !d.Fulfillment.Valid() {
		errs = append(errs, ErrFulfillmentInvalid)
	}
	if !d.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if d.Status != "" && !d.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if d.Fulfillment == FulfillmentDelivery && strings.TrimSpace(d.Customer.Address) == "" {
		errs = append(errs, ErrAddressRequired)
	}
	if d.Tip.IsNegative() || d.DeliveryFee.IsNegative() || d.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	for _, item := range d.Items {
		if strings.TrimSpace(item.Name) == "" {
			errs = append(errs, ErrItemNameRequired)
			break
		}
	}
	for _, item := range d.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
			break
		}
	}

	if d.Fulfillment.Valid() && !d.DeliveryFee.Equal(DeliveryFeeFor(d.Fulfillment)) {
		errs = append(errs, ErrDeliveryFeeMismatch)
	}

	// Сверяем итог с суммой позиций с точностью до цента: Σ price*qty + доставка + чаевые.
	quote := QuoteCart(d.Items, d.Fulfillment, d.Tip)
	if MinorUnits(quote.Total) != MinorUnits(d.Total) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// SortMostRecentFirst упорядочивает заказы по убыванию CreatedAt, затем ID.
func SortMostRecentFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}
