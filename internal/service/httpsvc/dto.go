package httpsvc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type orderItemDTO struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type customerDTO struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type orderDTO struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"createdAt"`
	Status          string         `json:"status"`
	Fulfillment     string         `json:"fulfillment"`
	PaymentMethod   string         `json:"paymentMethod"`
	Tip             float64        `json:"tip"`
	DeliveryFee     float64        `json:"deliveryFee"`
	Total           float64        `json:"total"`
	Items           []orderItemDTO `json:"items"`
	Customer        customerDTO    `json:"customer"`
	PaymentIntentID string         `json:"paymentIntentId,omitempty"`
}

// placeOrderRequest — тело POST /api/orders. Денежные поля принимаются числом или строкой.
type placeOrderRequest struct {
	Fulfillment     string          `json:"fulfillment"`
	PaymentMethod   string          `json:"paymentMethod"`
	Tip             decimal.Decimal `json:"tip"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	Total           decimal.Decimal `json:"total"`
	Items           []orderItemDTO  `json:"items"`
	Customer        customerDTO     `json:"customer"`
	Status          string          `json:"status"`
	OrderID         string          `json:"orderId"`
	PaymentIntentID string          `json:"paymentIntentId"`
}

type updateStatusRequest struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type deleteOrderRequest struct {
	ID string `json:"id"`
}

type checkoutRequest struct {
	Items          []orderItemDTO  `json:"items"`
	DeliveryOption string          `json:"deliveryOption"`
	Tip            decimal.Decimal `json:"tip"`
	OrderID        string          `json:"orderId"`
}

type checkoutResponse struct {
	ClientSecret    string  `json:"clientSecret"`
	PaymentIntentID string  `json:"paymentIntentId"`
	Amount          float64 `json:"amount"`
	OrderID         string  `json:"orderId,omitempty"`
}

type settingsDTO struct {
	IsOpen *bool `json:"isOpen"`
}

type menuItemDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type menuDTO struct {
	Items []menuItemDTO `json:"items"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r placeOrderRequest) toDraft() domain.OrderDraft {
	return domain.OrderDraft{
		Status:          domain.OrderStatus(r.Status),
		Fulfillment:     domain.Fulfillment(r.Fulfillment),
		PaymentMethod:   domain.PaymentMethod(r.PaymentMethod),
		Tip:             r.Tip,
		DeliveryFee:     r.DeliveryFee,
		Total:           r.Total,
		Items:           toItems(r.Items),
		Customer:        domain.Customer(r.Customer),
		PaymentIntentID: r.PaymentIntentID,
	}
}

func toItems(items []orderItemDTO) []domain.OrderItem {
	if items == nil {
		return nil
	}
	result := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		result = append(result, domain.OrderItem(item))
	}
	return result
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO(item))
	}
	return orderDTO{
		ID:              order.ID,
		CreatedAt:       order.CreatedAt.UTC(),
		Status:          string(order.Status),
		Fulfillment:     string(order.Fulfillment),
		PaymentMethod:   string(order.PaymentMethod),
		Tip:             order.Tip.InexactFloat64(),
		DeliveryFee:     order.DeliveryFee.InexactFloat64(),
		Total:           order.Total.InexactFloat64(),
		Items:           items,
		Customer:        customerDTO(order.Customer),
		PaymentIntentID: order.PaymentIntentID,
	}
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	result := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderDTO(order))
	}
	return result
}

func toMenuDTO(items []domain.MenuItem) menuDTO {
	result := make([]menuItemDTO, 0, len(items))
	for _, item := range items {
		result = append(result, menuItemDTO(item))
	}
	return menuDTO{Items: result}
}

func (m menuDTO) toDomain() []domain.MenuItem {
	result := make([]domain.MenuItem, 0, len(m.Items))
	for _, item := range m.Items {
		result = append(result, domain.MenuItem(item))
	}
	return result
}
