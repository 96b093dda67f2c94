package file

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type orderItemRecord struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type customerRecord struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type orderRecord struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"createdAt"`
	Status          string            `json:"status"`
	Fulfillment     string            `json:"fulfillment"`
	PaymentMethod   string            `json:"paymentMethod"`
	Tip             decimal.Decimal   `json:"tip"`
	DeliveryFee     decimal.Decimal   `json:"deliveryFee"`
	Total           decimal.Decimal   `json:"total"`
	Items           []orderItemRecord `json:"items"`
	Customer        customerRecord    `json:"customer"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
}

type ordersDocument struct {
	Orders []orderRecord `json:"orders"`
}

// intentTaken сообщает, закреплён ли intent за заказом, отличным от ownerID.
func (d ordersDocument) intentTaken(intentID, ownerID string) bool {
	if intentID == "" {
		return false
	}
	for _, rec := range d.Orders {
		if rec.ID != ownerID && rec.PaymentIntentID == intentID {
			return true
		}
	}
	return false
}

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт файловую реализацию OrderRepository поверх orders.json.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}

	if doc.intentTaken(draft.PaymentIntentID, "") {
		return domain.Order{}, domain.ErrPaymentIntentClaimed
	}

	order := draft.Materialize(uuid.NewString(), r.store.now())
	doc.Orders = append([]orderRecord{toRecord(order)}, doc.Orders...)
	if err := r.store.writeJSON(ordersFile, doc); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}
	for _, rec := range doc.Orders {
		if rec.ID == id {
			return fromRecord(rec), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *orderRepository) List(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(doc.Orders))
	for _, rec := range doc.Orders {
		orders = append(orders, fromRecord(rec))
	}
	domain.SortMostRecentFirst(orders)
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	return r.mutate(ctx, id, func(_ ordersDocument, rec *orderRecord) error {
		rec.Status = string(status)
		return nil
	})
}

func (r *orderRepository) AttachPaymentIntent(ctx context.Context, id, intentID string) (domain.Order, error) {
	return r.mutate(ctx, id, func(doc ordersDocument, rec *orderRecord) error {
		if doc.intentTaken(intentID, id) {
			return domain.ErrPaymentIntentClaimed
		}
		rec.PaymentIntentID = intentID
		return nil
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return false, err
	}

	next := make([]orderRecord, 0, len(doc.Orders))
	for _, rec := range doc.Orders {
		if rec.ID != id {
			next = append(next, rec)
		}
	}
	if len(next) == len(doc.Orders) {
		return false, nil
	}

	doc.Orders = next
	if err := r.store.writeJSON(ordersFile, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (r *orderRepository) mutate(ctx context.Context, id string, apply func(doc ordersDocument, rec *orderRecord) error) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}

	for i := range doc.Orders {
		if doc.Orders[i].ID != id {
			continue
		}
		if err := apply(doc, &doc.Orders[i]); err != nil {
			return domain.Order{}, err
		}
		if err := r.store.writeJSON(ordersFile, doc); err != nil {
			return domain.Order{}, err
		}
		return fromRecord(doc.Orders[i]), nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *orderRepository) load() (ordersDocument, error) {
	var doc ordersDocument
	if _, err := r.store.readJSON(ordersFile, &doc); err != nil {
		return ordersDocument{}, err
	}
	return doc, nil
}

func toRecord(order domain.Order) orderRecord {
	items := make([]orderItemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemRecord{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}
	return orderRecord{
		ID:            order.ID,
		CreatedAt:     order.CreatedAt.UTC(),
		Status:        string(order.Status),
		Fulfillment:   string(order.Fulfillment),
		PaymentMethod: string(order.PaymentMethod),
		Tip:           order.Tip,
		DeliveryFee:   order.DeliveryFee,
		Total:         order.Total,
		Items:         items,
		Customer: customerRecord{
			Name:    order.Customer.Name,
			Email:   order.Customer.Email,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
		},
		PaymentIntentID: order.PaymentIntentID,
	}
}

func fromRecord(rec orderRecord) domain.Order {
	items := make([]domain.OrderItem, 0, len(rec.Items))
	for _, item := range rec.Items {
		items = append(items, domain.OrderItem{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}
	return domain.Order{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt.UTC(),
		Status:        domain.OrderStatus(rec.Status),
		Fulfillment:   domain.Fulfillment(rec.Fulfillment),
		PaymentMethod: domain.PaymentMethod(rec.PaymentMethod),
		Tip:           rec.Tip,
		DeliveryFee:   rec.DeliveryFee,
		Total:         rec.Total,
		Items:         items,
		Customer: domain.Customer{
			Name:    rec.Customer.Name,
			Email:   rec.Customer.Email,
			Phone:   rec.Customer.Phone,
			Address: rec.Customer.Address,
		},
		PaymentIntentID: rec.PaymentIntentID,
	}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
