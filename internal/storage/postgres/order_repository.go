package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

// paymentIntentIndex — частичный уникальный индекс, закрепляющий intent за одним заказом.
const paymentIntentIndex = "idx_orders_payment_intent_id"

const orderColumns = `id, created_at, status, fulfillment, payment_method, tip, delivery_fee, total, items, customer, payment_intent_id`

type itemJSON struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type customerJSON struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

type orderRepository struct {
	store *Store
	now   func() time.Time
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store, now: time.Now}
}

func (r *orderRepository) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	order := draft.Materialize(uuid.NewString(), r.now())

	itemsRaw, customerRaw, err := encodeOrderDocuments(order)
	if err != nil {
		return domain.Order{}, err
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	_, err = conn.ExecContext(opCtx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.ID, order.CreatedAt, string(order.Status), string(order.Fulfillment), string(order.PaymentMethod),
		order.Tip, order.DeliveryFee, order.Total, string(itemsRaw), string(customerRaw), nullString(order.PaymentIntentID),
	)
	if err != nil {
		if isUniqueViolation(err, paymentIntentIndex) {
			return domain.Order{}, domain.ErrPaymentIntentClaimed
		}
		return domain.Order{}, unavailable("insert order", err)
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	order, err := scanOrder(conn.QueryRowContext(opCtx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("select order", err)
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context) ([]domain.Order, error) {
	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(opCtx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, unavailable("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order rows", err)
	}

	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	return r.updateReturning(ctx, id, "update order status", `
		UPDATE orders
		SET status = $2
		WHERE id = $1
		RETURNING `+orderColumns, string(status))
}

func (r *orderRepository) AttachPaymentIntent(ctx context.Context, id, intentID string) (domain.Order, error) {
	return r.updateReturning(ctx, id, "attach payment intent", `
		UPDATE orders
		SET payment_intent_id = $2
		WHERE id = $1
		RETURNING `+orderColumns, nullString(intentID))
}

func (r *orderRepository) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	res, err := conn.ExecContext(opCtx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, unavailable("delete order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *orderRepository) updateReturning(ctx context.Context, id, op, query string, value any) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	order, err := scanOrder(conn.QueryRowContext(opCtx, query, id, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		if isUniqueViolation(err, paymentIntentIndex) {
			return domain.Order{}, domain.ErrPaymentIntentClaimed
		}
		return domain.Order{}, unavailable(op, err)
	}
	return order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		fulfillment   string
		paymentMethod string
		itemsRaw      []byte
		customerRaw   []byte
		intentID      sql.NullString
	)

	if err := row.Scan(
		&order.ID, &order.CreatedAt, &status, &fulfillment, &paymentMethod,
		&order.Tip, &order.DeliveryFee, &order.Total, &itemsRaw, &customerRaw, &intentID,
	); err != nil {
		return domain.Order{}, err
	}

	var items []itemJSON
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	var customer customerJSON
	if err := json.Unmarshal(customerRaw, &customer); err != nil {
		return domain.Order{}, fmt.Errorf("decode order customer: %w", err)
	}

	order.CreatedAt = order.CreatedAt.UTC()
	order.Status = domain.OrderStatus(status)
	order.Fulfillment = domain.Fulfillment(fulfillment)
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.PaymentIntentID = intentID.String
	order.Customer = domain.Customer{
		Name:    customer.Name,
		Email:   customer.Email,
		Phone:   customer.Phone,
		Address: customer.Address,
	}
	order.Items = make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}

	return order, nil
}

func encodeOrderDocuments(order domain.Order) ([]byte, []byte, error) {
	items := make([]itemJSON, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemJSON{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}
	itemsRaw, err := json.Marshal(items)
	if err != nil {
		return nil, nil, fmt.Errorf("encode order items: %w", err)
	}

	customerRaw, err := json.Marshal(customerJSON{
		Name:    order.Customer.Name,
		Email:   order.Customer.Email,
		Phone:   order.Customer.Phone,
		Address: order.Customer.Address,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode order customer: %w", err)
	}

	return itemsRaw, customerRaw, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
