package dynamo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type orderItemAttr struct {
	Name     string `dynamodbav:"name"`
	Price    string `dynamodbav:"price"`
	Quantity int    `dynamodbav:"quantity"`
}

type customerAttr struct {
	Name    string `dynamodbav:"name"`
	Email   string `dynamodbav:"email,omitempty"`
	Phone   string `dynamodbav:"phone,omitempty"`
	Address string `dynamodbav:"address,omitempty"`
}

// Денежные суммы хранятся строками, чтобы не терять точность numeric.
type orderAttr struct {
	PK              string          `dynamodbav:"PK"`
	SK              string          `dynamodbav:"SK"`
	ID              string          `dynamodbav:"id"`
	CreatedAt       time.Time       `dynamodbav:"created_at"`
	Status          string          `dynamodbav:"status"`
	Fulfillment     string          `dynamodbav:"fulfillment"`
	PaymentMethod   string          `dynamodbav:"payment_method"`
	Tip             string          `dynamodbav:"tip"`
	DeliveryFee     string          `dynamodbav:"delivery_fee"`
	Total           string          `dynamodbav:"total"`
	Items           []orderItemAttr `dynamodbav:"items"`
	Customer        customerAttr    `dynamodbav:"customer"`
	PaymentIntentID string          `dynamodbav:"payment_intent_id,omitempty"`
}

type intentClaimAttr struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	OrderID string `dynamodbav:"order_id"`
}

type orderRepository struct {
	store *Store
	now   func() time.Time
}

// NewOrderRepository создаёт DynamoDB-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store, now: time.Now}
}

// Create сохраняет заказ; заказ с payment intent пишется в одной транзакции с claim этого intent.
func (r *orderRepository) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	order := draft.Materialize(uuid.NewString(), r.now())

	av, err := attributevalue.MarshalMap(toAttr(order))
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal order: %w", err)
	}

	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if order.PaymentIntentID == "" {
		_, err = r.store.client.PutItem(opCtx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.store.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err != nil {
			return domain.Order{}, unavailable("put order", err)
		}
		return order, nil
	}

	claim, err := r.claimItem(order.PaymentIntentID, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	_, err = r.store.client.TransactWriteItems(opCtx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.store.table),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.store.table),
				Item:                claim,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	switch {
	case err == nil:
		return order, nil
	case transactConditionFailed(err, 1):
		return domain.Order{}, domain.ErrPaymentIntentClaimed
	default:
		return domain.Order{}, unavailable("put order with intent claim", err)
	}
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	out, err := r.store.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.store.table),
		Key:            orderKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Order{}, unavailable("get order", err)
	}
	if len(out.Item) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return decodeOrder(out.Item)
}

func (r *orderRepository) List(ctx context.Context) ([]domain.Order, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	orders := make([]domain.Order, 0)
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.store.client.Scan(opCtx, &dynamodb.ScanInput{
			TableName:        aws.String(r.store.table),
			FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: orderPKPrefix},
				":sk":     &types.AttributeValueMemberS{Value: orderSK},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, unavailable("scan orders", err)
		}

		for _, item := range out.Items {
			order, err := decodeOrder(item)
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	domain.SortMostRecentFirst(orders)
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	return r.setField(ctx, id, "status", &types.AttributeValueMemberS{Value: string(status)})
}

// AttachPaymentIntent в одной транзакции обновляет заказ и закрепляет intent за ним.
func (r *orderRepository) AttachPaymentIntent(ctx context.Context, id, intentID string) (domain.Order, error) {
	if intentID == "" {
		return r.setField(ctx, id, "payment_intent_id", &types.AttributeValueMemberS{Value: intentID})
	}

	claim, err := r.claimItem(intentID, id)
	if err != nil {
		return domain.Order{}, err
	}

	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err = r.store.client.TransactWriteItems(opCtx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                aws.String(r.store.table),
				Key:                      orderKey(id),
				UpdateExpression:         aws.String("SET #f = :v"),
				ConditionExpression:      aws.String("attribute_exists(PK)"),
				ExpressionAttributeNames: map[string]string{"#f": "payment_intent_id"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":v": &types.AttributeValueMemberS{Value: intentID},
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.store.table),
				Item:                claim,
				ConditionExpression: aws.String("attribute_not_exists(PK) OR order_id = :order"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":order": &types.AttributeValueMemberS{Value: id},
				},
			}},
		},
	})
	switch {
	case err == nil:
	case transactConditionFailed(err, 0):
		return domain.Order{}, domain.ErrOrderNotFound
	case transactConditionFailed(err, 1):
		return domain.Order{}, domain.ErrPaymentIntentClaimed
	default:
		return domain.Order{}, unavailable("attach payment intent", err)
	}

	out, err := r.store.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.store.table),
		Key:            orderKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Order{}, unavailable("get order", err)
	}
	if len(out.Item) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return decodeOrder(out.Item)
}

// Delete удаляет заказ и снимает claim его текущего payment intent.
func (r *orderRepository) Delete(ctx context.Context, id string) (bool, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	out, err := r.store.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.store.table),
		Key:          orderKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, unavailable("delete order", err)
	}
	if len(out.Attributes) == 0 {
		return false, nil
	}

	if intent, ok := out.Attributes["payment_intent_id"].(*types.AttributeValueMemberS); ok && intent.Value != "" {
		// Оставшийся claim лишь запрещает переиспользовать intent, заказ уже удалён.
		_, _ = r.store.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(r.store.table),
			Key:                 intentClaimKey(intent.Value),
			ConditionExpression: aws.String("order_id = :order"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":order": &types.AttributeValueMemberS{Value: id},
			},
		})
	}
	return true, nil
}

func (r *orderRepository) claimItem(intentID, orderID string) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(intentClaimAttr{
		PK:      intentPKPrefix + intentID,
		SK:      intentClaimSK,
		OrderID: orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent claim: %w", err)
	}
	return av, nil
}

// setField атомарно перезаписывает одно поле существующего заказа.
func (r *orderRepository) setField(ctx context.Context, id, field string, value types.AttributeValue) (domain.Order, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	out, err := r.store.client.UpdateItem(opCtx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.store.table),
		Key:                      orderKey(id),
		UpdateExpression:         aws.String("SET #f = :v"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": value,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("update order "+field, err)
	}

	return decodeOrder(out.Attributes)
}

func toAttr(order domain.Order) orderAttr {
	items := make([]orderItemAttr, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemAttr{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}
	return orderAttr{
		PK:            orderPKPrefix + order.ID,
		SK:            orderSK,
		ID:            order.ID,
		CreatedAt:     order.CreatedAt.UTC(),
		Status:        string(order.Status),
		Fulfillment:   string(order.Fulfillment),
		PaymentMethod: string(order.PaymentMethod),
		Tip:           order.Tip.String(),
		DeliveryFee:   order.DeliveryFee.String(),
		Total:         order.Total.String(),
		Items:         items,
		Customer: customerAttr{
			Name:    order.Customer.Name,
			Email:   order.Customer.Email,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
		},
		PaymentIntentID: order.PaymentIntentID,
	}
}

func decodeOrder(item map[string]types.AttributeValue) (domain.Order, error) {
	var attr orderAttr
	if err := attributevalue.UnmarshalMap(item, &attr); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}

	tip, err := parseAmount(attr.Tip)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s tip: %w", attr.ID, err)
	}
	fee, err := parseAmount(attr.DeliveryFee)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s delivery fee: %w", attr.ID, err)
	}
	total, err := parseAmount(attr.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", attr.ID, err)
	}

	id := attr.ID
	if id == "" {
		id = strings.TrimPrefix(attr.PK, orderPKPrefix)
	}

	items := make([]domain.OrderItem, 0, len(attr.Items))
	for _, it := range attr.Items {
		items = append(items, domain.OrderItem{Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}

	return domain.Order{
		ID:            id,
		CreatedAt:     attr.CreatedAt.UTC(),
		Status:        domain.OrderStatus(attr.Status),
		Fulfillment:   domain.Fulfillment(attr.Fulfillment),
		PaymentMethod: domain.PaymentMethod(attr.PaymentMethod),
		Tip:           tip,
		DeliveryFee:   fee,
		Total:         total,
		Items:         items,
		Customer: domain.Customer{
			Name:    attr.Customer.Name,
			Email:   attr.Customer.Email,
			Phone:   attr.Customer.Phone,
			Address: attr.Customer.Address,
		},
		PaymentIntentID: attr.PaymentIntentID,
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
