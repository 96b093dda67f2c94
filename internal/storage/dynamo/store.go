package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const (
	attrPK = "PK"
	attrSK = "SK"

	orderPKPrefix = "ORDER#"
	orderSK       = "METADATA"

	settingsPK = "SETTINGS"
	settingsSK = "STORE"

	menuPK = "MENU"
	menuSK = "ITEMS"

	// Отдельный элемент на каждый payment intent: через него один intent закрепляется за одним заказом.
	intentPKPrefix = "INTENT#"
	intentClaimSK  = "CLAIM"

	defaultOpTimeout = 5 * time.Second
)

// API — подмножество клиента DynamoDB, которое использует хранилище.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store — таблица DynamoDB с single-table раскладкой PK/SK.
type Store struct {
	client    API
	table     string
	opTimeout time.Duration
}

// NewClient создаёт клиента DynamoDB из стандартной цепочки AWS-конфигурации.
// Непустой endpoint переопределяет адрес сервиса (DynamoDB Local, LocalStack).
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewStore оборачивает клиента и имя таблицы.
func NewStore(client API, table string, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Store{client: client, table: table, opTimeout: opTimeout}
}

// Ping проверяет, что таблица существует и доступна.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.client.DescribeTable(opCtx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return unavailable("describe table", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func orderKey(id string) map[string]types.AttributeValue {
	return itemKey(orderPKPrefix+id, orderSK)
}

func intentClaimKey(intentID string) map[string]types.AttributeValue {
	return itemKey(intentPKPrefix+intentID, intentClaimSK)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// transactConditionFailed сообщает, отклонила ли транзакция элемент с индексом idx по условию.
func transactConditionFailed(err error, idx int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || idx >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[idx].Code) == "ConditionalCheckFailed"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: dynamodb %s: %v", domain.ErrStorageUnavailable, op, err)
}
