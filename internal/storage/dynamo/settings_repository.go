package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type settingsAttr struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	IsOpen bool   `dynamodbav:"is_open"`
}

type settingsRepository struct {
	store *Store
}

// NewSettingsRepository хранит настройки витрины в элементе PK=SETTINGS.
func NewSettingsRepository(store *Store) domain.SettingsRepository {
	return &settingsRepository{store: store}
}

func (r *settingsRepository) Get(ctx context.Context) (domain.StoreSettings, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	out, err := r.store.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.store.table),
		Key:            itemKey(settingsPK, settingsSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.StoreSettings{}, unavailable("get settings", err)
	}
	if len(out.Item) == 0 {
		return domain.DefaultStoreSettings(), nil
	}

	var attr settingsAttr
	if err := attributevalue.UnmarshalMap(out.Item, &attr); err != nil {
		return domain.StoreSettings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return domain.StoreSettings{IsOpen: attr.IsOpen}, nil
}

func (r *settingsRepository) Update(ctx context.Context, settings domain.StoreSettings) (domain.StoreSettings, error) {
	av, err := attributevalue.MarshalMap(settingsAttr{PK: settingsPK, SK: settingsSK, IsOpen: settings.IsOpen})
	if err != nil {
		return domain.StoreSettings{}, fmt.Errorf("marshal settings: %w", err)
	}

	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if _, err := r.store.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(r.store.table),
		Item:      av,
	}); err != nil {
		return domain.StoreSettings{}, unavailable("put settings", err)
	}
	return settings, nil
}

type menuItemAttr struct {
	Name        string `dynamodbav:"name"`
	Description string `dynamodbav:"description"`
	Price       string `dynamodbav:"price"`
}

type menuAttr struct {
	PK    string         `dynamodbav:"PK"`
	SK    string         `dynamodbav:"SK"`
	Items []menuItemAttr `dynamodbav:"items"`
}

type menuRepository struct {
	store *Store
}

// NewMenuRepository хранит меню одним документом PK=MENU.
func NewMenuRepository(store *Store) domain.MenuRepository {
	return &menuRepository{store: store}
}

func (r *menuRepository) Get(ctx context.Context) ([]domain.MenuItem, error) {
	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	out, err := r.store.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.store.table),
		Key:            itemKey(menuPK, menuSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get menu", err)
	}

	items := make([]domain.MenuItem, 0)
	if len(out.Item) == 0 {
		return items, nil
	}

	var attr menuAttr
	if err := attributevalue.UnmarshalMap(out.Item, &attr); err != nil {
		return nil, fmt.Errorf("unmarshal menu: %w", err)
	}
	for _, item := range attr.Items {
		items = append(items, domain.MenuItem{Name: item.Name, Description: item.Description, Price: item.Price})
	}
	return items, nil
}

func (r *menuRepository) Replace(ctx context.Context, items []domain.MenuItem) ([]domain.MenuItem, error) {
	sanitized := domain.SanitizeMenu(items)

	attr := menuAttr{PK: menuPK, SK: menuSK, Items: make([]menuItemAttr, 0, len(sanitized))}
	for _, item := range sanitized {
		attr.Items = append(attr.Items, menuItemAttr{Name: item.Name, Description: item.Description, Price: item.Price})
	}
	av, err := attributevalue.MarshalMap(attr)
	if err != nil {
		return nil, fmt.Errorf("marshal menu: %w", err)
	}

	opCtx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if _, err := r.store.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(r.store.table),
		Item:      av,
	}); err != nil {
		return nil, unavailable("put menu", err)
	}
	return sanitized, nil
}

var (
	_ domain.SettingsRepository = (*settingsRepository)(nil)
	_ domain.MenuRepository     = (*menuRepository)(nil)
)
