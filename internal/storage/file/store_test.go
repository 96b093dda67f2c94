package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

func testDraft() domain.OrderDraft {
	return domain.OrderDraft{
		Status:        domain.OrderStatusCashPending,
		Fulfillment:   domain.FulfillmentDelivery,
		PaymentMethod: domain.PaymentMethodCash,
		Tip:           decimal.RequireFromString("1.50"),
		DeliveryFee:   decimal.NewFromInt(3),
		Total:         decimal.RequireFromString("23.50"),
		Items:         []domain.OrderItem{{Name: "Mac and Cheese", Price: "$9.50", Quantity: 2}},
		Customer:      domain.Customer{Name: "Sam", Address: "Dorm B"},
	}
}

func TestOrderRepository_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	repo := NewOrderRepository(store)

	created, err := repo.Create(ctx, testDraft())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	// Новый экземпляр читает тот же файл.
	reopened, err := Open(dir, false)
	require.NoError(t, err)
	got, err := NewOrderRepository(reopened).Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCashPending, got.Status)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("23.50")))
	assert.Equal(t, "Dorm B", got.Customer.Address)
	assert.Len(t, got.Items, 1)

	updated, err := repo.UpdateStatus(ctx, created.ID, domain.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, updated.Status)

	withIntent, err := repo.AttachPaymentIntent(ctx, created.ID, "pi_file")
	require.NoError(t, err)
	assert.Equal(t, "pi_file", withIntent.PaymentIntentID)
	assert.Equal(t, domain.OrderStatusPaid, withIntent.Status)

	removed, err := repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.UpdateStatus(ctx, created.ID, domain.OrderStatusPaid)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_ListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	repo := NewOrderRepository(store)

	first, err := repo.Create(ctx, testDraft())
	require.NoError(t, err)
	second, err := repo.Create(ctx, testDraft())
	require.NoError(t, err)

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	if orders[0].CreatedAt.Equal(orders[1].CreatedAt) {
		assert.Greater(t, orders[0].ID, orders[1].ID)
	} else {
		assert.Equal(t, second.ID, orders[0].ID)
		assert.Equal(t, first.ID, orders[1].ID)
	}
}

func TestOrderRepository_PaymentIntentBelongsToOneOrder(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	repo := NewOrderRepository(store)

	card := testDraft()
	card.PaymentMethod = domain.PaymentMethodCard
	card.Status = domain.OrderStatusPending
	card.PaymentIntentID = "pi_shared"
	first, err := repo.Create(ctx, card)
	require.NoError(t, err)

	_, err = repo.Create(ctx, card)
	require.ErrorIs(t, err, domain.ErrPaymentIntentClaimed)

	second, err := repo.Create(ctx, testDraft())
	require.NoError(t, err)
	_, err = repo.AttachPaymentIntent(ctx, second.ID, "pi_shared")
	assert.ErrorIs(t, err, domain.ErrReconciliation)

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PaymentIntentID)

	_, err = repo.AttachPaymentIntent(ctx, first.ID, "pi_shared")
	assert.NoError(t, err)

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestOrderRepository_ReadOnlyTargetRejectsWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ordersFile), []byte(`{"orders":[]}`), 0o600))

	store, err := Open(dir, true)
	require.NoError(t, err)
	repo := NewOrderRepository(store)

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = repo.Create(ctx, testDraft())
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable), "expected ErrStorageUnavailable, got %v", err)

	_, err = NewSettingsRepository(store).Update(ctx, domain.StoreSettings{IsOpen: false})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestOrderRepository_CorruptFileIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ordersFile), []byte(`{not json`), 0o600))

	store, err := Open(dir, false)
	require.NoError(t, err)

	_, err = NewOrderRepository(store).List(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestOrderRepository_ReadsLegacyNumericAmounts(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"orders":[{"id":"legacy-1","createdAt":"2025-01-02T03:04:05Z","status":"pending",
"fulfillment":"pickup","paymentMethod":"card","tip":1.5,"deliveryFee":0,"total":20.5,
"items":[{"name":"Mac and Cheese","price":"$9.50","quantity":2}],
"customer":{"name":"Sam","email":"","phone":"","address":""}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ordersFile), []byte(legacy), 0o600))

	store, err := Open(dir, false)
	require.NoError(t, err)

	order, err := NewOrderRepository(store).Get(context.Background(), "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2050), order.AmountMinor())
}

func TestSettingsRepository_DefaultsToOpen(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	repo := NewSettingsRepository(store)

	settings, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, settings.IsOpen)

	_, err = repo.Update(ctx, domain.StoreSettings{IsOpen: false})
	require.NoError(t, err)

	settings, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, settings.IsOpen)
}

func TestMenuRepository_ReplaceSanitizes(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	repo := NewMenuRepository(store)

	empty, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	saved, err := repo.Replace(ctx, []domain.MenuItem{
		{Name: " Ramen ", Description: "Miso", Price: "$8"},
		{Name: "Ghost", Description: " ", Price: "$1"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	items, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.MenuItem{{Name: "Ramen", Description: "Miso", Price: "$8"}}, items)
}
