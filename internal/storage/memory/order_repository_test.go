package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/storage/memory"
)

func newDraft() domain.OrderDraft {
	return domain.OrderDraft{
		Status:        domain.OrderStatusPending,
		Fulfillment:   domain.FulfillmentPickup,
		PaymentMethod: domain.PaymentMethodCard,
		Tip:           decimal.RequireFromString("1.50"),
		DeliveryFee:   decimal.Zero,
		Total:         decimal.RequireFromString("20.50"),
		Items: []domain.OrderItem{
			{Name: "Mac and Cheese", Price: "$9.50", Quantity: 2},
		},
		Customer: domain.Customer{Name: "Sam"},
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("store must assign id and created_at: %+v", created)
	}

	stored, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != created.ID || !stored.Total.Equal(created.Total) {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestOrderRepository_GetUnknown(t *testing.T) {
	repo := memory.NewOrderRepository()
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	first, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Fatalf("expected most recent first, got %s then %s", orders[0].ID, orders[1].ID)
	}
}

func TestOrderRepository_UpdateStatusAndAttachIntent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	created, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	withIntent, err := repo.AttachPaymentIntent(ctx, created.ID, "pi_123")
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if withIntent.PaymentIntentID != "pi_123" || withIntent.Status != domain.OrderStatusPending {
		t.Fatalf("attach must only touch intent id: %+v", withIntent)
	}

	paid, err := repo.UpdateStatus(ctx, created.ID, domain.OrderStatusPaid)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid || paid.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected updated order %+v", paid)
	}

	if _, err := repo.UpdateStatus(ctx, "missing", domain.OrderStatusPaid); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_PaymentIntentBelongsToOneOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	withIntent := newDraft()
	withIntent.PaymentIntentID = "pi_shared"
	first, err := repo.Create(ctx, withIntent)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.Create(ctx, withIntent); !errors.Is(err, domain.ErrPaymentIntentClaimed) {
		t.Fatalf("expected ErrPaymentIntentClaimed on duplicate intent, got %v", err)
	}

	second, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.AttachPaymentIntent(ctx, second.ID, "pi_shared"); !errors.Is(err, domain.ErrReconciliation) {
		t.Fatalf("attach of a foreign intent must be a reconciliation error, got %v", err)
	}
	if _, err := repo.AttachPaymentIntent(ctx, first.ID, "pi_shared"); err != nil {
		t.Fatalf("re-attaching own intent must succeed: %v", err)
	}

	if _, err := repo.AttachPaymentIntent(ctx, first.ID, "pi_replacement"); err != nil {
		t.Fatalf("replace intent failed: %v", err)
	}
	if _, err := repo.AttachPaymentIntent(ctx, second.ID, "pi_shared"); err != nil {
		t.Fatalf("released intent must be attachable: %v", err)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	created, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	removed, err := repo.Delete(ctx, created.ID)
	if err != nil || !removed {
		t.Fatalf("expected removed=true, got %v err=%v", removed, err)
	}
	removed, err = repo.Delete(ctx, created.ID)
	if err != nil || removed {
		t.Fatalf("expected removed=false on second delete, got %v err=%v", removed, err)
	}
	if _, err := repo.UpdateStatus(ctx, created.ID, domain.OrderStatusPaid); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("update after delete must return ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	created, err := repo.Create(ctx, newDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.OrderStatusPending
			if i%2 == 0 {
				status = domain.OrderStatusCashPending
			}
			_, _ = repo.UpdateStatus(ctx, created.ID, status)
		}(i)
	}
	wg.Wait()

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Status.Valid() {
		t.Fatalf("unexpected status %q", got.Status)
	}
}

func TestSettingsAndMenuRepositories(t *testing.T) {
	ctx := context.Background()

	settings := memory.NewSettingsRepository()
	got, err := settings.Get(ctx)
	if err != nil || !got.IsOpen {
		t.Fatalf("expected open store by default, got %+v err=%v", got, err)
	}
	if _, err := settings.Update(ctx, domain.StoreSettings{IsOpen: false}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = settings.Get(ctx)
	if got.IsOpen {
		t.Fatal("expected closed store after update")
	}

	menu := memory.NewMenuRepository()
	saved, err := menu.Replace(ctx, []domain.MenuItem{
		{Name: "Bagel", Description: "Everything", Price: "$2.50"},
		{Name: "", Description: "broken", Price: "$1"},
	})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected sanitized menu of 1 item, got %d", len(saved))
	}
	items, _ := menu.Get(ctx)
	if len(items) != 1 || items[0].Name != "Bagel" {
		t.Fatalf("unexpected menu %+v", items)
	}
}
