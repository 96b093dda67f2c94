package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

// helper для создания валидного черновика самовывоза с одной позицией.
func makeDraft() domain.OrderDraft {
	return domain.OrderDraft{
		Fulfillment:   domain.FulfillmentPickup,
		PaymentMethod: domain.PaymentMethodCard,
		Tip:           decimal.RequireFromString("1.50"),
		DeliveryFee:   decimal.Zero,
		Total:         decimal.RequireFromString("20.50"),
		Items: []domain.OrderItem{
			{Name: "Mac and Cheese", Price: "$9.50", Quantity: 2},
		},
		Customer: domain.Customer{Name: "Sam", Email: "sam@example.edu", Phone: "555-0100"},
	}
}

func TestOrderDraftValidateInvariants_Ok(t *testing.T) {
	draft := makeDraft()
	if errs := draft.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderDraftValidateInvariants_DeliveryOk(t *testing.T) {
	draft := makeDraft()
	draft.Fulfillment = domain.FulfillmentDelivery
	draft.DeliveryFee = decimal.NewFromInt(3)
	draft.Total = decimal.RequireFromString("23.50")
	draft.Customer.Address = "Dorm B, room 12"

	if errs := draft.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderDraftValidateInvariants_FloatingTotalTolerated(t *testing.T) {
	draft := makeDraft()
	draft.Items = []domain.OrderItem{{Name: "Taco", Price: "$3.10", Quantity: 3}}
	draft.Tip = decimal.Zero
	draft.Total = decimal.NewFromFloat(9.300000000000001)

	if errs := draft.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderDraftValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(d *domain.OrderDraft)
		want error
	}{
		{
			name: "no customer name",
			mut:  func(d *domain.OrderDraft) { d.Customer.Name = "  " },
			want: domain.ErrCustomerNameRequired,
		},
		{
			name: "no items",
			mut: func(d *domain.OrderDraft) {
				d.Items = nil
				d.Total = d.Tip
			},
			want: domain.ErrItemsRequired,
		},
		{
			name: "zero quantity",
			mut:  func(d *domain.OrderDraft) { d.Items[0].Quantity = 0 },
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "delivery without address",
			mut: func(d *domain.OrderDraft) {
				d.Fulfillment = domain.FulfillmentDelivery
				d.DeliveryFee = decimal.NewFromInt(3)
				d.Total = decimal.RequireFromString("23.50")
			},
			want: domain.ErrAddressRequired,
		},
		{
			name: "unknown fulfillment",
			mut:  func(d *domain.OrderDraft) { d.Fulfillment = "drone" },
			want: domain.ErrFulfillmentInvalid,
		},
		{
			name: "unknown payment method",
			mut:  func(d *domain.OrderDraft) { d.PaymentMethod = "crypto" },
			want: domain.ErrPaymentMethodInvalid,
		},
		{
			name: "negative tip",
			mut:  func(d *domain.OrderDraft) { d.Tip = decimal.NewFromInt(-1) },
			want: domain.ErrAmountNegative,
		},
		{
			name: "wrong delivery fee",
			mut: func(d *domain.OrderDraft) {
				d.DeliveryFee = decimal.NewFromInt(3)
				d.Total = decimal.RequireFromString("23.50")
			},
			want: domain.ErrDeliveryFeeMismatch,
		},
		{
			name: "total mismatch",
			mut:  func(d *domain.OrderDraft) { d.Total = decimal.NewFromInt(5) },
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := makeDraft()
			tc.mut(&draft)

			errs := draft.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			err := domain.NewValidationError(errs)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v in %v", tc.want, err)
			}
		})
	}
}

func TestOrderDraftMaterialize(t *testing.T) {
	draft := makeDraft()
	draft.Status = domain.OrderStatusPending
	createdAt := time.Date(2025, 9, 1, 12, 0, 0, 0, time.FixedZone("EDT", -4*3600))

	order := draft.Materialize("order-1", createdAt)
	draft.Items[0].Name = "mutated"

	if order.ID != "order-1" {
		t.Fatalf("unexpected id %q", order.ID)
	}
	if order.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC created_at, got %v", order.CreatedAt.Location())
	}
	if order.Items[0].Name != "Mac and Cheese" {
		t.Fatalf("materialized order shares items with draft")
	}
	if order.AmountMinor() != 2050 {
		t.Fatalf("expected 2050 minor units, got %d", order.AmountMinor())
	}
}

func TestPaymentMethodInitialStatus(t *testing.T) {
	if got := domain.PaymentMethodCash.InitialStatus(); got != domain.OrderStatusCashPending {
		t.Fatalf("cash initial status = %s", got)
	}
	if got := domain.PaymentMethodCard.InitialStatus(); got != domain.OrderStatusPending {
		t.Fatalf("card initial status = %s", got)
	}
}

func TestSanitizeMenu(t *testing.T) {
	items := domain.SanitizeMenu([]domain.MenuItem{
		{Name: " Ramen ", Description: " Spicy miso ", Price: " $8.00 "},
		{Name: "Ghost", Description: "", Price: "$1"},
		{Name: "", Description: "nameless", Price: "$2"},
	})

	if len(items) != 1 {
		t.Fatalf("expected 1 sanitized item, got %d", len(items))
	}
	if items[0] != (domain.MenuItem{Name: "Ramen", Description: "Spicy miso", Price: "$8.00"}) {
		t.Fatalf("unexpected sanitized item %+v", items[0])
	}
}
