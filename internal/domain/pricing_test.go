package domain_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "$9.50", want: "9.5"},
		{raw: "12", want: "12"},
		{raw: " $ 4.25 each", want: "4.25"},
		{raw: "free", want: "0"},
		{raw: "", want: "0"},
		{raw: "1.2.3", want: "0"},
		{raw: ".", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := domain.ParsePrice(tt.raw)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "ParsePrice(%q) = %s", tt.raw, got)
		})
	}
}

func TestQuoteCart_Pickup(t *testing.T) {
	items := []domain.OrderItem{{Name: "Mac and Cheese", Price: "$9.50", Quantity: 2}}

	quote := domain.QuoteCart(items, domain.FulfillmentPickup, decimal.RequireFromString("1.50"))

	assert.True(t, quote.Subtotal.Equal(decimal.NewFromInt(19)))
	assert.True(t, quote.DeliveryFee.IsZero())
	assert.True(t, quote.Total.Equal(decimal.RequireFromString("20.50")))
	assert.Equal(t, int64(2050), quote.AmountMinor())
}

func TestQuoteCart_Delivery(t *testing.T) {
	items := []domain.OrderItem{{Name: "Mac and Cheese", Price: "$9.50", Quantity: 2}}

	quote := domain.QuoteCart(items, domain.FulfillmentDelivery, decimal.RequireFromString("1.50"))

	assert.True(t, quote.DeliveryFee.Equal(decimal.NewFromInt(3)))
	assert.True(t, quote.Total.Equal(decimal.RequireFromString("23.50")))
	assert.Equal(t, int64(2350), quote.AmountMinor())
}

func TestQuoteCart_NegativeTipClamped(t *testing.T) {
	items := []domain.OrderItem{{Name: "Soup", Price: "$4.00", Quantity: 1}}

	quote := domain.QuoteCart(items, domain.FulfillmentPickup, decimal.NewFromInt(-5))

	assert.True(t, quote.Tip.IsZero())
	assert.Equal(t, int64(400), quote.AmountMinor())
}

func TestMinorUnits_Rounding(t *testing.T) {
	assert.Equal(t, int64(930), domain.MinorUnits(decimal.NewFromFloat(9.300000000000001)))
	assert.Equal(t, int64(1001), domain.MinorUnits(decimal.RequireFromString("10.005")))
	assert.True(t, domain.FromMinorUnits(2050).Equal(decimal.RequireFromString("20.5")))
}

func TestMinorUnits_SaturatesInsteadOfWrapping(t *testing.T) {
	huge := domain.ParsePrice("$99999999999999999999")
	assert.Equal(t, int64(math.MaxInt64), domain.MinorUnits(huge))
	assert.Equal(t, int64(math.MinInt64), domain.MinorUnits(huge.Neg()))

	quote := domain.QuoteCart([]domain.OrderItem{{Name: "Gold Bar", Price: "$99999999999999999999", Quantity: 3}}, domain.FulfillmentPickup, decimal.Zero)
	assert.Positive(t, quote.AmountMinor())
}

func TestChargeable(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{amount: "0.01", want: true},
		{amount: "20.50", want: true},
		{amount: "999999.99", want: true},
		{amount: "1000000.00", want: false},
		{amount: "99999999999999999999", want: false},
		{amount: "0", want: false},
		{amount: "0.004", want: false},
		{amount: "-5", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.Chargeable(decimal.RequireFromString(tt.amount)))
		})
	}
}
