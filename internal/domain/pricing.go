package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency — валюта магазина по умолчанию.
const DefaultCurrency = "usd"

var (
	// DeliveryFee — фиксированная стоимость доставки.
	DeliveryFee = decimal.NewFromInt(3)

	// MaxChargeAmount — наибольшая сумма одного платежа, которую принимает шлюз.
	MaxChargeAmount = decimal.New(99999999, -2)

	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ParsePrice разбирает строку цены из меню: все символы, кроме цифр и точки, отбрасываются.
// Нераспознанная цена считается нулевой.
func ParsePrice(raw string) decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return decimal.Zero
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// DeliveryFeeFor возвращает стоимость доставки для способа получения.
func DeliveryFeeFor(f Fulfillment) decimal.Decimal {
	if f == FulfillmentDelivery {
		return DeliveryFee
	}
	return decimal.Zero
}

// ClampTip не даёт чаевым быть отрицательными.
func ClampTip(tip decimal.Decimal) decimal.Decimal {
	if tip.IsNegative() {
		return decimal.Zero
	}
	return tip
}

// Quote — расчёт стоимости корзины.
type Quote struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Tip         decimal.Decimal
	Total       decimal.Decimal
}

// AmountMinor возвращает итог расчёта в минимальных единицах.
func (q Quote) AmountMinor() int64 {
	return MinorUnits(q.Total)
}

// QuoteCart считает итог: Σ(цена × количество) + доставка + чаевые.
func QuoteCart(items []OrderItem, fulfillment Fulfillment, tip decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	fee := DeliveryFeeFor(fulfillment)
	tip = ClampTip(tip)

	return Quote{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Tip:         tip,
		Total:       subtotal.Add(fee).Add(tip),
	}
}

// MinorUnits переводит сумму в центы с округлением до ближайшего.
// Значения за пределами int64 насыщаются, а не переполняются.
func MinorUnits(amount decimal.Decimal) int64 {
	cents := amount.Mul(hundred).Round(0)
	switch {
	case cents.GreaterThan(maxMinor):
		return math.MaxInt64
	case cents.LessThan(minMinor):
		return math.MinInt64
	}
	return cents.IntPart()
}

// Chargeable сообщает, можно ли списать сумму одним платежом: от одного цента до MaxChargeAmount.
func Chargeable(amount decimal.Decimal) bool {
	minor := MinorUnits(amount)
	return minor > 0 && minor <= MinorUnits(MaxChargeAmount)
}

// FromMinorUnits переводит центы обратно в десятичную сумму.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
