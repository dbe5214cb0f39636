package service

import (
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricingPolicy computes order totals from cart lines.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
}

// DefaultPricing is 10% tax with flat 10.00 shipping waived above 100.00.
var DefaultPricing = PricingPolicy{
	TaxRate:               decimal.RequireFromString("0.10"),
	FreeShippingThreshold: decimal.NewFromInt(100),
	FlatShipping:          decimal.NewFromInt(10),
}

// Prices is the price breakdown of an order.
type Prices struct {
	Items    decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Price sums price x quantity over items. Tax is rounded to cents;
// shipping is free only when the items total strictly exceeds the
// threshold.
func (p PricingPolicy) Price(items []models.OrderItem) Prices {
	itemsPrice := decimal.Zero
	for _, item := range items {
		itemsPrice = itemsPrice.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	tax := itemsPrice.Mul(p.TaxRate).Round(2)

	shipping := p.FlatShipping
	if itemsPrice.GreaterThan(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Prices{
		Items:    itemsPrice,
		Tax:      tax,
		Shipping: shipping,
		Total:    itemsPrice.Add(tax).Add(shipping),
	}
}

// MinorUnits converts an amount to the processor's smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
