package domain

import "github.com/shopspring/decimal"

// DefaultCurrency is the ISO 4217 code every storefront cart is priced in.
const DefaultCurrency = "PEN"

// CartTotals captures the aggregated monetary results derived from the cart lines.
type CartTotals struct {
	ItemCount int
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
}

// LineTotal returns unit price times quantity for a single line.
func LineTotal(item CartItem) decimal.Decimal {
	return item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// CountUnits sums the quantities of all lines.
func CountUnits(items []CartItem) int {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

// ComputeTotals derives totals from items. Tax, shipping and discount are not
// computed by the storefront and stay zero.
func ComputeTotals(items []CartItem) CartTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(LineTotal(item))
	}
	return CartTotals{
		ItemCount: CountUnits(items),
		Subtotal:  subtotal,
		Tax:       decimal.Zero,
		Shipping:  decimal.Zero,
		Discount:  decimal.Zero,
		Total:     subtotal,
	}
}

// ApplyTotals recomputes the derived fields of cart in place.
func (c *Cart) ApplyTotals() {
	totals := ComputeTotals(c.Items)
	c.Subtotal = totals.Subtotal
	c.Tax = totals.Tax
	c.Shipping = totals.Shipping
	c.Discount = totals.Discount
	c.Total = totals.Total
}
