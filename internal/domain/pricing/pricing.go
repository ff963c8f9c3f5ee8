// Package pricing derives cart totals. All functions are pure and
// order-independent with respect to item ordering: permuting the lines
// never changes any derived value.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// Subtotal returns the sum of unit price * quantity over all items.
// An empty slice yields zero.
func Subtotal(items []cart.Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Tax returns subtotal * rate rounded to 2 decimal places using
// round-half-to-even, so repeated recomputation does not drift.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).RoundBank(2)
}

// Discount returns the discount amount for the given coupon against the
// subtotal: percentage coupons take subtotal*value/100, fixed-amount
// coupons take min(value, subtotal). A nil or ineligible coupon yields
// zero. The result never exceeds the subtotal and is never negative.
func Discount(subtotal decimal.Decimal, c *coupon.Coupon) decimal.Decimal {
	if c == nil || !c.EligibleFor(subtotal) {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.Kind {
	case coupon.KindPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case coupon.KindFixedAmount:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount.Round(2)
}

// Total returns subtotal + tax + shipping - discount, floored at zero and
// rounded to 2 decimal places.
func Total(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}

// Compute derives the full totals for a set of items, an optional coupon,
// a tax rate, and a shipping amount. The returned coupon pointer is nil
// when the input coupon is nil or no longer eligible for the computed
// subtotal; callers use it to detach lapsed coupons.
func Compute(items []cart.Item, c *coupon.Coupon, taxRate, shipping decimal.Decimal) (cart.Totals, *coupon.Coupon) {
	subtotal := Subtotal(items)

	if c != nil && !c.EligibleFor(subtotal) {
		c = nil
	}

	tax := Tax(subtotal, taxRate)
	discount := Discount(subtotal, c)

	return cart.Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Grand:    Total(subtotal, tax, shipping, discount),
	}, c
}
