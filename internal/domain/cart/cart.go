package cart

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-cart/internal/domain/coupon"
)

// Variant is an unordered set of option key/value pairs (size, color, ...)
// that distinguishes otherwise identical products. May be empty.
type Variant map[string]string

// Equal reports whether two variants contain exactly the same pairs.
func (v Variant) Equal(other Variant) bool {
	if len(v) != len(other) {
		return false
	}
	for k, val := range v {
		if ov, ok := other[k]; !ok || ov != val {
			return false
		}
	}
	return true
}

// Key returns a canonical string form of the variant, stable across map
// iteration order. Used as the identity component in merge maps.
func (v Variant) Key() string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v[k])
	}
	return b.String()
}

// Item is a single product+variant line in the cart. UnitPrice is
// snapshotted when the line is added; later catalog price changes do not
// affect it.
type Item struct {
	ProductID      string
	Name           string
	UnitPrice      decimal.Decimal
	Quantity       int
	AvailableStock int
	Variant        Variant
	ImageRef       string
}

// SameLine reports whether two items share the same identity: equal
// product ID and deeply equal variant. Quantity and price do not
// participate in identity.
func (i Item) SameLine(other Item) bool {
	return i.ProductID == other.ProductID && i.Variant.Equal(other.Variant)
}

// IdentityKey returns the (productID, variant) identity as a single string,
// suitable for map keys during merges.
func (i Item) IdentityKey() string {
	return i.ProductID + "\x00" + i.Variant.Key()
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Totals holds the derived monetary amounts of a cart. They are always
// recomputed from the items and applied coupon, never mutated directly.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Grand    decimal.Decimal
}

// Zero returns all-zero totals.
func ZeroTotals() Totals {
	return Totals{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Discount: decimal.Zero,
		Grand:    decimal.Zero,
	}
}

// Cart is the full cart state: ordered lines (no duplicate identities),
// at most one applied coupon, derived totals, and a monotonically
// increasing revision used to reject stale remote responses.
type Cart struct {
	Items         []Item
	AppliedCoupon *coupon.Coupon
	Totals        Totals
	Revision      uint64
}

// Empty returns a valid empty cart with zero totals.
func Empty() Cart {
	return Cart{Totals: ZeroTotals()}
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindLine returns the index of the line matching the given identity,
// or -1 when no line matches.
func (c Cart) FindLine(productID string, variant Variant) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.Variant.Equal(variant) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the cart. Mutating the copy does not
// affect the original.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]Item, len(c.Items))
	copy(out.Items, c.Items)
	for i, item := range c.Items {
		if item.Variant != nil {
			v := make(Variant, len(item.Variant))
			for k, val := range item.Variant {
				v[k] = val
			}
			out.Items[i].Variant = v
		}
	}
	if c.AppliedCoupon != nil {
		cp := *c.AppliedCoupon
		out.AppliedCoupon = &cp
	}
	return out
}

// QuantityExceedsStockError indicates a requested quantity cannot be
// satisfied at all; the mutation was rejected and the cart is unchanged.
type QuantityExceedsStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *QuantityExceedsStockError) Error() string {
	return fmt.Sprintf("requested quantity %d for product %s exceeds available stock %d",
		e.Requested, e.ProductID, e.Available)
}

// QuantityClampedError indicates a quantity was reduced to the available
// stock. The mutation WAS applied with the clamped value; the error exists
// so the caller can inform the user.
type QuantityClampedError struct {
	ProductID string
	Requested int
	Clamped   int
}

func (e *QuantityClampedError) Error() string {
	return fmt.Sprintf("quantity for product %s clamped from %d to %d",
		e.ProductID, e.Requested, e.Clamped)
}
