package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage-based discount to the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixedAmount applies a fixed monetary discount capped at the subtotal.
	KindFixedAmount Kind = "fixedAmount"
)

var (
	// ErrIneligible is returned when a coupon code is unknown or the cart
	// does not satisfy the coupon's minimum subtotal requirement.
	ErrIneligible = errors.New("coupon ineligible")
	// ErrExpired is returned when a coupon is outside its valid time window.
	ErrExpired = errors.New("coupon expired")
)

// Coupon is a discount definition. At most one coupon is active on a cart
// at a time. MinSubtotal, when positive, is the eligibility threshold the
// cart subtotal must meet; a coupon whose threshold stops holding is
// detached automatically by the cart store.
type Coupon struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinSubtotal decimal.Decimal
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// EligibleFor reports whether the coupon may be applied to a cart with the
// given subtotal. A zero subtotal (empty cart) is never eligible.
func (c Coupon) EligibleFor(subtotal decimal.Decimal) bool {
	if subtotal.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if c.MinSubtotal.IsPositive() && subtotal.LessThan(c.MinSubtotal) {
		return false
	}
	return true
}

// Repository provides lookup of coupon definitions by code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// ListCodes returns all active coupon codes, used to warm the
	// validator's negative-lookup filter.
	ListCodes(ctx context.Context) ([]string, error)
}
