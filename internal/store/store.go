// Package store owns the authoritative in-memory cart. All mutations go
// through a single Store instance; the persistence adapter and session
// reconciler interact with cart state only through its methods.
package store

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
	"github.com/xenking/storefront-cart/internal/domain/pricing"
)

// ErrInvalidQuantity is returned for add requests below one unit.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Persister mirrors the cart to durable storage after each mutation.
// Save failures are non-fatal: the store logs and carries on, and the
// next mutation retries the write.
type Persister interface {
	Save(c cart.Cart) error
	Clear() error
}

// Syncer receives the latest cart snapshot for write-through to the
// remote cart service. Implementations must not block.
type Syncer interface {
	Enqueue(c cart.Cart)
}

// Store applies cart mutations atomically: each operation mutates the
// cart, recomputes derived totals through the pricing engine, bumps the
// revision counter, persists a snapshot, and hands the snapshot to the
// attached syncer (if any).
type Store struct {
	mu      sync.Mutex
	cart    cart.Cart
	taxRate decimal.Decimal
	persist Persister
	syncer  Syncer
	lg      *zap.Logger
}

// New creates a Store seeded with the given cart (typically restored by
// the persistence adapter at boot, or fetched from the server).
func New(initial cart.Cart, persist Persister, taxRate decimal.Decimal, lg *zap.Logger) *Store {
	s := &Store{
		cart:    initial.Clone(),
		taxRate: taxRate,
		persist: persist,
		lg:      lg,
	}
	// Derived totals are never trusted from a snapshot.
	s.cart.Totals, s.cart.AppliedCoupon = pricing.Compute(
		s.cart.Items, s.cart.AppliedCoupon, s.taxRate, s.cart.Totals.Shipping)
	return s
}

// Current returns a deep copy of the cart.
func (s *Store) Current() cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Revision returns the current revision counter.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Revision
}

// AttachSyncer starts write-through of every subsequent mutation.
func (s *Store) AttachSyncer(sy Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncer = sy
}

// DetachSyncer stops write-through (used on logout).
func (s *Store) DetachSyncer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncer = nil
}

// AddItem adds quantity units of the given item. If a line with the same
// identity exists its quantity is incremented, clamped to available stock;
// the clamp is reported via QuantityClampedError with the mutation still
// applied. A request that cannot be satisfied at all (quantity alone above
// stock) is rejected with QuantityExceedsStockError and leaves the cart
// unchanged.
func (s *Store) AddItem(item cart.Item, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if item.UnitPrice.IsNegative() {
		return errors.New("unit price must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// AvailableStock of zero means out of stock: nothing can be added,
	// though an existing line may keep sitting in the cart.
	if quantity > item.AvailableStock {
		return &cart.QuantityExceedsStockError{
			ProductID: item.ProductID,
			Requested: quantity,
			Available: item.AvailableStock,
		}
	}

	var clamped *cart.QuantityClampedError
	if idx := s.cart.FindLine(item.ProductID, item.Variant); idx >= 0 {
		line := &s.cart.Items[idx]
		next := line.Quantity + quantity
		if line.AvailableStock > 0 && next > line.AvailableStock {
			clamped = &cart.QuantityClampedError{
				ProductID: line.ProductID,
				Requested: next,
				Clamped:   line.AvailableStock,
			}
			next = line.AvailableStock
		}
		line.Quantity = next
	} else {
		item.Quantity = quantity
		s.cart.Items = append(s.cart.Items, item)
	}

	s.commit()
	if clamped != nil {
		return clamped
	}
	return nil
}

// RemoveItem deletes the line matching the identity. Removing an absent
// line is a no-op, so calling it twice is safe.
func (s *Store) RemoveItem(productID string, variant cart.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.FindLine(productID, variant)
	if idx < 0 {
		return
	}
	s.cart.Items = append(s.cart.Items[:idx], s.cart.Items[idx+1:]...)
	s.commit()
}

// UpdateQuantity sets the line's quantity. A value below one removes the
// line. A value above available stock is clamped and reported via
// QuantityClampedError with the clamped mutation applied. Updating an
// absent line is a no-op.
func (s *Store) UpdateQuantity(productID string, variant cart.Variant, quantity int) error {
	if quantity < 1 {
		s.RemoveItem(productID, variant)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.FindLine(productID, variant)
	if idx < 0 {
		return nil
	}

	line := &s.cart.Items[idx]
	var clamped *cart.QuantityClampedError
	if line.AvailableStock > 0 && quantity > line.AvailableStock {
		clamped = &cart.QuantityClampedError{
			ProductID: productID,
			Requested: quantity,
			Clamped:   line.AvailableStock,
		}
		quantity = line.AvailableStock
	}
	line.Quantity = quantity

	s.commit()
	if clamped != nil {
		return clamped
	}
	return nil
}

// ApplyCoupon validates the coupon against the current subtotal and, on
// success, replaces the applied coupon. An ineligible coupon returns
// coupon.ErrIneligible and leaves the cart untouched.
func (s *Store) ApplyCoupon(c coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtotal := pricing.Subtotal(s.cart.Items)
	if !c.EligibleFor(subtotal) {
		return coupon.ErrIneligible
	}

	s.cart.AppliedCoupon = &c
	s.commit()
	return nil
}

// RemoveCoupon clears the applied coupon and resets the discount to zero.
func (s *Store) RemoveCoupon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.AppliedCoupon == nil {
		return
	}
	s.cart.AppliedCoupon = nil
	s.commit()
}

// SetShipping stores the externally supplied shipping amount verbatim and
// folds it into the grand total.
func (s *Store) SetShipping(amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart.Totals.Shipping = amount
	s.commit()
}

// Clear empties the cart, detaches any coupon, zeroes all totals, and
// erases the persisted snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart.Items = nil
	s.cart.AppliedCoupon = nil
	s.cart.Totals = cart.ZeroTotals()
	s.cart.Revision++

	if err := s.persist.Clear(); err != nil {
		s.lg.Warn("clear persisted snapshot", zap.Error(err))
	}
	if s.syncer != nil {
		s.syncer.Enqueue(s.cart.Clone())
	}
}

// Replace adopts an externally produced cart (reconciler merge result or
// server fetch) as the new authoritative state. Totals are recomputed
// locally; the revision continues monotonically from whichever side is
// ahead.
func (s *Store) Replace(c cart.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.cart.Revision
	if c.Revision > rev {
		rev = c.Revision
	}
	s.cart = c.Clone()
	s.cart.Revision = rev
	s.commit()
}

// commit finalizes a mutation under the held lock: recompute totals
// (detaching a coupon whose eligibility lapsed), bump the revision,
// persist, and enqueue write-through.
func (s *Store) commit() {
	s.cart.Totals, s.cart.AppliedCoupon = pricing.Compute(
		s.cart.Items, s.cart.AppliedCoupon, s.taxRate, s.cart.Totals.Shipping)
	s.cart.Revision++

	if err := s.persist.Save(s.cart.Clone()); err != nil {
		// In-memory state stays correct; the next mutation retries.
		s.lg.Warn("persist cart snapshot", zap.Error(err))
	}
	if s.syncer != nil {
		s.syncer.Enqueue(s.cart.Clone())
	}
}
