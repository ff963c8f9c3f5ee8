// Package reconciler produces one consistent cart from the device-local
// guest cart and the server-held authenticated cart on login and logout
// transitions. It never silently drops a line the shopper intended to buy.
package reconciler

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/localstore"
	"github.com/xenking/storefront-cart/internal/remote"
	"github.com/xenking/storefront-cart/internal/store"
)

// CartService is the remote collaborator the reconciler talks to.
// *remote.Client satisfies it.
type CartService interface {
	Fetch(ctx context.Context, userID string) (cart.Cart, error)
	Push(ctx context.Context, userID string, snapshot cart.Cart) error
}

var _ CartService = (*remote.Client)(nil)

// Reconciler runs the login and logout cart transitions.
type Reconciler struct {
	svc     CartService
	store   *store.Store
	adapter *localstore.Adapter
	lg      *zap.Logger
}

// New creates a Reconciler over the store, the persistence adapter, and
// the cart service.
func New(svc CartService, st *store.Store, adapter *localstore.Adapter, lg *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, store: st, adapter: adapter, lg: lg}
}

// Login merges the local guest cart with the user's server cart, adopts
// the merged result as authoritative, pushes it back to the service, and
// clears the local snapshot so the server is the single source of truth
// for the rest of the session.
//
// When the remote fetch fails, the local cart stays authoritative and the
// write-through is left to the attached syncer's retry path.
func (r *Reconciler) Login(ctx context.Context, userID string) error {
	local := r.store.Current()

	serverCart, err := r.svc.Fetch(ctx, userID)
	if err != nil {
		r.lg.Warn("fetch server cart failed, keeping local cart",
			zap.String("user_id", userID), zap.Error(err))
		return errors.Wrap(err, "fetch server cart")
	}

	merged := Merge(local, serverCart)
	r.store.Replace(merged)

	if err := r.svc.Push(ctx, userID, r.store.Current()); err != nil {
		// Non-fatal: the syncer retries on the next mutation.
		r.lg.Warn("push merged cart failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	if err := r.adapter.Clear(); err != nil {
		r.lg.Warn("clear local snapshot after login", zap.Error(err))
	}
	return nil
}

// Logout snapshots the current server-authoritative cart into local
// storage so the shopper keeps their cart as a guest. The server cart is
// left untouched and will be merged again at the next login.
func (r *Reconciler) Logout(_ context.Context) error {
	if err := r.adapter.Save(r.store.Current()); err != nil {
		return errors.Wrap(err, "snapshot cart on logout")
	}
	return nil
}

// Merge combines a local and a server cart. Lines sharing an identity
// have their quantities summed, capped at available stock; local-only
// lines are appended after the server lines. For shared lines the server
// side's snapshotted unit price wins. The server cart's coupon is kept
// when present, otherwise the local one carries over; totals are
// recomputed by the store afterwards, so stale derived values in either
// input are irrelevant.
func Merge(local, server cart.Cart) cart.Cart {
	merged := server.Clone()

	index := make(map[string]int, len(merged.Items))
	for i, item := range merged.Items {
		index[item.IdentityKey()] = i
	}

	for _, item := range local.Items {
		if i, ok := index[item.IdentityKey()]; ok {
			line := &merged.Items[i]
			sum := line.Quantity + item.Quantity
			if line.AvailableStock > 0 && sum > line.AvailableStock {
				sum = line.AvailableStock
			}
			line.Quantity = sum
			continue
		}
		merged.Items = append(merged.Items, item)
		index[item.IdentityKey()] = len(merged.Items) - 1
	}

	if merged.AppliedCoupon == nil && local.AppliedCoupon != nil {
		cp := *local.AppliedCoupon
		merged.AppliedCoupon = &cp
	}

	if local.Revision > merged.Revision {
		merged.Revision = local.Revision
	}
	return merged
}
