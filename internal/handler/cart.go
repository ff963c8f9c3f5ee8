package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
	"github.com/xenking/storefront-cart/internal/domain/pricing"
	"github.com/xenking/storefront-cart/internal/storage/postgres"
)

// maxCartBody bounds the accepted snapshot size.
const maxCartBody = 1 << 20

// GetCart returns the user's stored cart; unknown users get a valid
// empty cart rather than a 404.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		zctx.From(r.Context()).Error("get cart", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, cart.EncodeBytes(c))
}

// DeleteCart drops the user's stored cart entirely. Deleting an absent
// cart succeeds.
func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	if err := h.carts.Delete(r.Context(), userID); err != nil {
		zctx.From(r.Context()).Error("delete cart", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceCart stores the pushed snapshot. Totals are recomputed
// server-side and the applied coupon is re-validated against the coupon
// catalog, so a client can never persist forged amounts. A snapshot older
// than the stored revision is rejected with 409.
func (h *Handler) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	lg := zctx.From(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCartBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	c, err := cart.DecodeBytes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed cart payload")
		return
	}

	// Re-resolve the coupon by code; a code the catalog does not vouch
	// for is detached rather than trusted.
	if c.AppliedCoupon != nil {
		resolved, err := h.coupons.Resolve(r.Context(), c.AppliedCoupon.Code)
		switch {
		case err == nil:
			c.AppliedCoupon = resolved
		case errors.Is(err, coupon.ErrIneligible), errors.Is(err, coupon.ErrExpired):
			c.AppliedCoupon = nil
		default:
			lg.Error("resolve coupon", zap.String("code", c.AppliedCoupon.Code), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	c.Totals, c.AppliedCoupon = pricing.Compute(
		c.Items, c.AppliedCoupon, h.taxRate, c.Totals.Shipping)

	if err := h.carts.Replace(r.Context(), userID, c); err != nil {
		if errors.Is(err, postgres.ErrStaleRevision) {
			writeError(w, http.StatusConflict, "stored cart has a newer revision")
			return
		}
		lg.Error("replace cart", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, cart.EncodeBytes(c))
}
