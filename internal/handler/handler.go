// Package handler exposes the cart service HTTP API: the product catalog
// and the per-user cart fetch/replace endpoints consumed by the client
// engine's reconciler and write-through syncer.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
	"github.com/xenking/storefront-cart/internal/domain/product"
)

// CartStorage is the persistence surface the cart endpoints need.
type CartStorage interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
	Replace(ctx context.Context, userID string, c cart.Cart) error
	Delete(ctx context.Context, userID string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. When empty, image paths are returned as stored.
	ImageBaseURL string
	// TaxRate is applied when recomputing totals of pushed carts.
	TaxRate decimal.Decimal
}

// Handler serves the cart service API.
type Handler struct {
	products     product.Repository
	carts        CartStorage
	coupons      coupon.Validator
	imageBaseURL string
	taxRate      decimal.Decimal
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, products product.Repository, carts CartStorage, coupons coupon.Validator) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		coupons:      coupons,
		imageBaseURL: cfg.ImageBaseURL,
		taxRate:      cfg.TaxRate,
	}
}

// Register attaches all API routes to the mux. Cart routes are wrapped
// with the given authentication middleware.
func (h *Handler) Register(mux *http.ServeMux, authenticate func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/product", h.ListProducts)
	mux.HandleFunc("GET /api/product/{id}", h.GetProduct)
	mux.Handle("GET /api/cart/{userID}", authenticate(http.HandlerFunc(h.GetCart)))
	mux.Handle("PUT /api/cart/{userID}", authenticate(http.HandlerFunc(h.ReplaceCart)))
	mux.Handle("DELETE /api/cart/{userID}", authenticate(http.HandlerFunc(h.DeleteCart)))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}
