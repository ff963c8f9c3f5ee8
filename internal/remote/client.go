// Package remote speaks to the cart service: fetching the authenticated
// user's cart and writing local snapshots through to it.
package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront-cart/internal/domain/cart"
)

// ErrStale is returned when the service rejects a pushed snapshot because
// it already holds a newer revision. The caller should fetch and
// reconcile instead of retrying the same payload.
var ErrStale = errors.New("cart snapshot is stale")

// Client is an HTTP client for the cart service API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient creates a Client for the service at baseURL, authenticating
// with the given API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch returns the user's server-side cart. An unknown user yields a
// valid empty cart.
func (c *Client) Fetch(ctx context.Context, userID string) (cart.Cart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cartURL(userID), nil)
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "create request")
	}
	req.Header.Set("api_key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "fetch cart")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return cart.Cart{}, errors.Errorf("fetch cart: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "read response")
	}

	fetched, err := cart.DecodeBytes(body)
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "decode cart")
	}
	return fetched, nil
}

// Push replaces the user's server-side cart with the given snapshot.
// It returns ErrStale when the server already holds a newer revision.
func (c *Client) Push(ctx context.Context, userID string, snapshot cart.Cart) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cartURL(userID),
		bytes.NewReader(cart.EncodeBytes(snapshot)))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "push cart")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return ErrStale
	default:
		return errors.Errorf("push cart: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) cartURL(userID string) string {
	return c.base + "/api/cart/" + userID
}
