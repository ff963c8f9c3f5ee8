package reconciler

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
	"github.com/xenking/storefront-cart/internal/localstore"
	"github.com/xenking/storefront-cart/internal/store"
)

// --- Mock implementations ---

type mockService struct {
	serverCart cart.Cart
	fetchErr   error
	pushErr    error
	pushed     []cart.Cart
}

func (m *mockService) Fetch(_ context.Context, _ string) (cart.Cart, error) {
	if m.fetchErr != nil {
		return cart.Cart{}, m.fetchErr
	}
	return m.serverCart.Clone(), nil
}

func (m *mockService) Push(_ context.Context, _ string, snapshot cart.Cart) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.pushed = append(m.pushed, snapshot)
	return nil
}

// --- Helpers ---

func line(id, price string, qty, stock int) cart.Item {
	return cart.Item{
		ProductID:      id,
		Name:           id,
		UnitPrice:      decimal.RequireFromString(price),
		Quantity:       qty,
		AvailableStock: stock,
	}
}

func newFixture(t *testing.T, local cart.Cart, svc *mockService) (*Reconciler, *store.Store, *localstore.Adapter) {
	t.Helper()
	adapter := localstore.New(localstore.NewMemoryKV(), zap.NewNop())
	st := store.New(local, adapter, decimal.Zero, zap.NewNop())
	r := New(svc, st, adapter, zap.NewNop())
	return r, st, adapter
}

// --- Tests ---

func TestMerge_SharedLinesSumQuantities(t *testing.T) {
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 2, 10)}}
	server := cart.Cart{Items: []cart.Item{
		line("A", "10.00", 1, 10),
		line("B", "5.00", 1, 10),
	}}

	merged := Merge(local, server)

	require.Len(t, merged.Items, 2)
	assert.Equal(t, "A", merged.Items[0].ProductID)
	assert.Equal(t, 3, merged.Items[0].Quantity)
	assert.Equal(t, "B", merged.Items[1].ProductID)
	assert.Equal(t, 1, merged.Items[1].Quantity)
}

func TestMerge_SumCappedAtStock(t *testing.T) {
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 4, 5)}}
	server := cart.Cart{Items: []cart.Item{line("A", "10.00", 3, 5)}}

	merged := Merge(local, server)

	require.Len(t, merged.Items, 1)
	assert.Equal(t, 5, merged.Items[0].Quantity)
}

func TestMerge_ServerPriceWinsForSharedLines(t *testing.T) {
	local := cart.Cart{Items: []cart.Item{line("A", "12.00", 1, 10)}}
	server := cart.Cart{Items: []cart.Item{line("A", "10.00", 1, 10)}}

	merged := Merge(local, server)

	require.Len(t, merged.Items, 1)
	assert.True(t, decimal.RequireFromString("10.00").Equal(merged.Items[0].UnitPrice))
}

func TestMerge_VariantsStaySeparate(t *testing.T) {
	localItem := line("A", "10.00", 1, 10)
	localItem.Variant = cart.Variant{"size": "M"}
	serverItem := line("A", "10.00", 2, 10)
	serverItem.Variant = cart.Variant{"size": "L"}

	merged := Merge(
		cart.Cart{Items: []cart.Item{localItem}},
		cart.Cart{Items: []cart.Item{serverItem}},
	)

	require.Len(t, merged.Items, 2)
	assert.Equal(t, 2, merged.Items[0].Quantity)
	assert.Equal(t, 1, merged.Items[1].Quantity)
}

func TestMerge_ServerCouponPreferred(t *testing.T) {
	localCoupon := &coupon.Coupon{Code: "LOCAL", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(5)}
	serverCoupon := &coupon.Coupon{Code: "SERVER", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10)}

	merged := Merge(
		cart.Cart{AppliedCoupon: localCoupon},
		cart.Cart{AppliedCoupon: serverCoupon},
	)
	require.NotNil(t, merged.AppliedCoupon)
	assert.Equal(t, "SERVER", merged.AppliedCoupon.Code)

	merged = Merge(cart.Cart{AppliedCoupon: localCoupon}, cart.Cart{})
	require.NotNil(t, merged.AppliedCoupon)
	assert.Equal(t, "LOCAL", merged.AppliedCoupon.Code)
}

func TestMerge_RevisionTakesMax(t *testing.T) {
	merged := Merge(cart.Cart{Revision: 9}, cart.Cart{Revision: 4})
	assert.Equal(t, uint64(9), merged.Revision)

	merged = Merge(cart.Cart{Revision: 2}, cart.Cart{Revision: 7})
	assert.Equal(t, uint64(7), merged.Revision)
}

func TestMerge_EmptySides(t *testing.T) {
	some := cart.Cart{Items: []cart.Item{line("A", "10.00", 1, 10)}}

	merged := Merge(cart.Empty(), some)
	assert.Len(t, merged.Items, 1)

	merged = Merge(some, cart.Empty())
	assert.Len(t, merged.Items, 1)

	merged = Merge(cart.Empty(), cart.Empty())
	assert.True(t, merged.IsEmpty())
}

func TestLogin_MergesAndAdoptsResult(t *testing.T) {
	svc := &mockService{serverCart: cart.Cart{
		Items: []cart.Item{
			line("A", "10.00", 1, 10),
			line("B", "5.00", 1, 10),
		},
		Revision: 3,
	}}
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 2, 10)}}
	r, st, adapter := newFixture(t, local, svc)

	// Seed the local snapshot the way a guest session would have.
	require.NoError(t, adapter.Save(st.Current()))

	require.NoError(t, r.Login(context.Background(), "u1"))

	c := st.Current()
	require.Len(t, c.Items, 2)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("35.00").Equal(c.Totals.Subtotal))

	require.Len(t, svc.pushed, 1, "merged cart is pushed back")
	assert.Len(t, svc.pushed[0].Items, 2)

	assert.True(t, adapter.Load().IsEmpty(), "local snapshot cleared after login")
}

func TestLogin_FetchFailureKeepsLocalCart(t *testing.T) {
	svc := &mockService{fetchErr: errors.New("service unreachable")}
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 2, 10)}}
	r, st, _ := newFixture(t, local, svc)

	err := r.Login(context.Background(), "u1")
	require.Error(t, err)

	c := st.Current()
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Empty(t, svc.pushed)
}

func TestLogin_PushFailureIsNonFatal(t *testing.T) {
	svc := &mockService{
		serverCart: cart.Cart{Items: []cart.Item{line("B", "5.00", 1, 10)}},
		pushErr:    errors.New("write failed"),
	}
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 1, 10)}}
	r, st, _ := newFixture(t, local, svc)

	require.NoError(t, r.Login(context.Background(), "u1"))
	assert.Len(t, st.Current().Items, 2, "merge result adopted despite push failure")
}

func TestLogout_SnapshotsLocallyServerUntouched(t *testing.T) {
	svc := &mockService{}
	local := cart.Cart{Items: []cart.Item{line("A", "10.00", 2, 10)}}
	r, st, adapter := newFixture(t, local, svc)

	require.NoError(t, r.Logout(context.Background()))

	snap := adapter.Load()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, st.Revision(), snap.Revision)
	assert.Empty(t, svc.pushed, "logout never writes to the server")
}
