package store

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
	"github.com/xenking/storefront-cart/internal/domain/coupon"
)

// --- Mock implementations ---

type mockPersister struct {
	saved   []cart.Cart
	cleared int
	saveErr error
}

func (m *mockPersister) Save(c cart.Cart) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, c)
	return nil
}

func (m *mockPersister) Clear() error {
	m.cleared++
	return nil
}

type mockSyncer struct {
	enqueued []cart.Cart
}

func (m *mockSyncer) Enqueue(c cart.Cart) {
	m.enqueued = append(m.enqueued, c)
}

// --- Helpers ---

func newTestStore(t *testing.T, taxRate string) (*Store, *mockPersister) {
	t.Helper()
	p := &mockPersister{}
	s := New(cart.Empty(), p, decimal.RequireFromString(taxRate), zap.NewNop())
	return s, p
}

func testItem(id, price string, stock int) cart.Item {
	return cart.Item{
		ProductID:      id,
		Name:           id,
		UnitPrice:      decimal.RequireFromString(price),
		AvailableStock: stock,
	}
}

func percentCoupon(code string, value int64) coupon.Coupon {
	return coupon.Coupon{Code: code, Kind: coupon.KindPercentage, Value: decimal.NewFromInt(value)}
}

// --- Tests ---

func TestStore_AddApplyRemoveLifecycle(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 2))

	c := s.Current()
	require.Len(t, c.Items, 1)
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Totals.Subtotal))

	require.NoError(t, s.ApplyCoupon(percentCoupon("SAVE10", 10)))

	c = s.Current()
	assert.True(t, decimal.RequireFromString("2.00").Equal(c.Totals.Discount))
	assert.True(t, decimal.RequireFromString("18.00").Equal(c.Totals.Grand))

	s.RemoveItem("p1", nil)

	c = s.Current()
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.AppliedCoupon, "coupon detaches when the cart empties")
	assert.True(t, decimal.Zero.Equal(c.Totals.Subtotal))
	assert.True(t, decimal.Zero.Equal(c.Totals.Discount))
	assert.True(t, decimal.Zero.Equal(c.Totals.Grand))
}

func TestStore_AddItemInvalidQuantity(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.ErrorIs(t, s.AddItem(testItem("p1", "10.00", 10), 0), ErrInvalidQuantity)
	require.ErrorIs(t, s.AddItem(testItem("p1", "10.00", 10), -3), ErrInvalidQuantity)
	assert.True(t, s.Current().IsEmpty())
}

func TestStore_AddItemRejectsAboveStock(t *testing.T) {
	s, _ := newTestStore(t, "0")

	err := s.AddItem(testItem("p1", "10.00", 3), 5)

	var stockErr *cart.QuantityExceedsStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)
	assert.True(t, s.Current().IsEmpty(), "rejected mutation leaves cart unchanged")
}

func TestStore_AddItemOutOfStock(t *testing.T) {
	s, _ := newTestStore(t, "0")

	err := s.AddItem(testItem("p1", "10.00", 0), 1)

	var stockErr *cart.QuantityExceedsStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)
}

func TestStore_AddItemIncrementsExistingLine(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 2))
	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 3))

	c := s.Current()
	require.Len(t, c.Items, 1, "same identity merges into one line")
	assert.Equal(t, 5, c.Items[0].Quantity)
}

func TestStore_AddItemIncrementClampsToStock(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 5), 4))
	err := s.AddItem(testItem("p1", "10.00", 5), 4)

	var clampErr *cart.QuantityClampedError
	require.ErrorAs(t, err, &clampErr)
	assert.Equal(t, 8, clampErr.Requested)
	assert.Equal(t, 5, clampErr.Clamped)

	c := s.Current()
	assert.Equal(t, 5, c.Items[0].Quantity, "clamped mutation is still applied")
}

func TestStore_VariantsAreSeparateLines(t *testing.T) {
	s, _ := newTestStore(t, "0")

	medium := testItem("p1", "10.00", 10)
	medium.Variant = cart.Variant{"size": "M"}
	large := testItem("p1", "10.00", 10)
	large.Variant = cart.Variant{"size": "L"}

	require.NoError(t, s.AddItem(medium, 1))
	require.NoError(t, s.AddItem(large, 2))

	assert.Len(t, s.Current().Items, 2)
}

func TestStore_RemoveItemIdempotent(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	rev := s.Revision()

	s.RemoveItem("p1", nil)
	afterFirst := s.Revision()
	assert.Greater(t, afterFirst, rev)

	s.RemoveItem("p1", nil)
	assert.Equal(t, afterFirst, s.Revision(), "removing an absent line is a no-op")
	s.RemoveItem("never-there", nil)
	assert.Equal(t, afterFirst, s.Revision())
}

func TestStore_UpdateQuantity(t *testing.T) {
	s, _ := newTestStore(t, "0")
	require.NoError(t, s.AddItem(testItem("p1", "10.00", 5), 1))

	require.NoError(t, s.UpdateQuantity("p1", nil, 3))
	assert.Equal(t, 3, s.Current().Items[0].Quantity)

	// Above stock clamps and reports.
	err := s.UpdateQuantity("p1", nil, 9)
	var clampErr *cart.QuantityClampedError
	require.ErrorAs(t, err, &clampErr)
	assert.Equal(t, 5, s.Current().Items[0].Quantity)

	// Below one removes the line.
	require.NoError(t, s.UpdateQuantity("p1", nil, 0))
	assert.True(t, s.Current().IsEmpty())

	// Absent line is a no-op.
	require.NoError(t, s.UpdateQuantity("p1", nil, 2))
	assert.True(t, s.Current().IsEmpty())
}

func TestStore_ApplyCouponIneligible(t *testing.T) {
	s, _ := newTestStore(t, "0")

	// Empty cart: zero subtotal is never eligible.
	require.ErrorIs(t, s.ApplyCoupon(percentCoupon("SAVE10", 10)), coupon.ErrIneligible)

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))

	c := percentCoupon("BIG", 20)
	c.MinSubtotal = decimal.NewFromInt(100)
	require.ErrorIs(t, s.ApplyCoupon(c), coupon.ErrIneligible)
	assert.Nil(t, s.Current().AppliedCoupon)
}

func TestStore_CouponDetachesWhenEligibilityLapses(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "60.00", 10), 2))

	c := percentCoupon("BIG", 20)
	c.MinSubtotal = decimal.NewFromInt(100)
	require.NoError(t, s.ApplyCoupon(c))
	require.NotNil(t, s.Current().AppliedCoupon)

	// Dropping to one unit takes the subtotal below the threshold.
	require.NoError(t, s.UpdateQuantity("p1", nil, 1))

	got := s.Current()
	assert.Nil(t, got.AppliedCoupon)
	assert.True(t, decimal.Zero.Equal(got.Totals.Discount))
}

func TestStore_RemoveCoupon(t *testing.T) {
	s, _ := newTestStore(t, "0")
	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	require.NoError(t, s.ApplyCoupon(percentCoupon("SAVE10", 10)))

	rev := s.Revision()
	s.RemoveCoupon()

	c := s.Current()
	assert.Nil(t, c.AppliedCoupon)
	assert.True(t, decimal.Zero.Equal(c.Totals.Discount))
	assert.Greater(t, s.Revision(), rev)

	// Removing again is a no-op.
	rev = s.Revision()
	s.RemoveCoupon()
	assert.Equal(t, rev, s.Revision())
}

func TestStore_TaxAndShipping(t *testing.T) {
	s, _ := newTestStore(t, "0.10")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 2))
	s.SetShipping(decimal.RequireFromString("4.99"))

	c := s.Current()
	assert.True(t, decimal.RequireFromString("2.00").Equal(c.Totals.Tax))
	assert.True(t, decimal.RequireFromString("4.99").Equal(c.Totals.Shipping))
	assert.True(t, decimal.RequireFromString("26.99").Equal(c.Totals.Grand))
}

func TestStore_GrandTotalFlooredAtZero(t *testing.T) {
	s, _ := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	require.NoError(t, s.ApplyCoupon(percentCoupon("FREE", 100)))

	c := s.Current()
	assert.True(t, decimal.Zero.Equal(c.Totals.Grand))
	assert.False(t, c.Totals.Grand.IsNegative())
}

func TestStore_Clear(t *testing.T) {
	s, p := newTestStore(t, "0.10")
	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 2))
	require.NoError(t, s.ApplyCoupon(percentCoupon("SAVE10", 10)))

	rev := s.Revision()
	s.Clear()

	c := s.Current()
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.AppliedCoupon)
	assert.True(t, decimal.Zero.Equal(c.Totals.Grand))
	assert.Greater(t, s.Revision(), rev)
	assert.Equal(t, 1, p.cleared)
}

func TestStore_RevisionMonotonicPerMutation(t *testing.T) {
	s, _ := newTestStore(t, "0")

	var last uint64
	step := func() {
		rev := s.Revision()
		require.Greater(t, rev, last)
		last = rev
	}

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	step()
	require.NoError(t, s.UpdateQuantity("p1", nil, 2))
	step()
	require.NoError(t, s.ApplyCoupon(percentCoupon("SAVE10", 10)))
	step()
	s.RemoveCoupon()
	step()
	s.RemoveItem("p1", nil)
	step()
}

func TestStore_PersistsEveryMutation(t *testing.T) {
	s, p := newTestStore(t, "0")

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	require.NoError(t, s.UpdateQuantity("p1", nil, 2))
	s.RemoveItem("p1", nil)

	require.Len(t, p.saved, 3)
	assert.Equal(t, 2, p.saved[1].Items[0].Quantity)
	assert.True(t, p.saved[2].IsEmpty())
}

func TestStore_PersistFailureIsNonFatal(t *testing.T) {
	p := &mockPersister{saveErr: errors.New("disk full")}
	s := New(cart.Empty(), p, decimal.Zero, zap.NewNop())

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	assert.Len(t, s.Current().Items, 1, "in-memory state stays correct")
}

func TestStore_SyncerWriteThrough(t *testing.T) {
	s, _ := newTestStore(t, "0")
	sy := &mockSyncer{}

	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	assert.Empty(t, sy.enqueued, "no write-through before attach")

	s.AttachSyncer(sy)
	require.NoError(t, s.UpdateQuantity("p1", nil, 2))
	require.Len(t, sy.enqueued, 1)
	assert.Equal(t, s.Revision(), sy.enqueued[0].Revision)

	s.DetachSyncer()
	s.RemoveItem("p1", nil)
	assert.Len(t, sy.enqueued, 1, "no write-through after detach")
}

func TestStore_NewRecomputesSnapshotTotals(t *testing.T) {
	// A tampered or stale snapshot must not carry its totals into memory.
	snapshot := cart.Cart{
		Items: []cart.Item{{
			ProductID:      "p1",
			UnitPrice:      decimal.RequireFromString("10.00"),
			Quantity:       2,
			AvailableStock: 10,
		}},
		Totals:   cart.Totals{Subtotal: decimal.NewFromInt(999), Grand: decimal.NewFromInt(1)},
		Revision: 5,
	}

	s := New(snapshot, &mockPersister{}, decimal.Zero, zap.NewNop())

	c := s.Current()
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Totals.Subtotal))
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Totals.Grand))
	assert.Equal(t, uint64(5), c.Revision)
}

func TestStore_Replace(t *testing.T) {
	s, _ := newTestStore(t, "0")
	require.NoError(t, s.AddItem(testItem("p1", "10.00", 10), 1))
	localRev := s.Revision()

	incoming := cart.Cart{
		Items: []cart.Item{{
			ProductID:      "p2",
			UnitPrice:      decimal.RequireFromString("5.00"),
			Quantity:       3,
			AvailableStock: 10,
		}},
		Revision: localRev + 10,
	}

	s.Replace(incoming)

	c := s.Current()
	require.Len(t, c.Items, 1)
	assert.Equal(t, "p2", c.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("15.00").Equal(c.Totals.Subtotal))
	assert.Greater(t, c.Revision, incoming.Revision, "revision continues past whichever side is ahead")
}
