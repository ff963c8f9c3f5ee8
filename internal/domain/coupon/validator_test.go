package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	byCode  map[string]*Coupon
	findErr error
	listErr error
	lookups int
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups++
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrIneligible
	}
	return c, nil
}

func (m *mockRepo) ListCodes(_ context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	codes := make([]string, 0, len(m.byCode))
	for code := range m.byCode {
		codes = append(codes, code)
	}
	return codes, nil
}

func newRepo(coupons ...Coupon) *mockRepo {
	byCode := make(map[string]*Coupon, len(coupons))
	for i := range coupons {
		byCode[coupons[i].Code] = &coupons[i]
	}
	return &mockRepo{byCode: byCode}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolve_KnownCode(t *testing.T) {
	repo := newRepo(Coupon{Code: "SAVE10", Kind: KindPercentage, Value: decimal.NewFromInt(10)})
	v := NewRepoValidator(repo)

	c, err := v.Resolve(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
}

func TestResolve_UnknownCode(t *testing.T) {
	v := NewRepoValidator(newRepo())

	_, err := v.Resolve(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrIneligible)
}

func TestResolve_FilterShortCircuitsUnknownCodes(t *testing.T) {
	repo := newRepo(Coupon{Code: "SAVE10", Kind: KindPercentage, Value: decimal.NewFromInt(10)})
	v := NewRepoValidator(repo)
	require.NoError(t, v.WarmFilter(context.Background()))

	_, err := v.Resolve(context.Background(), "DEFINITELY-NOT-A-CODE")
	require.ErrorIs(t, err, ErrIneligible)
	assert.Equal(t, 0, repo.lookups, "unknown code should be rejected by the filter")

	c, err := v.Resolve(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
}

func TestWarmFilter_EmptyTableKeepsFilterDisabled(t *testing.T) {
	repo := newRepo()
	v := NewRepoValidator(repo)
	require.NoError(t, v.WarmFilter(context.Background()))

	// A coupon added after the empty warm-up must still resolve.
	repo.byCode["LATER"] = &Coupon{Code: "LATER", Kind: KindPercentage, Value: decimal.NewFromInt(5)}

	c, err := v.Resolve(context.Background(), "LATER")
	require.NoError(t, err)
	assert.Equal(t, "LATER", c.Code)
}

func TestResolve_TemporalWindow(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)
	repo := newRepo(Coupon{
		Code:       "JUNE",
		Kind:       KindPercentage,
		Value:      decimal.NewFromInt(15),
		ValidFrom:  &from,
		ValidUntil: &until,
	})

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"before window", time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), ErrExpired},
		{"inside window", time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), nil},
		{"after window", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(repo)
			v.now = fixedNow(tt.now)

			_, err := v.Resolve(context.Background(), "JUNE")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolve_RepoError(t *testing.T) {
	v := NewRepoValidator(&mockRepo{findErr: errors.New("db down")})

	_, err := v.Resolve(context.Background(), "SAVE10")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIneligible)
}

func TestWarmFilter_ListError(t *testing.T) {
	v := NewRepoValidator(&mockRepo{listErr: errors.New("db down")})

	require.Error(t, v.WarmFilter(context.Background()))
}

func TestEligibleFor(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		subtotal string
		want     bool
	}{
		{"zero subtotal never eligible", Coupon{}, "0", false},
		{"no threshold", Coupon{}, "0.01", true},
		{"below threshold", Coupon{MinSubtotal: decimal.NewFromInt(100)}, "99.99", false},
		{"at threshold", Coupon{MinSubtotal: decimal.NewFromInt(100)}, "100.00", true},
		{"above threshold", Coupon{MinSubtotal: decimal.NewFromInt(100)}, "150.00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.EligibleFor(decimal.RequireFromString(tt.subtotal))
			assert.Equal(t, tt.want, got)
		})
	}
}
