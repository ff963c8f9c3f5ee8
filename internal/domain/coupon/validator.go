package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const filterFPR = 0.001

// Validator resolves a coupon code to a full Coupon definition, checking
// temporal validity.
type Validator interface {
	Resolve(ctx context.Context, code string) (*Coupon, error)
}

// RepoValidator implements Validator by looking up coupon definitions in a
// Repository. An optional bloom filter of known codes rejects unknown
// codes without a repository round trip; false positives fall through to
// the lookup, so correctness does not depend on the filter. While the
// coupon table is empty the filter stays disabled, so codes added after
// startup are still found until the next refresh rebuilds it.
type RepoValidator struct {
	repo Repository
	now  func() time.Time

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// WarmFilter rebuilds the negative-lookup filter from the current set of
// active coupon codes. Safe to skip; Resolve works without it.
func (v *RepoValidator) WarmFilter(ctx context.Context) error {
	codes, err := v.repo.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}

	var f *bloom.BloomFilter
	if len(codes) > 0 {
		f = bloom.NewWithEstimates(uint(len(codes)), filterFPR)
		for _, code := range codes {
			f.AddString(code)
		}
	}

	v.mu.Lock()
	v.filter = f
	v.mu.Unlock()
	return nil
}

// RunRefresh rebuilds the filter every interval until the context is
// cancelled, picking up coupons ingested after startup. Call it in its
// own goroutine.
func (v *RepoValidator) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are transient; the previous filter stays in place.
			_ = v.WarmFilter(ctx)
		}
	}
}

// Resolve looks up the coupon definition for code and verifies it is inside
// its validity window. Unknown codes return ErrIneligible.
func (v *RepoValidator) Resolve(ctx context.Context, code string) (*Coupon, error) {
	v.mu.RLock()
	f := v.filter
	v.mu.RUnlock()
	if f != nil && !f.TestString(code) {
		return nil, ErrIneligible
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrIneligible) {
			return nil, ErrIneligible
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrExpired
	}

	return c, nil
}
