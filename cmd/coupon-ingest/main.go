// Command coupon-ingest loads bulk promo-code dumps into the coupons
// table. A code counts as genuine only when it appears in at least two
// of the three dump files, so a corrupted or tampered dump cannot mint
// codes on its own.
//
// The dumps are too large to cross-check in memory. The tool streams
// each file twice: the first pass builds one bloom filter per file, the
// second pass tests every code against the other files' filters and
// keeps those confirmed by the exact membership count.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-cart/internal/domain/coupon"
	"github.com/xenking/storefront-cart/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	dumpCount     = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule is the discount attached to a recognized promo code.
// Unrecognized but confirmed codes fall back to defaultRule.
type codeRule struct {
	kind        coupon.Kind
	value       decimal.Decimal
	minSubtotal decimal.Decimal
	description string
}

func pct(value string, desc string) codeRule {
	return codeRule{kind: coupon.KindPercentage, value: decimal.RequireFromString(value), description: desc}
}

func fixed(value, minSubtotal string, desc string) codeRule {
	return codeRule{
		kind:        coupon.KindFixedAmount,
		value:       decimal.RequireFromString(value),
		minSubtotal: decimal.RequireFromString(minSubtotal),
		description: desc,
	}
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": pct("50", "50% off entire order"),
	"SIXTYOFF": pct("60", "60% off entire order"),
	"GNULINUX": pct("15", "Open source discount: 15% off"),
	"HAPPYHRS": pct("18", "Happy Hours: 18% off"),
	"OVER9000": fixed("9", "0", "$9 off your order"),
	"BIGSAVER": fixed("20", "100", "$20 off orders over $100"),
}

var defaultRule = pct("10", "Valid promo code: 10% off")

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	dumps := make([]string, dumpCount)
	for i := range dumpCount {
		dumps[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, d := range dumps {
		if _, err := os.Stat(d); err != nil {
			return errors.Wrapf(err, "check dump %s", d)
		}
	}

	slog.Info("pass 1: building per-dump bloom filters", slog.Int("dumps", dumpCount))
	filters, err := buildFilters(ctx, dumps)
	if err != nil {
		return errors.Wrap(err, "build filters")
	}

	slog.Info("pass 2: cross-checking codes between dumps")
	confirmed, err := collectConfirmed(ctx, dumps, filters)
	if err != nil {
		return errors.Wrap(err, "cross-check dumps")
	}

	slog.Info("confirmed codes", slog.Int("count", len(confirmed)))
	if len(confirmed) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return storeCoupons(ctx, postgres.NewCouponRepository(pool), confirmed)
}

// buildFilters streams every dump once and fills one bloom filter per
// dump, all dumps in parallel.
func buildFilters(ctx context.Context, dumps []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, dump := range dumps {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var seen uint64

			err := scanCodes(ctx, dump, func(code string) {
				filter.AddString(code)
				seen++
				if seen%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("dump", i+1), slog.Uint64("codes", seen))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "fill filter for dump %d", i+1)
			}

			slog.Info("pass 1 dump done", slog.Int("dump", i+1), slog.Uint64("codes", seen))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectConfirmed streams every dump a second time. A code is a
// candidate when some other dump's filter also claims it; candidates
// are tagged with a per-dump bit so the merge can count exact
// occurrences and drop bloom false positives that only one dump saw.
func collectConfirmed(ctx context.Context, dumps []string, filters []*bloom.BloomFilter) ([]string, error) {
	perDump := make([]map[string]uint, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, dump := range dumps {
		g.Go(func() error {
			candidates := make(map[string]uint)
			dumpBit := uint(1) << uint(i)
			var seen uint64

			err := scanCodes(ctx, dump, func(code string) {
				seen++
				if seen%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("dump", i+1), slog.Uint64("codes", seen))
				}
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						candidates[code] |= dumpBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan dump %d", i+1)
			}

			slog.Info("pass 2 dump done",
				slog.Int("dump", i+1),
				slog.Uint64("codes", seen),
				slog.Int("candidates", len(candidates)),
			)
			perDump[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range perDump {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	var confirmed []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			confirmed = append(confirmed, code)
		}
	}
	return confirmed, nil
}

// scanCodes streams a gzip dump line by line, passing codes of
// plausible length to fn.
func scanCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := scanner.Text()
		if len(code) >= minCodeLen && len(code) <= maxCodeLen {
			fn(code)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// storeCoupons upserts every confirmed code with its rule.
func storeCoupons(ctx context.Context, repo *postgres.CouponRepository, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		c := coupon.Coupon{
			Code:        code,
			Kind:        rule.kind,
			Value:       rule.value,
			MinSubtotal: rule.minSubtotal,
			Description: rule.description,
		}
		if err := repo.Upsert(ctx, c, true); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
