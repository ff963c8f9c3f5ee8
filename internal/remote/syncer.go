package remote

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-cart/internal/domain/cart"
)

// ErrSyncExhausted is handed to the warning callback when write-through
// keeps failing past the configured attempt budget. Local state stays
// authoritative; retries continue on later mutations and ticks.
var ErrSyncExhausted = errors.New("cart may not be saved to your account")

// CartPusher is the slice of the cart service the syncer needs.
type CartPusher interface {
	Push(ctx context.Context, userID string, snapshot cart.Cart) error
}

// SyncConfig tunes the write-through retry behaviour.
type SyncConfig struct {
	// MaxAttempts bounds consecutive failed pushes of one snapshot before
	// the warning callback fires.
	MaxAttempts int
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// TickInterval is the periodic background retry cadence.
	TickInterval time.Duration
}

// DefaultSyncConfig returns the production retry settings.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxAttempts:  5,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		TickInterval: time.Minute,
	}
}

// Syncer writes cart snapshots through to the cart service. Snapshots are
// coalesced: only the newest pending revision is ever pushed, so a sync
// superseded by a newer local mutation is dropped rather than applied.
// Enqueue never blocks the mutating caller.
type Syncer struct {
	client  CartPusher
	userID  string
	cfg     SyncConfig
	onWarn  func(error)
	lg      *zap.Logger
	wake    chan struct{}
	mu      sync.Mutex
	pending *cart.Cart
	// attempts counts consecutive failures for the current revision.
	attempts int
	warned   bool
}

// NewSyncer creates a Syncer for the given user. onWarn may be nil.
func NewSyncer(client CartPusher, userID string, cfg SyncConfig, onWarn func(error), lg *zap.Logger) *Syncer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSyncConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultSyncConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultSyncConfig().MaxDelay
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultSyncConfig().TickInterval
	}
	return &Syncer{
		client: client,
		userID: userID,
		cfg:    cfg,
		onWarn: onWarn,
		lg:     lg,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue records the snapshot as the latest pending state. Older pending
// snapshots are discarded; a snapshot older than the current pending one
// is ignored.
func (s *Syncer) Enqueue(c cart.Cart) {
	s.mu.Lock()
	if s.pending == nil || c.Revision > s.pending.Revision {
		snap := c.Clone()
		s.pending = &snap
		s.attempts = 0
		s.warned = false
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes pending snapshots until the context is cancelled. Call it
// in its own goroutine.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
			// Periodic ticks grant a fresh attempt budget to a snapshot
			// whose backoff retries were exhausted; the user warning is
			// not repeated.
			s.mu.Lock()
			if s.pending != nil {
				s.attempts = 0
			}
			s.mu.Unlock()
		}
		s.drain(ctx)
	}
}

// drain pushes the pending snapshot, backing off between consecutive
// failures, until it succeeds, is superseded, or the attempt budget for
// the current revision is spent.
func (s *Syncer) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.pending == nil || s.attempts >= s.cfg.MaxAttempts {
			s.mu.Unlock()
			return
		}
		snap := s.pending.Clone()
		s.mu.Unlock()

		err := s.client.Push(ctx, s.userID, snap)

		s.mu.Lock()
		// A newer snapshot may have arrived while the push was in flight;
		// its Enqueue reset the counters and will be picked up next loop.
		superseded := s.pending == nil || s.pending.Revision != snap.Revision

		if err == nil {
			if !superseded {
				s.pending = nil
				s.attempts = 0
			}
			s.mu.Unlock()
			if superseded {
				continue
			}
			return
		}

		if errors.Is(err, ErrStale) {
			// The server is ahead of us; keep local state authoritative for
			// this session and stop retrying this revision.
			if !superseded {
				s.pending = nil
				s.attempts = 0
			}
			s.mu.Unlock()
			s.lg.Warn("server rejected stale cart snapshot",
				zap.Uint64("revision", snap.Revision))
			if superseded {
				continue
			}
			return
		}

		if superseded {
			s.mu.Unlock()
			continue
		}

		s.attempts++
		attempts := s.attempts
		exhausted := attempts >= s.cfg.MaxAttempts && !s.warned
		if exhausted {
			s.warned = true
		}
		s.mu.Unlock()

		s.lg.Warn("cart write-through failed",
			zap.Int("attempt", attempts),
			zap.Uint64("revision", snap.Revision),
			zap.Error(err))

		if exhausted {
			if s.onWarn != nil {
				s.onWarn(ErrSyncExhausted)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff(attempts)):
		}
	}
}

func (s *Syncer) backoff(attempt int) time.Duration {
	d := s.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	return d
}
