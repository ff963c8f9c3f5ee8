// Package health serves the /livez and /readyz probe endpoints.
//
// Registered checks are sampled on a shared background loop. State
// transitions are smoothed with consecutive-result thresholds so a
// single slow sample does not bounce the service out of rotation: a
// check turns unhealthy after three straight failures and recovers on
// the first success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc samples one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	failAfter    = 3
	recoverAfter = 1
)

// probe is the smoothed state of one registered check.
type probe struct {
	name    string
	timeout time.Duration
	sample  CheckFunc

	mu       sync.Mutex
	degraded bool
	lastErr  error
	streakOK int
	streakKO int
}

// observe runs the check once and applies the thresholds.
func (p *probe) observe(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.sample(sctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.streakOK = 0
		p.streakKO++
		if p.streakKO >= failAfter {
			p.degraded = true
		}
		return
	}
	p.streakKO = 0
	p.streakOK++
	if p.streakOK >= recoverAfter {
		p.degraded = false
	}
}

func (p *probe) state() (degraded bool, lastErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded, p.lastErr
}

// Service collects probes and exposes them as HTTP endpoints.
type Service struct {
	mu        sync.Mutex
	ready     bool
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Service in the not-ready state. Call SetReady(true)
// once startup wiring is complete.
func New() *Service { return &Service{} }

// AddLivenessCheck registers a check behind /livez. Liveness failures
// mean the process itself is wedged and should be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	s.liveness = append(s.liveness, &probe{name: name, timeout: timeout, sample: check})
	s.mu.Unlock()
}

// AddReadinessCheck registers a check behind /readyz. Readiness
// failures take the instance out of rotation without restarting it.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	s.readiness = append(s.readiness, &probe{name: name, timeout: timeout, sample: check})
	s.mu.Unlock()
}

// Start samples every registered probe once, then keeps sampling on
// the given interval until ctx is cancelled or Stop is called.
// Register all checks before calling Start.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	go func() {
		sampleAll := func() {
			for _, p := range probes {
				p.observe(ctx)
			}
		}
		sampleAll()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleAll()
			}
		}
	}()
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it
// to false before draining so load balancers stop routing here.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// IsReady reports whether the manual gate is open and every readiness
// probe is passing.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	ready := s.ready
	probes := append([]*probe(nil), s.readiness...)
	s.mu.Unlock()

	if !ready {
		return false
	}
	for _, p := range probes {
		if degraded, _ := p.state(); degraded {
			return false
		}
	}
	return true
}

// Stop halts the sampling loop. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// LiveEndpoint handles /livez.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	probes := append([]*probe(nil), s.liveness...)
	s.mu.Unlock()

	writeProbeStatus(w, failing(probes))
}

// ReadyEndpoint handles /readyz. The manual gate is reported alongside
// probe failures so a drain is visible in the body.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ready := s.ready
	probes := append([]*probe(nil), s.readiness...)
	s.mu.Unlock()

	fails := failing(probes)
	if !ready {
		fails["_readiness"] = "service is not ready"
	}
	writeProbeStatus(w, fails)
}

// failing maps each degraded probe to its last error message.
func failing(probes []*probe) map[string]string {
	fails := make(map[string]string)
	for _, p := range probes {
		degraded, lastErr := p.state()
		if !degraded {
			continue
		}
		msg := "check is unhealthy"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		fails[p.name] = msg
	}
	return fails
}

// writeProbeStatus renders {"status":"ok"} on 200, or a 503 with the
// per-check failure messages under "checks".
func writeProbeStatus(w http.ResponseWriter, fails map[string]string) {
	status := http.StatusOK

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(fails) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(fails))
		for name := range fails {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(fails[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
