// Package endpoint tracks health and rate state for the remote metrics endpoints.
package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/telemetry"
)

// Config controls pool behavior. Zero values fall back to defaults.
type Config struct {
	// Interval is the minimum spacing between requests to one endpoint.
	Interval time.Duration
	// FailureThreshold is how many consecutive failures mark an endpoint unhealthy.
	FailureThreshold int
	// HealthCheckInterval is the cooldown before an unhealthy endpoint is probed again.
	HealthCheckInterval time.Duration
}

const (
	defaultFailureThreshold    = 3
	defaultHealthCheckInterval = 300 * time.Second
	defaultInterval            = time.Second
)

type entry struct {
	state   State
	limiter *rate.Limiter
}

// Pool holds the authoritative health/rate state of all configured endpoints
// and hands out the next endpoint to use. Health bookkeeping is guarded by the
// pool mutex; slot accounting is independent per endpoint so that N endpoints
// sustain N times the single-endpoint throughput.
type Pool struct {
	mu       sync.Mutex
	entries  []*entry
	cursor   int
	strategy SelectionStrategy
	cfg      Config
	clock    keywords.Clock
	logger   *zap.Logger
}

// New builds a Pool over the given base URLs. A nil strategy selects
// health-aware round robin with the configured cooldown.
func New(
	baseURLs []string,
	cfg Config,
	strategy SelectionStrategy,
	clock keywords.Clock,
	logger *zap.Logger,
) (*Pool, error) {
	if len(baseURLs) == 0 {
		return nil, keywords.ErrNoEndpoints
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if strategy == nil {
		strategy = HealthAwareRoundRobin{Cooldown: cfg.HealthCheckInterval}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries := make([]*entry, 0, len(baseURLs))
	for i, u := range baseURLs {
		entries = append(entries, &entry{
			state: State{
				ID:      i,
				BaseURL: u,
				Healthy: true,
			},
			limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		})
	}

	return &Pool{
		entries:  entries,
		strategy: strategy,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SelectNext returns the ID of the next endpoint to use according to the
// selection strategy, applying half-open reactivation when the strategy
// requests it.
func (p *Pool) SelectNext() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := p.statesLocked()
	idx, reactivate := p.strategy.Select(p.clock.Now(), states, p.cursor)
	p.cursor = (idx + 1) % len(p.entries)

	if reactivate {
		st := &p.entries[idx].state
		st.Healthy = true
		// One more failure re-trips a reactivated endpoint.
		st.ConsecutiveFailures = p.cfg.FailureThreshold - 1
		p.logger.Info("endpoint provisionally reactivated",
			zap.Int("endpoint", st.ID),
			zap.Time("last_failure_at", st.LastFailureAt),
		)
	}
	return p.entries[idx].state.ID
}

// ReportSuccess resets the endpoint's failure streak and marks it healthy.
func (p *Pool) ReportSuccess(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := &p.entries[id].state
	st.ConsecutiveFailures = 0
	st.Healthy = true
	st.RequestsServed++
}

// ReportFailure increments the endpoint's failure streak and sidelines the
// endpoint once the streak reaches the failure threshold.
func (p *Pool) ReportFailure(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := &p.entries[id].state
	st.ConsecutiveFailures++
	if st.ConsecutiveFailures >= p.cfg.FailureThreshold {
		st.Healthy = false
		st.LastFailureAt = p.clock.Now()
		p.logger.Warn("endpoint marked unhealthy",
			zap.Int("endpoint", id),
			zap.Int("consecutive_failures", st.ConsecutiveFailures),
		)
	}
}

// WaitForSlot blocks until the endpoint's minimum inter-request interval has
// elapsed, or the context is canceled. The caller must issue the following
// request before releasing the slot to another user of the same endpoint.
func (p *Pool) WaitForSlot(ctx context.Context, id int) error {
	limiter := p.entries[id].limiter

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate slot wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(id, waited)
	}
	return nil
}

// BaseURL returns the endpoint's base URL.
func (p *Pool) BaseURL(id int) string {
	return p.entries[id].state.BaseURL
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	return len(p.entries)
}

// States returns a snapshot of all endpoint states for observability.
func (p *Pool) States() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statesLocked()
}

func (p *Pool) statesLocked() []State {
	states := make([]State, len(p.entries))
	for i, e := range p.entries {
		states[i] = e.state
	}
	return states
}
