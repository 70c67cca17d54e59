// Package runner drives batches through dispatch with retry, backoff, and
// circuit breaking.
package runner

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/endpoint"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/telemetry"
)

// CircuitState describes the breaker position.
type CircuitState string

// Breaker positions. CoolingDown means the breaker is open but its cooldown
// has elapsed, so the next batch attempt proceeds as a probe.
const (
	CircuitClosed      CircuitState = "closed"
	CircuitOpen        CircuitState = "open"
	CircuitCoolingDown CircuitState = "cooling_down"
)

// Config controls retry, backoff, and abort behavior. Zero values fall back
// to defaults.
type Config struct {
	MaxRetries           int           // default 2
	RetryDelayBase       time.Duration // default 1s
	RetryDelayMax        time.Duration // default 60s
	CircuitThreshold     int           // consecutive batch failures before opening; default 5
	CircuitCooldown      time.Duration // default 300s
	FailureRateThreshold float64       // run aborts once failure rate exceeds this; default 0.3
	MinSampleBatches     int           // batches observed before the abort check applies; default 10
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelayBase <= 0 {
		c.RetryDelayBase = time.Second
	}
	if c.RetryDelayMax <= 0 {
		c.RetryDelayMax = 60 * time.Second
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 300 * time.Second
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.3
	}
	if c.MinSampleBatches <= 0 {
		c.MinSampleBatches = 10
	}
}

// Runner executes one batch at a time against the endpoint pool. It owns the
// circuit breaker and the run-wide processing stats. The mutex exists so the
// observability server can read stats while the batch loop runs; the loop
// itself is sequential.
type Runner struct {
	pool       *endpoint.Pool
	dispatcher keywords.Dispatcher
	clock      keywords.Clock
	cfg        Config
	logger     *zap.Logger

	mu                  sync.Mutex
	stats               keywords.ProcessingStats
	consecutiveFailures int
	open                bool
	openedAt            time.Time
	failedKeywords      map[string]struct{}
}

// New builds a Runner.
func New(
	pool *endpoint.Pool,
	dispatcher keywords.Dispatcher,
	clock keywords.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		pool:           pool,
		dispatcher:     dispatcher,
		clock:          clock,
		cfg:            cfg,
		logger:         logger,
		failedKeywords: make(map[string]struct{}),
	}
}

// Run drives one batch through dispatch with bounded retry. Stats are updated
// exactly once per call, after the batch outcome is known.
func (r *Runner) Run(ctx context.Context, batch keywords.Batch) keywords.BatchResult {
	start := r.clock.Now()

	if r.circuitBlocked() {
		r.logger.Warn("circuit open, skipping batch", zap.Int("batch_id", batch.ID))
		return r.finish(batch, absentAll(batch), false, keywords.ErrCircuitOpen, 0, start)
	}

	var lastErr error
	attempt := 0
	for ; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			r.logger.Info("retrying batch",
				zap.Int("batch_id", batch.ID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		// Retries may land on a different, healthier endpoint.
		id := r.pool.SelectNext()
		if err := r.pool.WaitForSlot(ctx, id); err != nil {
			lastErr = err
			break
		}

		results, err := r.dispatcher.Dispatch(ctx, r.pool.BaseURL(id), batch)
		if err == nil {
			r.pool.ReportSuccess(id)
			telemetry.ObserveEndpointRequest(id, "success")
			r.circuitReset()
			return r.finish(batch, results, true, nil, attempt, start)
		}

		lastErr = err
		r.pool.ReportFailure(id)
		telemetry.ObserveEndpointRequest(id, "failure")
		r.logger.Warn("batch dispatch failed",
			zap.Int("batch_id", batch.ID),
			zap.Int("endpoint", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	r.circuitTrip()
	retries := attempt
	if retries > r.cfg.MaxRetries {
		retries = r.cfg.MaxRetries
	}
	return r.finish(batch, absentAll(batch), false, lastErr, retries, start)
}

// ShouldContinue reports whether the run-wide failure rate still permits
// issuing new batches. It never aborts before MinSampleBatches have completed.
func (r *Runner) ShouldContinue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stats.TotalBatches < r.cfg.MinSampleBatches {
		return true
	}
	if r.stats.SuccessRate() < 1-r.cfg.FailureRateThreshold {
		r.logger.Warn("failure rate above threshold, aborting run",
			zap.Float64("success_rate", r.stats.SuccessRate()),
			zap.Float64("threshold", r.cfg.FailureRateThreshold),
		)
		return false
	}
	return true
}

// Stats returns a copy of the run-wide processing stats.
func (r *Runner) Stats() keywords.ProcessingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Circuit returns the current breaker state.
func (r *Runner) Circuit() CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitStateLocked()
}

// FailedKeywords returns every keyword that belonged to an exhausted batch,
// for re-run tooling.
func (r *Runner) FailedKeywords() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.failedKeywords))
	for kw := range r.failedKeywords {
		out = append(out, kw)
	}
	return out
}

func (r *Runner) circuitStateLocked() CircuitState {
	if !r.open {
		return CircuitClosed
	}
	if r.clock.Now().Sub(r.openedAt) >= r.cfg.CircuitCooldown {
		return CircuitCoolingDown
	}
	return CircuitOpen
}

// circuitBlocked reports whether dispatch must be short-circuited. A breaker
// in CoolingDown lets the next batch through as a probe.
func (r *Runner) circuitBlocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitStateLocked() == CircuitOpen
}

func (r *Runner) circuitReset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures = 0
	if r.open {
		r.open = false
		r.logger.Info("circuit closed")
	}
	telemetry.SetCircuitState(0)
}

func (r *Runner) circuitTrip() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures++
	if r.open {
		// Failed probe: restart the cooldown window.
		r.openedAt = r.clock.Now()
		telemetry.SetCircuitState(1)
		return
	}
	if r.consecutiveFailures >= r.cfg.CircuitThreshold {
		r.open = true
		r.openedAt = r.clock.Now()
		telemetry.SetCircuitState(1)
		r.logger.Warn("circuit opened",
			zap.Int("consecutive_failures", r.consecutiveFailures),
		)
	}
}

func (r *Runner) finish(
	batch keywords.Batch,
	results keywords.ResultMap,
	success bool,
	err error,
	retryCount int,
	start time.Time,
) keywords.BatchResult {
	duration := r.clock.Now().Sub(start)

	present := 0
	for _, m := range results {
		if m != nil {
			present++
		}
	}
	absent := len(batch.Keywords) - present

	r.mu.Lock()
	r.stats.TotalBatches++
	r.stats.TotalKeywords += len(batch.Keywords)
	if success {
		r.stats.SuccessfulBatches++
		r.stats.SuccessfulKeywords += present
		r.stats.FailedKeywords += absent
	} else {
		r.stats.FailedBatches++
		r.stats.FailedKeywords += len(batch.Keywords)
		for _, kw := range batch.Keywords {
			r.failedKeywords[kw] = struct{}{}
		}
	}
	if retryCount > 0 {
		r.stats.RetriedBatches++
	}
	r.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	telemetry.ObserveBatch(outcome, duration)
	telemetry.ObserveKeywords(present, absent)

	return keywords.BatchResult{
		BatchID:    batch.ID,
		Success:    success,
		Results:    results,
		Err:        err,
		RetryCount: retryCount,
		Duration:   duration,
	}
}

// backoff returns min(RetryDelayMax, RetryDelayBase * 2^attempt) with ±20%
// jitter applied.
func (r *Runner) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.RetryDelayBase) * math.Pow(2, float64(attempt))
	if delay > float64(r.cfg.RetryDelayMax) {
		delay = float64(r.cfg.RetryDelayMax)
	}
	span := delay * 0.2
	delay += span * (2*randomUnit() - 1)
	if delay < float64(time.Millisecond) {
		delay = float64(time.Millisecond)
	}
	return time.Duration(delay)
}

// randomUnit returns a uniform value in [0, 1).
func randomUnit() float64 {
	const scale = 1 << 20
	n, err := rand.Int(rand.Reader, big.NewInt(scale))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / scale
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func absentAll(batch keywords.Batch) keywords.ResultMap {
	results := make(keywords.ResultMap, len(batch.Keywords))
	for _, kw := range batch.Keywords {
		results[kw] = nil
	}
	return results
}
