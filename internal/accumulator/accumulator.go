// Package accumulator buffers enriched keywords and flushes them to the
// persistence and submission sinks in small batches.
package accumulator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/telemetry"
)

const defaultFlushThreshold = 5

// Config controls flush behavior.
type Config struct {
	// FlushThreshold is the buffer size that triggers a flush; default 5.
	FlushThreshold int
}

// Accumulator collects enriched keywords as batches complete and pushes them
// out once either buffer reaches the flush threshold. Flush errors are logged
// and dropped rather than failing the run; the buffers are cleared either way
// so a broken sink cannot grow them without bound.
type Accumulator struct {
	persistence keywords.PersistenceSink
	submission  keywords.SubmissionSink
	clock       keywords.Clock
	threshold   int
	logger      *zap.Logger

	mu            sync.Mutex
	persistBuffer []keywords.EnrichedItem
	submitBuffer  []keywords.EnrichedItem
	flushed       int
}

// New builds an Accumulator. Either sink may be nil, in which case its buffer
// is never populated.
func New(
	persistence keywords.PersistenceSink,
	submission keywords.SubmissionSink,
	clock keywords.Clock,
	cfg Config,
	logger *zap.Logger,
) *Accumulator {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = defaultFlushThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{
		persistence: persistence,
		submission:  submission,
		clock:       clock,
		threshold:   cfg.FlushThreshold,
		logger:      logger,
	}
}

// Offer appends one resolved keyword to both buffers and flushes any buffer
// that has reached the threshold. Keywords that resolved to absent must not
// be offered.
func (a *Accumulator) Offer(ctx context.Context, keyword string, m *keywords.Metrics) {
	if m == nil {
		return
	}
	item := keywords.EnrichedItem{
		Keyword:    keyword,
		Metrics:    *m,
		ObservedAt: a.clock.Now(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.persistence != nil {
		a.persistBuffer = append(a.persistBuffer, item)
		if len(a.persistBuffer) >= a.threshold {
			a.flushPersistLocked(ctx)
		}
	}
	if a.submission != nil {
		a.submitBuffer = append(a.submitBuffer, item)
		if len(a.submitBuffer) >= a.threshold {
			a.flushSubmitLocked(ctx)
		}
	}
}

// OfferResults feeds every present keyword from a batch result into the
// accumulator, in the order the batch listed them.
func (a *Accumulator) OfferResults(ctx context.Context, batch keywords.Batch, results keywords.ResultMap) {
	for _, kw := range batch.Keywords {
		a.Offer(ctx, kw, results[kw])
	}
}

// FinalFlush drains whatever remains in both buffers. It is safe to call more
// than once; subsequent calls with empty buffers do nothing.
func (a *Accumulator) FinalFlush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.persistBuffer) > 0 {
		a.flushPersistLocked(ctx)
	}
	if len(a.submitBuffer) > 0 {
		a.flushSubmitLocked(ctx)
	}
}

// Flushed returns how many items have been handed to sinks so far, counting
// each item once even though it goes to both sinks.
func (a *Accumulator) Flushed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushed
}

// Pending returns the current sizes of the persistence and submission buffers.
func (a *Accumulator) Pending() (persist, submit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.persistBuffer), len(a.submitBuffer)
}

func (a *Accumulator) flushPersistLocked(ctx context.Context) {
	items := make([]keywords.EnrichedItem, len(a.persistBuffer))
	copy(items, a.persistBuffer)
	a.persistBuffer = a.persistBuffer[:0]
	a.flushed += len(items)

	if err := a.persistence.Save(ctx, items); err != nil {
		a.logger.Error("persistence flush failed",
			zap.Int("items", len(items)),
			zap.Error(err),
		)
		return
	}
	telemetry.ObserveFlush("persistence")
	a.logger.Debug("persistence flush", zap.Int("items", len(items)))
}

func (a *Accumulator) flushSubmitLocked(ctx context.Context) {
	items := make([]keywords.EnrichedItem, len(a.submitBuffer))
	copy(items, a.submitBuffer)
	a.submitBuffer = a.submitBuffer[:0]
	if a.persistence == nil {
		a.flushed += len(items)
	}

	if err := a.submission.Submit(ctx, items); err != nil {
		a.logger.Error("submission flush failed",
			zap.Int("items", len(items)),
			zap.Error(err),
		)
		return
	}
	telemetry.ObserveFlush("submission")
	a.logger.Debug("submission flush", zap.Int("items", len(items)))
}
