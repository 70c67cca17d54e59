// Package pipeline orchestrates the full keyword enrichment run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/accumulator"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/budget"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/runner"
)

// Outcome is how a run ended.
type Outcome string

const (
	// Completed means every batch was issued.
	Completed Outcome = "completed"
	// AbortedFailureRate means the run stopped early because too many
	// batches were failing.
	AbortedFailureRate Outcome = "aborted_failure_rate"
	// AbortedTimeout means the run stopped early on the wall-clock budget
	// or external cancellation.
	AbortedTimeout Outcome = "aborted_timeout"
)

// Result is the merged outcome of a run. Keywords holds every input keyword;
// ones that never resolved map to nil.
type Result struct {
	Keywords       keywords.ResultMap
	Outcome        Outcome
	Stats          keywords.ProcessingStats
	FailedKeywords []string
}

// Config controls orchestration.
type Config struct {
	// BatchSize is how many keywords go into one dispatch; default 20.
	BatchSize int
	// FinalizeTimeout bounds the flush/save work performed after the batch
	// loop exits, so a canceled run still finalizes; default 30s.
	FinalizeTimeout time.Duration
}

const (
	defaultBatchSize       = 20
	defaultFinalizeTimeout = 30 * time.Second
)

// Pipeline drives the sequential batch loop: split keywords into batches, run
// each through the resilient runner, stream results into the accumulator, and
// checkpoint as the budget dictates.
type Pipeline struct {
	source       keywords.KeywordSource
	runner       *runner.Runner
	accumulator  *accumulator.Accumulator
	checkpointer *budget.Checkpointer
	cfg          Config
	logger       *zap.Logger
}

// New builds a Pipeline.
func New(
	source keywords.KeywordSource,
	r *runner.Runner,
	acc *accumulator.Accumulator,
	cp *budget.Checkpointer,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:       source,
		runner:       r,
		accumulator:  acc,
		checkpointer: cp,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run executes the whole pipeline and returns the merged per-keyword result.
// The error is non-nil only when the keyword source itself fails; batch-level
// failures are absorbed into stats and the result map.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	kws, err := p.source.Keywords(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load keywords: %w", err)
	}
	kws = dedupe(kws)

	merged := make(keywords.ResultMap, len(kws))
	for _, kw := range kws {
		merged[kw] = nil
	}

	batches := split(kws, p.cfg.BatchSize)
	p.logger.Info("run starting",
		zap.String("run_id", p.checkpointer.RunID().String()),
		zap.Int("keywords", len(kws)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	outcome := Completed
loop:
	for _, batch := range batches {
		if p.checkpointer.IsApproachingTimeout() {
			p.logger.Warn("runtime budget reached, stopping",
				zap.Duration("elapsed", p.checkpointer.Elapsed()),
			)
			outcome = AbortedTimeout
			break loop
		}
		if ctx.Err() != nil {
			p.logger.Warn("run canceled, stopping", zap.Error(ctx.Err()))
			outcome = AbortedTimeout
			break loop
		}

		res := p.runner.Run(ctx, batch)
		for kw, m := range res.Results {
			merged[kw] = m
		}
		if res.Success {
			p.accumulator.OfferResults(ctx, batch, res.Results)
		}
		p.checkpointer.Observe(ctx, len(batch.Keywords))

		if !p.runner.ShouldContinue() {
			outcome = AbortedFailureRate
			break loop
		}
	}

	p.finalize(ctx, outcome)

	result := Result{
		Keywords:       merged,
		Outcome:        outcome,
		Stats:          p.runner.Stats(),
		FailedKeywords: p.runner.FailedKeywords(),
	}
	p.logSummary(result)
	return result, nil
}

// finalize flushes buffers and checkpoints regardless of how the loop exited.
// It runs on a context detached from the run's cancellation so that a SIGINT
// still gets its final flush, bounded by FinalizeTimeout.
func (p *Pipeline) finalize(ctx context.Context, outcome Outcome) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FinalizeTimeout)
	defer cancel()

	p.accumulator.FinalFlush(fctx)

	switch outcome {
	case Completed:
		if err := p.checkpointer.SaveLocal(fctx); err != nil {
			p.logger.Error("final local save failed", zap.Error(err))
		}
		if err := p.checkpointer.CommitExternal(fctx, true); err != nil {
			p.logger.Error("final commit failed", zap.Error(err))
		}
	default:
		p.checkpointer.EmergencySave(fctx, string(outcome))
	}
}

func (p *Pipeline) logSummary(r Result) {
	p.logger.Info("run finished",
		zap.String("outcome", string(r.Outcome)),
		zap.Int("total_batches", r.Stats.TotalBatches),
		zap.Int("successful_batches", r.Stats.SuccessfulBatches),
		zap.Int("failed_batches", r.Stats.FailedBatches),
		zap.Int("retried_batches", r.Stats.RetriedBatches),
		zap.Int("total_keywords", r.Stats.TotalKeywords),
		zap.Int("successful_keywords", r.Stats.SuccessfulKeywords),
		zap.Float64("batch_success_rate", r.Stats.SuccessRate()),
		zap.Float64("keyword_success_rate", r.Stats.KeywordSuccessRate()),
		zap.Duration("elapsed", p.checkpointer.Elapsed()),
	)
	if len(r.FailedKeywords) > 0 {
		p.logger.Warn("keywords left unresolved by failed batches",
			zap.Int("count", len(r.FailedKeywords)),
		)
	}
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// split chunks keywords into consecutively numbered batches of at most size.
func split(kws []string, size int) []keywords.Batch {
	batches := make([]keywords.Batch, 0, (len(kws)+size-1)/size)
	for i := 0; i < len(kws); i += size {
		end := i + size
		if end > len(kws) {
			end = len(kws)
		}
		batches = append(batches, keywords.Batch{
			ID:       len(batches),
			Keywords: kws[i:end],
		})
	}
	return batches
}
