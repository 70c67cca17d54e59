// Package budget enforces the run's wall-clock budget and drives periodic
// checkpointing of progress.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/telemetry"
)

// Config controls the runtime budget and checkpoint cadence. Zero values fall
// back to defaults.
type Config struct {
	// MaxRuntime is the wall-clock budget for the whole run; default 5h.
	MaxRuntime time.Duration
	// SafetyMargin is subtracted from MaxRuntime when deciding whether the
	// run is approaching timeout. Optional; zero means the budget itself is
	// the cutoff.
	SafetyMargin time.Duration
	// SaveInterval is how many processed keywords between local checkpoint
	// saves; default 1000.
	SaveInterval int
	// CommitInterval is how many processed keywords between external
	// commits; default 5000.
	CommitInterval int
	// CommitEnabled gates all external commits, including emergency saves.
	CommitEnabled bool
}

func (c *Config) applyDefaults() {
	if c.MaxRuntime <= 0 {
		c.MaxRuntime = 5 * time.Hour
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 1000
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 5000
	}
}

// Checkpointer tracks how many keywords the run has processed, saves local
// checkpoints at the save interval, and pushes external commits at the commit
// interval. It also answers whether the run is close enough to its wall-clock
// budget that it should stop issuing new batches.
type Checkpointer struct {
	store  keywords.CheckpointStore
	commit keywords.CommitSink
	clock  keywords.Clock
	cfg    Config
	logger *zap.Logger

	runID   uuid.UUID
	started time.Time

	mu          sync.Mutex
	total       int
	sinceSave   int
	sinceCommit int
}

// New builds a Checkpointer and starts its wall clock. The commit sink may be
// nil when commits are disabled.
func New(
	store keywords.CheckpointStore,
	commit keywords.CommitSink,
	clock keywords.Clock,
	cfg Config,
	logger *zap.Logger,
) *Checkpointer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{
		store:   store,
		commit:  commit,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		runID:   uuid.New(),
		started: clock.Now(),
	}
}

// RunID returns the unique identifier of this run.
func (c *Checkpointer) RunID() uuid.UUID {
	return c.runID
}

// Elapsed returns how long the run has been going.
func (c *Checkpointer) Elapsed() time.Duration {
	return c.clock.Now().Sub(c.started)
}

// Remaining returns how much of the budget is left; negative once exceeded.
func (c *Checkpointer) Remaining() time.Duration {
	return c.cfg.MaxRuntime - c.Elapsed()
}

// IsApproachingTimeout reports whether the run is within the safety margin of
// its wall-clock budget and should stop issuing new batches.
func (c *Checkpointer) IsApproachingTimeout() bool {
	return c.Elapsed() >= c.cfg.MaxRuntime-c.cfg.SafetyMargin
}

// TotalProcessed returns how many keywords have been observed so far.
func (c *Checkpointer) TotalProcessed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Observe records that processed more keywords have completed, saving a local
// checkpoint and/or pushing an external commit whenever the respective
// interval has been crossed. Checkpoint errors are logged, not fatal: losing
// a checkpoint only costs re-querying on the next run.
func (c *Checkpointer) Observe(ctx context.Context, processed int) {
	if processed <= 0 {
		return
	}

	c.mu.Lock()
	c.total += processed
	c.sinceSave += processed
	c.sinceCommit += processed
	save := c.sinceSave >= c.cfg.SaveInterval
	commit := c.sinceCommit >= c.cfg.CommitInterval
	if save {
		c.sinceSave = 0
	}
	if commit {
		c.sinceCommit = 0
	}
	total := c.total
	c.mu.Unlock()

	if save {
		if err := c.saveLocal(ctx, total); err != nil {
			c.logger.Error("local checkpoint save failed", zap.Error(err))
		}
	}
	if commit {
		if err := c.commitExternal(ctx, total, false); err != nil {
			c.logger.Error("external commit failed", zap.Error(err))
		}
	}
}

// SaveLocal writes the current watermark to the checkpoint store immediately.
func (c *Checkpointer) SaveLocal(ctx context.Context) error {
	return c.saveLocal(ctx, c.TotalProcessed())
}

// CommitExternal pushes the checkpoint artifact to the commit sink. With
// force set, the commit happens even if no interval boundary was crossed; the
// sink still deduplicates unchanged content.
func (c *Checkpointer) CommitExternal(ctx context.Context, force bool) error {
	return c.commitExternal(ctx, c.TotalProcessed(), force)
}

// EmergencySave persists the watermark and forces an external commit in
// response to an abnormal stop. Calling it again is safe: the commit sink
// detects unchanged content and no-ops.
func (c *Checkpointer) EmergencySave(ctx context.Context, reason string) {
	total := c.TotalProcessed()

	c.logger.Warn("emergency save",
		zap.String("reason", reason),
		zap.Int("processed", total),
	)
	if err := c.saveLocal(ctx, total); err != nil {
		c.logger.Error("emergency local save failed", zap.Error(err))
	}
	if err := c.commitExternal(ctx, total, true); err != nil {
		c.logger.Error("emergency commit failed", zap.Error(err))
	}
}

func (c *Checkpointer) saveLocal(ctx context.Context, total int) error {
	if c.store == nil {
		return nil
	}
	cp := keywords.Checkpoint{
		RunID:     c.runID,
		Processed: total,
		SavedAt:   c.clock.Now(),
	}
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	telemetry.ObserveCheckpoint("local")
	c.logger.Info("checkpoint saved", zap.Int("processed", total))
	return nil
}

func (c *Checkpointer) commitExternal(ctx context.Context, total int, force bool) error {
	if !c.cfg.CommitEnabled || c.commit == nil {
		return nil
	}
	label := fmt.Sprintf("run %s: %d keywords processed", c.runID, total)
	committed, err := c.commit.Commit(ctx, label)
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	if !committed && !force {
		return nil
	}
	if committed {
		telemetry.ObserveCheckpoint("external")
		c.logger.Info("checkpoint committed", zap.Int("processed", total))
	}
	return nil
}
