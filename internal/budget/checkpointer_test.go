package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/sinks/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestObserveSavesAtInterval(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(store, nil, clk, Config{SaveInterval: 1000, CommitInterval: 5000}, zap.NewNop())

	ctx := context.Background()
	cp.Observe(ctx, 400)
	require.Empty(t, store.Checkpoints())

	cp.Observe(ctx, 600)
	saved := store.Checkpoints()
	require.Len(t, saved, 1)
	require.Equal(t, 1000, saved[0].Processed)
	require.Equal(t, cp.RunID(), saved[0].RunID)

	// The counter restarts after a save.
	cp.Observe(ctx, 999)
	require.Len(t, store.Checkpoints(), 1)
	cp.Observe(ctx, 1)
	require.Len(t, store.Checkpoints(), 2)
	require.Equal(t, 2000, cp.TotalProcessed())
}

func TestObserveCommitsAtInterval(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	committer := memory.NewCommitter()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(store, committer, clk, Config{
		SaveInterval:   1000,
		CommitInterval: 5000,
		CommitEnabled:  true,
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		cp.Observe(ctx, 1000)
	}
	require.Empty(t, committer.Labels())

	cp.Observe(ctx, 1000)
	require.Len(t, committer.Labels(), 1)
}

func TestCommitDisabledNeverCommits(t *testing.T) {
	t.Parallel()

	committer := memory.NewCommitter()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(memory.NewStore(), committer, clk, Config{CommitInterval: 10}, zap.NewNop())

	ctx := context.Background()
	cp.Observe(ctx, 100)
	require.NoError(t, cp.CommitExternal(ctx, true))
	cp.EmergencySave(ctx, "test")
	require.Empty(t, committer.Labels())
}

func TestIsApproachingTimeout(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(memory.NewStore(), nil, clk, Config{MaxRuntime: time.Hour}, zap.NewNop())

	require.False(t, cp.IsApproachingTimeout())
	require.Equal(t, time.Hour, cp.Remaining())

	clk.Advance(59 * time.Minute)
	require.False(t, cp.IsApproachingTimeout())

	clk.Advance(time.Minute)
	require.True(t, cp.IsApproachingTimeout())
	require.Equal(t, time.Hour, cp.Elapsed())
}

func TestSafetyMarginPullsCutoffForward(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(memory.NewStore(), nil, clk, Config{
		MaxRuntime:   time.Hour,
		SafetyMargin: 10 * time.Minute,
	}, zap.NewNop())

	clk.Advance(49 * time.Minute)
	require.False(t, cp.IsApproachingTimeout())
	clk.Advance(time.Minute)
	require.True(t, cp.IsApproachingTimeout())
}

func TestEmergencySaveForcesBothSaves(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	committer := memory.NewCommitter()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cp := New(store, committer, clk, Config{CommitEnabled: true}, zap.NewNop())

	ctx := context.Background()
	cp.Observe(ctx, 42)
	cp.EmergencySave(ctx, "timeout")

	saved := store.Checkpoints()
	require.NotEmpty(t, saved)
	require.Equal(t, 42, saved[len(saved)-1].Processed)
	require.Len(t, committer.Labels(), 1)

	// A second emergency save with no new data does not produce a second
	// commit; the sink sees the same label and no-ops.
	cp.EmergencySave(ctx, "timeout")
	require.Len(t, committer.Labels(), 1)
}
