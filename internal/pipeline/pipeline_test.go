package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/accumulator"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/budget"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/endpoint"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/runner"
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

type fakeSource struct {
	kws []string
	err error
}

func (s *fakeSource) Keywords(context.Context) ([]string, error) {
	return s.kws, s.err
}

// fakeDispatcher resolves every keyword to fixed metrics, or fails every call.
type fakeDispatcher struct {
	fail bool
}

func (d *fakeDispatcher) Dispatch(
	_ context.Context,
	_ string,
	batch keywords.Batch,
) (keywords.ResultMap, error) {
	if d.fail {
		return nil, errors.New("endpoint down")
	}
	results := make(keywords.ResultMap, len(batch.Keywords))
	for _, kw := range batch.Keywords {
		results[kw] = &keywords.Metrics{AvgMonthlySearches: 100}
	}
	return results, nil
}

type fixture struct {
	pipeline  *Pipeline
	store     *memory.Store
	submitter *memory.Submitter
	committer *memory.Committer
	clock     *fakeClock
}

func newFixture(
	t *testing.T,
	kws []string,
	disp keywords.Dispatcher,
	batchSize int,
	budgetCfg budget.Config,
	runnerCfg runner.Config,
) *fixture {
	t.Helper()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	pool, err := endpoint.New(
		[]string{"http://a", "http://b"},
		endpoint.Config{Interval: time.Millisecond},
		nil,
		clk,
		zap.NewNop(),
	)
	require.NoError(t, err)

	if runnerCfg.RetryDelayBase == 0 {
		runnerCfg.RetryDelayBase = time.Millisecond
		runnerCfg.RetryDelayMax = 5 * time.Millisecond
	}
	r := runner.New(pool, disp, clk, runnerCfg, zap.NewNop())

	store := memory.NewStore()
	submitter := memory.NewSubmitter()
	committer := memory.NewCommitter()
	acc := accumulator.New(store, submitter, clk, accumulator.Config{FlushThreshold: 5}, zap.NewNop())
	cp := budget.New(store, committer, clk, budgetCfg, zap.NewNop())

	p := New(&fakeSource{kws: kws}, r, acc, cp, Config{BatchSize: batchSize}, zap.NewNop())
	return &fixture{pipeline: p, store: store, submitter: submitter, committer: committer, clock: clk}
}

func TestRunSingleBatchSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []string{"a", "b", "c"}, &fakeDispatcher{}, 5, budget.Config{}, runner.Config{})

	result, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)
	require.Equal(t, 1, result.Stats.TotalBatches)
	require.Equal(t, 1, result.Stats.SuccessfulBatches)
	require.Len(t, result.Keywords, 3)
	for _, kw := range []string{"a", "b", "c"} {
		require.NotNil(t, result.Keywords[kw])
	}

	// Final flush pushed everything to both sinks.
	require.Len(t, f.store.Items(), 3)
	require.Len(t, f.submitter.Batches(), 1)
}

func TestRunResultKeySetMatchesInput(t *testing.T) {
	t.Parallel()

	kws := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		kws = append(kws, fmt.Sprintf("kw-%d", i))
	}
	// Duplicates and blanks are dropped before batching.
	kws = append(kws, "kw-0", "kw-7", "")

	f := newFixture(t, kws, &fakeDispatcher{}, 5, budget.Config{}, runner.Config{})
	result, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Keywords, 23)
	for i := 0; i < 23; i++ {
		require.Contains(t, result.Keywords, fmt.Sprintf("kw-%d", i))
	}
	require.Equal(t, 23, result.Stats.TotalKeywords)
}

func TestRunAbortsOnFailureRate(t *testing.T) {
	t.Parallel()

	kws := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		kws = append(kws, fmt.Sprintf("kw-%d", i))
	}
	f := newFixture(t, kws, &fakeDispatcher{fail: true}, 2,
		budget.Config{CommitEnabled: true},
		runner.Config{CircuitThreshold: 1000, MinSampleBatches: 10},
	)

	result, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, AbortedFailureRate, result.Outcome)
	// The loop stops right after the sample minimum exposes the bad rate.
	require.Equal(t, 10, result.Stats.TotalBatches)
	require.Equal(t, 10, result.Stats.FailedBatches)

	// Unissued keywords still resolve to absent in the merged map.
	require.Len(t, result.Keywords, 60)
	require.Nil(t, result.Keywords["kw-59"])
	require.Len(t, result.FailedKeywords, 20)

	// The abort path forced an emergency commit.
	require.Len(t, f.committer.Labels(), 1)
}

func TestRunStopsOnBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []string{"a", "b", "c", "d"}, &fakeDispatcher{}, 1,
		budget.Config{MaxRuntime: time.Nanosecond},
		runner.Config{},
	)
	f.clock.Advance(time.Second)

	result, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, AbortedTimeout, result.Outcome)
	require.Zero(t, result.Stats.TotalBatches)
	require.Len(t, result.Keywords, 4)
	require.Nil(t, result.Keywords["a"])
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []string{"a", "b"}, &fakeDispatcher{}, 1, budget.Config{}, runner.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, AbortedTimeout, result.Outcome)
	require.Len(t, result.Keywords, 2)
}

func TestRunSourceErrorPropagates(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	pool, err := endpoint.New([]string{"http://a"}, endpoint.Config{}, nil, clk, zap.NewNop())
	require.NoError(t, err)
	r := runner.New(pool, &fakeDispatcher{}, clk, runner.Config{}, zap.NewNop())
	store := memory.NewStore()
	acc := accumulator.New(store, nil, clk, accumulator.Config{}, zap.NewNop())
	cp := budget.New(store, nil, clk, budget.Config{}, zap.NewNop())

	p := New(&fakeSource{err: errors.New("source down")}, r, acc, cp, Config{}, zap.NewNop())
	_, err = p.Run(context.Background())
	require.Error(t, err)
}

func TestSplitNumbersBatchesConsecutively(t *testing.T) {
	t.Parallel()

	batches := split([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, batches, 3)
	require.Equal(t, 0, batches[0].ID)
	require.Equal(t, []string{"a", "b"}, batches[0].Keywords)
	require.Equal(t, 2, batches[2].ID)
	require.Equal(t, []string{"e"}, batches[2].Keywords)
}

func TestDedupePreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()

	out := dedupe([]string{"b", "a", "b", "", "c", "a"})
	require.Equal(t, []string{"b", "a", "c"}, out)
}
