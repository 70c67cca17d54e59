package accumulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeSink struct {
	mu      sync.Mutex
	batches [][]keywords.EnrichedItem
	err     error
}

func (s *fakeSink) record(items []keywords.EnrichedItem) error {
	batch := make([]keywords.EnrichedItem, len(items))
	copy(batch, items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *fakeSink) Save(_ context.Context, items []keywords.EnrichedItem) error {
	return s.record(items)
}

func (s *fakeSink) Submit(_ context.Context, items []keywords.EnrichedItem) error {
	return s.record(items)
}

func (s *fakeSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func metricsFor(n int64) *keywords.Metrics {
	return &keywords.Metrics{AvgMonthlySearches: n}
}

func TestOfferFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{}
	submit := &fakeSink{}
	acc := New(persist, submit, &fakeClock{now: time.Unix(1000, 0)}, Config{FlushThreshold: 5}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		acc.Offer(ctx, fmt.Sprintf("kw-%d", i), metricsFor(int64(i)))
	}

	require.Equal(t, []int{5, 5}, persist.batchSizes())
	require.Equal(t, []int{5, 5}, submit.batchSizes())

	p, s := acc.Pending()
	require.Equal(t, 2, p)
	require.Equal(t, 2, s)

	acc.FinalFlush(ctx)
	require.Equal(t, []int{5, 5, 2}, persist.batchSizes())
	require.Equal(t, []int{5, 5, 2}, submit.batchSizes())
	require.Equal(t, 12, acc.Flushed())
}

func TestFinalFlushIsIdempotent(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{}
	acc := New(persist, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{FlushThreshold: 5}, zap.NewNop())

	ctx := context.Background()
	acc.Offer(ctx, "kw", metricsFor(1))
	acc.FinalFlush(ctx)
	acc.FinalFlush(ctx)
	acc.FinalFlush(ctx)

	require.Equal(t, []int{1}, persist.batchSizes())
}

func TestOfferIgnoresAbsentMetrics(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{}
	acc := New(persist, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{}, zap.NewNop())

	ctx := context.Background()
	acc.Offer(ctx, "absent", nil)
	acc.FinalFlush(ctx)

	require.Empty(t, persist.batches)
	require.Zero(t, acc.Flushed())
}

func TestFlushPreservesOfferOrder(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{}
	acc := New(persist, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{FlushThreshold: 3}, zap.NewNop())

	ctx := context.Background()
	for _, kw := range []string{"one", "two", "three"} {
		acc.Offer(ctx, kw, metricsFor(1))
	}

	require.Len(t, persist.batches, 1)
	var got []string
	for _, item := range persist.batches[0] {
		got = append(got, item.Keyword)
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
}

func TestSinkErrorClearsBuffer(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{err: errors.New("down")}
	acc := New(persist, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{FlushThreshold: 2}, zap.NewNop())

	ctx := context.Background()
	acc.Offer(ctx, "a", metricsFor(1))
	acc.Offer(ctx, "b", metricsFor(2))

	// The failed flush still drained the buffer.
	p, _ := acc.Pending()
	require.Zero(t, p)

	acc.FinalFlush(ctx)
	require.Equal(t, []int{2}, persist.batchSizes())
}

func TestOfferResultsFeedsPresentKeywordsInBatchOrder(t *testing.T) {
	t.Parallel()

	persist := &fakeSink{}
	acc := New(persist, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{FlushThreshold: 10}, zap.NewNop())

	batch := keywords.Batch{ID: 1, Keywords: []string{"a", "b", "c"}}
	results := keywords.ResultMap{
		"a": metricsFor(10),
		"b": nil,
		"c": metricsFor(30),
	}

	ctx := context.Background()
	acc.OfferResults(ctx, batch, results)
	acc.FinalFlush(ctx)

	require.Len(t, persist.batches, 1)
	require.Len(t, persist.batches[0], 2)
	require.Equal(t, "a", persist.batches[0][0].Keyword)
	require.Equal(t, "c", persist.batches[0][1].Keyword)
}
