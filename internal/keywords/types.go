// Package keywords defines the domain types shared across the query pipeline.
package keywords

import (
	"time"

	"github.com/google/uuid"
)

// Metrics holds the search-volume data returned for a single keyword.
type Metrics struct {
	AvgMonthlySearches int64   `json:"avg_monthly_searches"`
	Competition        float64 `json:"competition"`
	CompetitionLevel   string  `json:"competition_level,omitempty"`
	LowTopOfPageBid    float64 `json:"low_top_of_page_bid,omitempty"`
	HighTopOfPageBid   float64 `json:"high_top_of_page_bid,omitempty"`
}

// ResultMap maps each requested keyword to its metrics. A nil value means the
// keyword resolved to absent (no usable data), which is distinct from the
// keyword missing from the map entirely.
type ResultMap map[string]*Metrics

// Batch is a fixed-size group of keywords dispatched together in one request.
// Batches are immutable once created and consumed exactly once.
type Batch struct {
	ID       int
	Keywords []string
}

// BatchResult captures the outcome of driving one batch through dispatch.
type BatchResult struct {
	BatchID    int
	Success    bool
	Results    ResultMap
	Err        error
	RetryCount int
	Duration   time.Duration
}

// ProcessingStats accumulates run-wide totals, updated once per completed batch.
type ProcessingStats struct {
	TotalBatches       int
	SuccessfulBatches  int
	FailedBatches      int
	RetriedBatches     int
	TotalKeywords      int
	SuccessfulKeywords int
	FailedKeywords     int
}

// SuccessRate returns the fraction of batches that succeeded.
func (s ProcessingStats) SuccessRate() float64 {
	if s.TotalBatches == 0 {
		return 0
	}
	return float64(s.SuccessfulBatches) / float64(s.TotalBatches)
}

// KeywordSuccessRate returns the fraction of keywords that resolved to metrics.
func (s ProcessingStats) KeywordSuccessRate() float64 {
	if s.TotalKeywords == 0 {
		return 0
	}
	return float64(s.SuccessfulKeywords) / float64(s.TotalKeywords)
}

// EnrichedItem is a keyword that resolved to metrics, ready for persistence
// and submission.
type EnrichedItem struct {
	Keyword    string    `json:"keyword"`
	Metrics    Metrics   `json:"metrics"`
	ObservedAt time.Time `json:"observed_at"`
}

// Checkpoint is the durable watermark of processed-so-far state for one run.
type Checkpoint struct {
	RunID     uuid.UUID `json:"run_id"`
	Processed int       `json:"processed"`
	SavedAt   time.Time `json:"saved_at"`
}
