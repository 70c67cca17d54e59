// Package telemetry exposes Prometheus metrics for the query pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Total number of batches processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineKeywordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_keywords_total",
			Help: "Total number of keywords resolved, labeled by result.",
		},
		[]string{"result"},
	)

	batchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_seconds",
			Help:    "Histogram of end-to-end batch processing latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	endpointRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_endpoint_requests_total",
			Help: "Total number of endpoint round trips, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_rate_limit_delay_seconds",
			Help:    "Histogram of per-endpoint rate slot wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	circuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 cooling down.",
		},
	)

	bufferFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_buffer_flushes_total",
			Help: "Total number of buffer flushes, labeled by sink.",
		},
		[]string{"sink"},
	)

	checkpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_checkpoint_saves_total",
			Help: "Total number of checkpoint saves, labeled by kind (local, external).",
		},
		[]string{"kind"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records the outcome and latency of one completed batch.
func ObserveBatch(outcome string, duration time.Duration) {
	pipelineBatchesTotal.WithLabelValues(outcome).Inc()
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveKeywords records how many keywords in a batch resolved to metrics.
func ObserveKeywords(present, absent int) {
	if present > 0 {
		pipelineKeywordsTotal.WithLabelValues("present").Add(float64(present))
	}
	if absent > 0 {
		pipelineKeywordsTotal.WithLabelValues("absent").Add(float64(absent))
	}
}

// ObserveEndpointRequest records one endpoint round trip.
func ObserveEndpointRequest(endpointID int, outcome string) {
	endpointRequestsTotal.WithLabelValues(strconv.Itoa(endpointID), outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate slot wait.
func ObserveRateLimitDelay(endpointID int, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(strconv.Itoa(endpointID)).Observe(duration.Seconds())
}

// SetCircuitState records the circuit breaker state.
func SetCircuitState(state float64) {
	circuitState.Set(state)
}

// ObserveFlush records a buffer flush to the named sink.
func ObserveFlush(sink string) {
	bufferFlushesTotal.WithLabelValues(sink).Inc()
}

// ObserveCheckpoint records a checkpoint save of the given kind.
func ObserveCheckpoint(kind string) {
	checkpointSavesTotal.WithLabelValues(kind).Inc()
}
