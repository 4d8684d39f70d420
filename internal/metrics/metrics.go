// Package metrics exposes the Prometheus instrumentation shared by the
// services and the monitor server. Services record through the package-level
// helpers; the monitor serves the default registry on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds every metric RidgeRadar records.
type Registry struct {
	// Job execution metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobRecords  *prometheus.GaugeVec

	// Exchange API metrics
	ExchangeRequests *prometheus.CounterVec
	ExchangeLatency  *prometheus.HistogramVec
	ExchangeRetries  prometheus.Counter
	RateLimitWaits   prometheus.Counter

	// Cache metrics
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheHitRatio prometheus.Gauge

	// Collection metrics
	SnapshotsStored prometheus.Counter
	ScoresComputed  prometheus.Counter
	HighScores      prometheus.Counter
	GuardsZeroed    prometheus.Counter
	MarketResults   *prometheus.CounterVec

	// Shadow trading metrics
	ShadowDecisions   *prometheus.CounterVec
	ShadowSettlements *prometheus.CounterVec
	ShadowPhase       prometheus.Gauge
	ShadowNetPnl      prometheus.Gauge
}

// NewRegistry builds the metric set and registers it with reg. Tests pass
// their own registry; the process uses DefaultMetrics.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ridgeradar_job_runs_total",
				Help: "Completed job runs by job name and final status",
			},
			[]string{"job", "status"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ridgeradar_job_duration_seconds",
				Help:    "Wall-clock duration of completed job runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"job"},
		),

		JobRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ridgeradar_job_last_records",
				Help: "Records processed by the last successful run of each job",
			},
			[]string{"job"},
		),

		ExchangeRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ridgeradar_exchange_requests_total",
				Help: "Exchange API requests by endpoint and result code",
			},
			[]string{"endpoint", "result"},
		),

		ExchangeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ridgeradar_exchange_request_duration_seconds",
				Help:    "Exchange API round-trip time per endpoint",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),

		ExchangeRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_exchange_retries_total",
				Help: "Exchange API calls retried after a retryable failure",
			},
		),

		RateLimitWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_rate_limit_waits_total",
				Help: "Exchange calls that blocked on the rate limiter",
			},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_cache_hits_total",
				Help: "Cache lookups that found a value",
			},
		),

		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_cache_misses_total",
				Help: "Cache lookups that found nothing",
			},
		),

		CacheHitRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ridgeradar_cache_hit_ratio",
				Help: "Hits over total cache lookups since process start",
			},
		),

		SnapshotsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_snapshots_stored_total",
				Help: "Order book snapshots written to storage",
			},
		),

		ScoresComputed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_scores_computed_total",
				Help: "Market scores computed and stored",
			},
		),

		HighScores: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_high_scores_total",
				Help: "Scores above the high-score threshold",
			},
		),

		GuardsZeroed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ridgeradar_score_guards_zeroed_total",
				Help: "Scores forced to zero by a failed guard",
			},
		),

		MarketResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ridgeradar_market_results_total",
				Help: "Market results stored, by how the outcome was obtained",
			},
			[]string{"method"},
		),

		ShadowDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ridgeradar_shadow_decisions_total",
				Help: "Theoretical shadow decisions recorded, by rule and side",
			},
			[]string{"hypothesis", "side"},
		),

		ShadowSettlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ridgeradar_shadow_settlements_total",
				Help: "Shadow decisions settled, by outcome",
			},
			[]string{"outcome"},
		),

		ShadowPhase: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ridgeradar_shadow_phase",
				Help: "Current trading phase (0=collecting, 1=shadow)",
			},
		),

		ShadowNetPnl: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ridgeradar_shadow_net_pnl",
				Help: "Cumulative theoretical net P&L settled by this process",
			},
		),
	}
}

// DefaultMetrics is the process-wide registry, registered with the default
// Prometheus registerer so promhttp serves it.
var DefaultMetrics = NewRegistry(prometheus.DefaultRegisterer)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJobRun records a finished job run. The last-records gauge only moves
// on success so a failed or skipped run does not erase the previous value.
func RecordJobRun(job, status string, seconds float64, records int) {
	DefaultMetrics.JobRuns.WithLabelValues(job, status).Inc()
	DefaultMetrics.JobDuration.WithLabelValues(job).Observe(seconds)
	if status == "succeeded" {
		DefaultMetrics.JobRecords.WithLabelValues(job).Set(float64(records))
	}
}

// RecordExchangeRequest records one exchange API attempt. Result is "ok" or
// the classified error code.
func RecordExchangeRequest(endpoint, result string, seconds float64) {
	DefaultMetrics.ExchangeRequests.WithLabelValues(endpoint, result).Inc()
	DefaultMetrics.ExchangeLatency.WithLabelValues(endpoint).Observe(seconds)
}

// AddExchangeRetry counts one retried exchange call.
func AddExchangeRetry() {
	DefaultMetrics.ExchangeRetries.Inc()
}

// AddRateLimitWait counts one call that had to wait for a token.
func AddRateLimitWait() {
	DefaultMetrics.RateLimitWaits.Inc()
}

// RecordCacheLookup counts one cache lookup and refreshes the hit ratio.
func RecordCacheLookup(hit bool) {
	if hit {
		DefaultMetrics.CacheHits.Inc()
	} else {
		DefaultMetrics.CacheMisses.Inc()
	}
	DefaultMetrics.updateCacheRatio()
}

// updateCacheRatio recomputes the ratio gauge from the counters' current
// values.
func (r *Registry) updateCacheRatio() {
	var hits, misses dto.Metric
	if err := r.CacheHits.Write(&hits); err != nil {
		return
	}
	if err := r.CacheMisses.Write(&misses); err != nil {
		return
	}
	total := hits.GetCounter().GetValue() + misses.GetCounter().GetValue()
	if total == 0 {
		return
	}
	r.CacheHitRatio.Set(hits.GetCounter().GetValue() / total)
}

// AddSnapshotsStored counts snapshots written by a sweep.
func AddSnapshotsStored(n int) {
	DefaultMetrics.SnapshotsStored.Add(float64(n))
}

// AddScoresComputed counts scores written by a scoring run, and how many of
// them a guard zeroed.
func AddScoresComputed(scored, guardsZeroed int) {
	DefaultMetrics.ScoresComputed.Add(float64(scored))
	DefaultMetrics.GuardsZeroed.Add(float64(guardsZeroed))
}

// AddHighScores counts scores that cleared the high-score threshold.
func AddHighScores(n int) {
	DefaultMetrics.HighScores.Add(float64(n))
}

// AddMarketResults counts stored market results. Method is "settled" for
// results read off closed books, "voided" for fully removed markets and
// "derived" for results reconstructed from scorelines.
func AddMarketResults(method string, n int) {
	DefaultMetrics.MarketResults.WithLabelValues(method).Add(float64(n))
}

// AddShadowDecision counts one theoretical decision. Hypothesis carries the
// rule-based strategy name for rule decisions.
func AddShadowDecision(hypothesis, side string) {
	DefaultMetrics.ShadowDecisions.WithLabelValues(hypothesis, side).Inc()
}

// AddShadowSettlements counts settled decisions by outcome ("won", "lost" or
// "void").
func AddShadowSettlements(outcome string, n int) {
	DefaultMetrics.ShadowSettlements.WithLabelValues(outcome).Add(float64(n))
}

// SetShadowPhase publishes the phase gate's latest verdict.
func SetShadowPhase(inShadow bool) {
	if inShadow {
		DefaultMetrics.ShadowPhase.Set(1)
	} else {
		DefaultMetrics.ShadowPhase.Set(0)
	}
}

// AddShadowNetPnl moves the cumulative theoretical P&L gauge by one
// settlement's net result.
func AddShadowNetPnl(net float64) {
	DefaultMetrics.ShadowNetPnl.Add(net)
}
