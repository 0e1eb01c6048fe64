// Package metrics provides Prometheus metrics for session activity. Each
// Recorder carries its own registry so sessions share no global state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records attempt, generation, and verification metrics.
type Recorder struct {
	registry           *prometheus.Registry
	attemptsTotal      *prometheus.CounterVec
	generationFailures *prometheus.CounterVec
	verifyDuration     *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
	costTotal          prometheus.Counter
}

// NewRecorder creates a recorder with a private registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_attempts_total",
				Help: "Total generation attempts by outcome",
			},
			[]string{"outcome"},
		),
		generationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_generation_failures_total",
				Help: "Generation failures by classified error type",
			},
			[]string{"error_type"},
		),
		verifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_verify_duration_seconds",
				Help:    "Duration of verification runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_llm_tokens_total",
				Help: "Total tokens used by direction",
			},
			[]string{"direction"},
		),
		costTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "forge_llm_cost_usd_total",
				Help: "Total model cost in USD",
			},
		),
	}
}

// Registry exposes the private registry for scraping or test inspection.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAttempt counts one attempt with its outcome.
func (r *Recorder) ObserveAttempt(outcome string) {
	r.attemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGenerationFailure counts a classified generation failure.
func (r *Recorder) ObserveGenerationFailure(errorType string) {
	r.generationFailures.WithLabelValues(errorType).Inc()
}

// ObserveVerify records one verification run.
func (r *Recorder) ObserveVerify(tool string, duration time.Duration) {
	r.verifyDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveUsage records token usage and cost for one completion.
func (r *Recorder) ObserveUsage(inputTokens, outputTokens int, costUSD float64) {
	r.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	r.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	r.costTotal.Add(costUSD)
}
