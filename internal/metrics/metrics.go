// Package metrics holds the Prometheus instrumentation for the payments
// platform.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the platform.
type Metrics struct {
	// Simulation metrics
	SimulationsTotal    *prometheus.CounterVec
	SimulationDuration  *prometheus.HistogramVec
	BatchItemsProcessed *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionVariance *prometheus.CounterVec

	// Protocol metrics
	MandateExecutions  *prometheus.CounterVec
	CheckoutsTotal     *prometheus.CounterVec
	FacilitatorSettles *prometheus.CounterVec

	// Cache metrics
	ContextCacheHits    *prometheus.CounterVec
	ContextCacheEntries prometheus.Gauge

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec

	// API metrics
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SimulationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_simulations_total",
				Help: "Total simulations run",
			},
			[]string{"action_type", "can_execute"},
		),

		SimulationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payos_simulation_duration_seconds",
				Help:    "Duration of a single simulation run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action_type"},
		),

		BatchItemsProcessed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payos_batch_items",
				Help:    "Items per batch simulation",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"outcome"}, // outcome: completed, stopped
		),

		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_executions_total",
				Help: "Simulation executions by result",
			},
			[]string{"action_type", "result"}, // result: executed, rejected, lost_claim
		),

		ExecutionVariance: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_execution_variance_total",
				Help: "Executions by preview-vs-execution variance level",
			},
			[]string{"level"}, // level: low, medium
		),

		MandateExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_mandate_executions_total",
				Help: "AP2 mandate executions by outcome",
			},
			[]string{"outcome"}, // outcome: completed, exceeded, expired, rejected
		),

		CheckoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_checkouts_total",
				Help: "ACP checkouts by lifecycle event",
			},
			[]string{"event"}, // event: created, completed, cancelled, expired
		),

		FacilitatorSettles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_x402_settlements_total",
				Help: "x402 facilitator settlements by outcome",
			},
			[]string{"network", "outcome"}, // outcome: success, failed
		),

		ContextCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_context_cache_requests_total",
				Help: "Context view cache lookups",
			},
			[]string{"view", "result"}, // result: hit, miss, bypass, revalidated
		),

		ContextCacheEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "payos_context_cache_entries",
				Help: "Live entries in the context view cache",
			},
		),

		WebhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_webhook_deliveries_total",
				Help: "Webhook delivery attempts by outcome",
			},
			[]string{"event", "outcome"}, // outcome: delivered, retried, failed, dropped
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payos_request_duration_seconds",
				Help:    "API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payos_errors_total",
				Help: "Typed API errors by code category",
			},
			[]string{"category"},
		),
	}
}

// RecordSimulation records one simulation run.
func (m *Metrics) RecordSimulation(actionType string, canExecute bool, seconds float64) {
	ce := "false"
	if canExecute {
		ce = "true"
	}
	m.SimulationsTotal.WithLabelValues(actionType, ce).Inc()
	m.SimulationDuration.WithLabelValues(actionType).Observe(seconds)
}

// RecordBatch records a batch simulation.
func (m *Metrics) RecordBatch(items int, stopped bool) {
	outcome := "completed"
	if stopped {
		outcome = "stopped"
	}
	m.BatchItemsProcessed.WithLabelValues(outcome).Observe(float64(items))
}

// RecordExecution records an execution attempt.
func (m *Metrics) RecordExecution(actionType, result string) {
	m.ExecutionsTotal.WithLabelValues(actionType, result).Inc()
}

// RecordVariance records the variance level of a successful execution.
func (m *Metrics) RecordVariance(level string) {
	m.ExecutionVariance.WithLabelValues(level).Inc()
}

// RecordCacheLookup records a context cache lookup result.
func (m *Metrics) RecordCacheLookup(view, result string) {
	m.ContextCacheHits.WithLabelValues(view, result).Inc()
}

// RecordWebhookDelivery records one webhook delivery outcome.
func (m *Metrics) RecordWebhookDelivery(event, outcome string) {
	m.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
}

// RecordError records a typed API error.
func (m *Metrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}
