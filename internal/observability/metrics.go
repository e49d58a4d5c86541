// Package observability provides the engine's Prometheus metrics.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric the engine exports.
const namespace = "cdi_alert_engine"

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the engine
type Collector struct {
	registry *prometheus.Registry

	// Poll loop metrics
	PassesCompleted   prometheus.Counter
	AccountsEvaluated prometheus.Counter
	PassDuration      prometheus.Histogram

	// Script metrics
	ScriptRuns     *prometheus.CounterVec
	ScriptFailures *prometheus.CounterVec
	ScriptDuration prometheus.Histogram

	// Reconciliation metrics
	ResultsUpserted     prometheus.Counter
	NotificationsFailed prometheus.Counter
	Requeues            prometheus.Counter
}

// NewCollector returns the process-wide metrics collector, creating it on
// first call. A singleton is kept to avoid duplicate registration in tests.
func NewCollector() *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	passesCompleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_completed_total",
			Help:      "Total number of completed polling passes",
		},
	)

	accountsEvaluated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_evaluated_total",
			Help:      "Total number of accounts dequeued and evaluated",
		},
	)

	passDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Polling pass duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	scriptRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_runs_total",
			Help:      "Total number of script executions",
		},
		[]string{"script"},
	)

	scriptFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_failures_total",
			Help:      "Total number of failed script executions",
		},
		[]string{"script"},
	)

	scriptDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_duration_seconds",
			Help:      "Script execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	resultsUpserted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_upserted_total",
			Help:      "Total number of changed result records persisted",
		},
	)

	notificationsFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of failed workflow notifications",
		},
	)

	requeues := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requeues_total",
			Help:      "Total number of compensating requeues",
		},
	)

	registry.MustRegister(
		passesCompleted,
		accountsEvaluated,
		passDuration,
		scriptRuns,
		scriptFailures,
		scriptDuration,
		resultsUpserted,
		notificationsFailed,
		requeues,
	)

	globalCollector = &Collector{
		registry:            registry,
		PassesCompleted:     passesCompleted,
		AccountsEvaluated:   accountsEvaluated,
		PassDuration:        passDuration,
		ScriptRuns:          scriptRuns,
		ScriptFailures:      scriptFailures,
		ScriptDuration:      scriptDuration,
		ResultsUpserted:     resultsUpserted,
		NotificationsFailed: notificationsFailed,
		Requeues:            requeues,
	}
	return globalCollector
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
