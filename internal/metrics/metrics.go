// Package metrics exposes Prometheus collectors for the collection jobs.
//
// These process-local collectors complement the per-service daily counters
// kept in the database: the DB counters feed the status dashboard, the
// Prometheus ones feed scrape-based monitoring while a job is running.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiCallsTotal  *prometheus.CounterVec
	apiErrorsTotal *prometheus.CounterVec
	itemsTotal     *prometheus.CounterVec
	activeWorkers  prometheus.Gauge
	reportsTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_api_calls_total",
				Help: "Total number of remote API calls, labeled by service.",
			},
			[]string{"service"},
		)

		apiErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_api_errors_total",
				Help: "Total number of failed remote API calls, labeled by service.",
			},
			[]string{"service"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_items_total",
				Help: "Total number of work items processed, labeled by job and outcome.",
			},
			[]string{"job", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Number of workers currently draining a job queue.",
			},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_reports_total",
				Help: "Total number of raw report blobs written, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPICall increments the call counter for the given service.
func ObserveAPICall(service string) {
	Init()
	apiCallsTotal.WithLabelValues(service).Inc()
}

// ObserveAPIError increments the error counter for the given service.
func ObserveAPIError(service string) {
	Init()
	apiErrorsTotal.WithLabelValues(service).Inc()
}

// ObserveItem increments the item counter for the given job and outcome.
func ObserveItem(job, outcome string) {
	Init()
	itemsTotal.WithLabelValues(job, outcome).Inc()
}

// ObserveReport increments the report counter for the given service.
func ObserveReport(service, outcome string) {
	Init()
	reportsTotal.WithLabelValues(service, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
