package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	repairsTotal      *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	duplicatesDemoted prometheus.Counter
	taskDuration      *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		repairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_worker_status_repairs_total",
			Help: "Total job status repair tasks by outcome.",
		}, []string{"outcome"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_worker_reconcile_runs_total",
			Help: "Total assignment reconciliation sweeps by outcome.",
		}, []string{"outcome"}),
		duplicatesDemoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_worker_duplicate_assignments_demoted_total",
			Help: "Total duplicate accepted assignments demoted to declined.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_worker_task_duration_seconds",
			Help:    "Worker task duration by task type and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
	}

	registry.MustRegister(
		m.repairsTotal,
		m.reconcileRuns,
		m.duplicatesDemoted,
		m.taskDuration,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
