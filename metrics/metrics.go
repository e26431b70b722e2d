// Package metrics registers the Prometheus collectors named in SPEC_FULL.md's
// DOMAIN STACK: dispatch/finish/error counters, a task duration histogram,
// a worker-count gauge, and a queue-length gauge. The teacher repo carries no
// metrics dependency of its own; this is pulled in from the rest of the
// examples pack (jordigilh-kubernaut, anhnv24810310060-SWARM both use
// prometheus/client_golang for exactly this shape of counters+gauges).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the scheduler emits to. A nil *Registry
// is not valid; always construct with New.
type Registry struct {
	TasksDispatched prometheus.Counter
	TasksFinished   prometheus.Counter
	TasksErrored    prometheus.Counter
	TaskDuration    prometheus.Histogram
	WorkersActive   prometheus.Gauge
	QueueLength     prometheus.Gauge
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_worker_task_dispatch_count",
			Help:      "Total number of submitted tasks pushed onto the dispatch queue.",
		}),
		TasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_worker_task_finish_count",
			Help:      "Total number of tasks that reached state=done.",
		}),
		TasksErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_worker_task_error_count",
			Help:      "Total number of terminal (non-retried) task failures.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_worker_task_duration_seconds",
			Help:      "Wall-clock duration of a single successful task execution.",
			Buckets:   prometheus.DefBuckets,
		}),
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_workers_active",
			Help:      "Number of currently connected MIT worker sessions.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cotrans_gateway",
			Name:      "mit_worker_queue_length",
			Help:      "Current length of the dispatch queue.",
		}),
	}
	reg.MustRegister(m.TasksDispatched, m.TasksFinished, m.TasksErrored, m.TaskDuration, m.WorkersActive, m.QueueLength)
	return m
}
