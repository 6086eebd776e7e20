// Package metrics exposes Prometheus instrumentation for the recompute
// pipeline. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Task queue
	TasksEnqueued *prometheus.CounterVec
	TasksFinished *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	QueueDepth    *prometheus.GaugeVec

	// Dirty set
	DirtyGroups  prometheus.Gauge
	DirtyFlushes prometheus.Counter

	// Indicator writes
	IndicatorWrites   *prometheus.CounterVec
	AggregateDuration *prometheus.HistogramVec

	// Membership mutations by operation and outcome
	Mutations *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_tasks_enqueued_total",
			Help: "Tasks enqueued by channel and task name",
		}, []string{"channel", "task"}),

		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_tasks_finished_total",
			Help: "Task attempts by channel, task name and outcome",
		}, []string{"channel", "task", "outcome"}), // outcome: "ok", "error"

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_task_duration_seconds",
			Help:    "Duration of a single task attempt",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"channel", "task"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_queue_depth",
			Help: "Tasks waiting per channel",
		}, []string{"channel"}),

		DirtyGroups: f.NewGauge(prometheus.GaugeOpts{
			Name: "registry_dirty_groups",
			Help: "Groups waiting in the dirty set",
		}),

		DirtyFlushes: f.NewCounter(prometheus.CounterOpts{
			Name: "registry_dirty_flushes_total",
			Help: "Dirty set flushes that produced a recompute task",
		}),

		IndicatorWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_indicator_writes_total",
			Help: "Group indicator values written by indicator name",
		}, []string{"indicator"}),

		AggregateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_aggregate_duration_seconds",
			Help:    "Duration of one aggregate count query per indicator",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"indicator"}),

		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_membership_mutations_total",
			Help: "Membership mutations by operation and outcome",
		}, []string{"op", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskEnqueued(channel, task string) {
	if m != nil {
		m.TasksEnqueued.WithLabelValues(channel, task).Inc()
	}
}

func (m *Metrics) TaskFinished(channel, task, outcome string, d time.Duration) {
	if m != nil {
		m.TasksFinished.WithLabelValues(channel, task, outcome).Inc()
		m.TaskDuration.WithLabelValues(channel, task).Observe(d.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(channel string, n int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(channel).Set(float64(n))
	}
}

func (m *Metrics) SetDirtyGroups(n int) {
	if m != nil {
		m.DirtyGroups.Set(float64(n))
	}
}

func (m *Metrics) IncDirtyFlush() {
	if m != nil {
		m.DirtyFlushes.Inc()
	}
}

func (m *Metrics) AddIndicatorWrites(indicator string, n int) {
	if m != nil {
		m.IndicatorWrites.WithLabelValues(indicator).Add(float64(n))
	}
}

func (m *Metrics) ObserveAggregate(indicator string, d time.Duration) {
	if m != nil {
		m.AggregateDuration.WithLabelValues(indicator).Observe(d.Seconds())
	}
}

func (m *Metrics) IncMutation(op, outcome string) {
	if m != nil {
		m.Mutations.WithLabelValues(op, outcome).Inc()
	}
}
