// Package metrics exposes Prometheus collectors for scheduler activity.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autoprog"

// Metrics holds the scheduler collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	running      prometheus.Gauge
	conflicts    prometheus.Counter
	rollbacks    prometheus.Counter
	batches      *prometheus.CounterVec
}

// MustNewMetrics registers the collectors with reg and panics on a
// registration error other than an identical collector already present.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks finished by the scheduler, by type and final status.",
		}, []string{"type", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Time spent inside the task envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_running",
			Help:      "Tasks currently inside the envelope.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "concurrency_conflicts_total",
			Help:      "Admissions deferred because the file was held by a running task.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rollbacks_total",
			Help:      "Changes reversed after failed verification or on request.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "batches_total",
			Help:      "Batches run, by whether they were cancelled.",
		}, []string{"cancelled"}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.tasks = register(m.tasks).(*prometheus.CounterVec)
	m.taskDuration = register(m.taskDuration).(*prometheus.HistogramVec)
	m.running = register(m.running).(prometheus.Gauge)
	m.conflicts = register(m.conflicts).(prometheus.Counter)
	m.rollbacks = register(m.rollbacks).(prometheus.Counter)
	m.batches = register(m.batches).(*prometheus.CounterVec)
	return m
}

// TaskStarted marks a task as entering the envelope.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

// TaskFinished records a task leaving the envelope with its final status.
func (m *Metrics) TaskFinished(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.tasks.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// Conflict counts one deferred admission.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RolledBack counts one reversed change.
func (m *Metrics) RolledBack() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// BatchFinished counts one batch.
func (m *Metrics) BatchFinished(cancelled bool) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(fmt.Sprint(cancelled)).Inc()
}

// WriteTextfile writes every metric gathered by g to path in the Prometheus
// text format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
