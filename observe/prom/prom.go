// Package prom exports amqpscope lifecycle events and scheduler task events
// as Prometheus metrics.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amqpscope"

// Metrics implements amqpscope.Observer and scope.Observer.
type Metrics struct {
	connects    *prometheus.CounterVec
	releases    *prometheus.CounterVec
	bodyFaults  prometheus.Counter
	open        prometheus.Gauge
	connectTime prometheus.Histogram
	heldTime    prometheus.Histogram

	tasks       *prometheus.CounterVec
	activeTasks prometheus.Gauge
	cancels     prometheus.Counter
	joinTime    prometheus.Histogram
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Scope exits by cleanup action: closed, already_closed or close_failed.",
		}, []string{"action"}),
		bodyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "body_faults_total",
			Help:      "Scope bodies that returned an error or panicked.",
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_scopes",
			Help:      "Connections currently held by a scope body.",
		}),
		connectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time spent connecting, including failed attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		heldTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "held_duration_seconds",
			Help:      "Time between a successful connect and the end of cleanup.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished scheduler tasks by name and result: ok, error or panic.",
		}, []string{"task", "result"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Scheduler tasks currently running.",
		}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scope_cancels_total",
			Help:      "Scheduler scopes cancelled.",
		}),
		joinTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scope_join_duration_seconds",
			Help:      "Time Wait spent joining scheduler tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	collectors := []prometheus.Collector{
		m.connects, m.releases, m.bodyFaults, m.open, m.connectTime, m.heldTime,
		m.tasks, m.activeTasks, m.cancels, m.joinTime,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Connected records a connect attempt.
func (m *Metrics) Connected(_ context.Context, dur time.Duration, err error) {
	m.connectTime.Observe(dur.Seconds())
	if err != nil {
		m.connects.WithLabelValues("error").Inc()
		return
	}
	m.connects.WithLabelValues("ok").Inc()
	m.open.Inc()
}

// Released records the end of a scope.
func (m *Metrics) Released(_ context.Context, held time.Duration, closed bool, bodyErr, closeErr error) {
	m.open.Dec()
	m.heldTime.Observe(held.Seconds())
	if bodyErr != nil {
		m.bodyFaults.Inc()
	}
	switch {
	case closeErr != nil:
		m.releases.WithLabelValues("close_failed").Inc()
	case closed:
		m.releases.WithLabelValues("closed").Inc()
	default:
		m.releases.WithLabelValues("already_closed").Inc()
	}
}

func (m *Metrics) TaskStarted(_ context.Context, _ string) { m.activeTasks.Inc() }

// TaskFinished records a task exit. A task that panicked counts as a panic
// whether or not the panic was turned into an error.
func (m *Metrics) TaskFinished(_ context.Context, name string, _ time.Duration, err error, panicked bool) {
	m.activeTasks.Dec()
	result := "ok"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "error"
	}
	m.tasks.WithLabelValues(name, result).Inc()
}

func (m *Metrics) ScopeCancelled(_ context.Context, _ error) { m.cancels.Inc() }

func (m *Metrics) ScopeJoined(_ context.Context, wait time.Duration) {
	m.joinTime.Observe(wait.Seconds())
}
