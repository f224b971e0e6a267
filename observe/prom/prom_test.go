package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/NetPo4ki/go-amqpscope/amqpscope"
	"github.com/NetPo4ki/go-amqpscope/scope"
)

var (
	_ amqpscope.Observer = (*Metrics)(nil)
	_ scope.Observer     = (*Metrics)(nil)
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func counterWithLabel(t *testing.T, mf *dto.MetricFamily, value string) float64 {
	t.Helper()
	require.NotNil(t, mf)
	for _, m := range mf.Metric {
		for _, l := range m.Label {
			if l.GetValue() == value {
				return m.Counter.GetValue()
			}
		}
	}
	return 0
}

func TestMetricsTrackLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	ctx := context.Background()
	m.Connected(ctx, 5*time.Millisecond, nil)
	m.Connected(ctx, 5*time.Millisecond, nil)
	m.Connected(ctx, time.Millisecond, errors.New("refused"))

	families := gather(t, reg)
	require.Equal(t, 2.0, families["amqpscope_open_scopes"].Metric[0].Gauge.GetValue())
	require.Equal(t, 2.0, counterWithLabel(t, families["amqpscope_connects_total"], "ok"))
	require.Equal(t, 1.0, counterWithLabel(t, families["amqpscope_connects_total"], "error"))
	require.Equal(t, uint64(3), families["amqpscope_connect_duration_seconds"].Metric[0].Histogram.GetSampleCount())

	m.Released(ctx, 10*time.Millisecond, true, errors.New("boom"), nil)
	m.Released(ctx, 10*time.Millisecond, false, nil, nil)

	families = gather(t, reg)
	require.Equal(t, 0.0, families["amqpscope_open_scopes"].Metric[0].Gauge.GetValue())
	require.Equal(t, 1.0, counterWithLabel(t, families["amqpscope_releases_total"], "closed"))
	require.Equal(t, 1.0, counterWithLabel(t, families["amqpscope_releases_total"], "already_closed"))
	require.Equal(t, 1.0, families["amqpscope_body_faults_total"].Metric[0].Counter.GetValue())
}

func TestMetricsCloseFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Connected(context.Background(), time.Millisecond, nil)
	m.Released(context.Background(), time.Millisecond, true, nil, errors.New("close-ok timeout"))

	families := gather(t, reg)
	require.Equal(t, 1.0, counterWithLabel(t, families["amqpscope_releases_total"], "close_failed"))
	require.Equal(t, 0.0, counterWithLabel(t, families["amqpscope_releases_total"], "closed"))
	_, ok := families["amqpscope_body_faults_total"]
	require.True(t, ok)
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func taskCount(mf *dto.MetricFamily, task, result string) float64 {
	if mf == nil {
		return 0
	}
	for _, m := range mf.Metric {
		labels := map[string]string{}
		for _, l := range m.Label {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["task"] == task && labels["result"] == result {
			return m.Counter.GetValue()
		}
	}
	return 0
}

func TestMetricsTrackSchedulerTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	s := scope.New(context.Background(), scope.FailFast, scope.WithObserver(m))
	s.Go("ok", func(context.Context) error { return nil })
	s.Go("fail", func(context.Context) error { return errors.New("boom") })
	s.Go("crash", func(context.Context) error { panic("crash") })
	require.Error(t, s.Wait())

	families := gather(t, reg)
	require.Equal(t, 1.0, taskCount(families["amqpscope_tasks_total"], "ok", "ok"))
	require.Equal(t, 1.0, taskCount(families["amqpscope_tasks_total"], "fail", "error"))
	require.Equal(t, 1.0, taskCount(families["amqpscope_tasks_total"], "crash", "panic"))
	require.Equal(t, 0.0, families["amqpscope_active_tasks"].Metric[0].Gauge.GetValue())
	require.Equal(t, 1.0, families["amqpscope_scope_cancels_total"].Metric[0].Counter.GetValue())
	require.Equal(t, uint64(1), families["amqpscope_scope_join_duration_seconds"].Metric[0].Histogram.GetSampleCount())
}
