// Package metrics exports reconciliation run summaries to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/valeevte/PricePulse/internal/reconcile"
)

const namespace = "pricepulse"

// RunMetrics implements reconcile.Recorder.
type RunMetrics struct {
	runs         *prometheus.CounterVec
	items        *prometheus.CounterVec
	duration     prometheus.Histogram
	lastRun      prometheus.Gauge
	lastInserted prometheus.Gauge
}

var _ reconcile.Recorder = (*RunMetrics)(nil)

// NewRunMetrics creates the collectors and registers them with reg.
func NewRunMetrics(reg prometheus.Registerer) (*RunMetrics, error) {
	m := &RunMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Reconciliation runs by final status.",
		}, []string{"status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Snapshot entries by reconciliation outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of a reconciliation run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_run_timestamp_seconds",
			Help:      "Unix time the last reconciliation run finished.",
		}),
		lastInserted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_run_price_changes",
			Help:      "History rows appended by the last run.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.items, m.duration, m.lastRun, m.lastInserted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *RunMetrics) RecordRun(s reconcile.Summary) {
	m.runs.WithLabelValues(string(s.Status)).Inc()
	m.items.WithLabelValues(string(reconcile.StatusInserted)).Add(float64(s.Inserted))
	m.items.WithLabelValues(string(reconcile.StatusUnchanged)).Add(float64(s.Unchanged))
	m.items.WithLabelValues(string(reconcile.StatusSkipped)).Add(float64(s.Skipped))
	m.items.WithLabelValues(string(reconcile.StatusFailed)).Add(float64(s.Failed))
	m.items.WithLabelValues("remaining").Add(float64(s.Remaining))
	m.duration.Observe(s.Duration().Seconds())
	m.lastRun.Set(float64(s.FinishedAt.Unix()))
	m.lastInserted.Set(float64(s.Inserted))
}
