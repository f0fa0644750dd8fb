// Package metrics holds the Prometheus counters for alert passes. Runs are
// short-lived, so values are pushed to a Pushgateway instead of scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the alert pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PassesTotal         *prometheus.CounterVec // labels: outcome
	FetchFallbacksTotal prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec // labels: result
	LastPassTimestamp   prometheus.Gauge
	PassDuration        prometheus.Histogram
}

// New registers and returns all metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almacross_passes_total",
			Help: "Completed alert passes by outcome",
		}, []string{"outcome"}),
		FetchFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "almacross_fetch_fallbacks_total",
			Help: "Times the secondary price source was used",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almacross_notifications_total",
			Help: "Crossover notifications by delivery result",
		}, []string{"result"}),
		LastPassTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "almacross_last_pass_timestamp_seconds",
			Help: "Unix time of the last finished pass",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "almacross_pass_duration_seconds",
			Help:    "Wall time of one alert pass",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	m.registry.MustRegister(
		m.PassesTotal,
		m.FetchFallbacksTotal,
		m.NotificationsTotal,
		m.LastPassTimestamp,
		m.PassDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(time.Since(started).Seconds())
	m.LastPassTimestamp.SetToCurrentTime()
}

// ObserveFallback records a switch to the secondary price source.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.FetchFallbacksTotal.Inc()
}

// ObserveNotification records a delivery attempt result.
func (m *Metrics) ObserveNotification(delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// Push sends the current values to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
