package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides application metrics collection.
// All methods are safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Forecast pipeline metrics
	ForecastsTotal   *prometheus.CounterVec
	ForecastDuration prometheus.Histogram

	// History metrics
	HistoryRows          prometheus.Gauge
	HistoryReloadsTotal  *prometheus.CounterVec
	HistoryLastReloadUTC prometheus.Gauge
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"route"},
		),

		ForecastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecasts_total",
				Help:      "Total number of forecast invocations by outcome",
			},
			[]string{"outcome"}, // "ok", "unavailable", "error"
		),

		ForecastDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forecast_duration_seconds",
				Help:      "Duration of one forecast pipeline run in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),

		HistoryRows: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_rows",
				Help:      "Number of observations currently held in memory",
			},
		),

		HistoryReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_reloads_total",
				Help:      "Total number of history reloads by status",
			},
			[]string{"status"},
		),

		HistoryLastReloadUTC: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_last_reload_timestamp_seconds",
				Help:      "Unix time of the last successful history reload",
			},
		),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordAPIRequest counts one request and observes its duration.
func (c *Collector) RecordAPIRequest(route, method, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.APIRequestsTotal.WithLabelValues(route, method, status).Inc()
	c.APIRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordForecast counts one forecast by outcome and observes its duration.
func (c *Collector) RecordForecast(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ForecastsTotal.WithLabelValues(outcome).Inc()
	c.ForecastDuration.Observe(d.Seconds())
}

// RecordHistoryReload counts a reload and, on success, updates the row gauge.
func (c *Collector) RecordHistoryReload(status string, rows int) {
	if c == nil {
		return
	}
	c.HistoryReloadsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		c.HistoryRows.Set(float64(rows))
		c.HistoryLastReloadUTC.Set(float64(time.Now().Unix()))
	}
}
