// Package metrics owns the Prometheus registry exposed at /metrics.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coordhub/coordinator"
)

const namespace = "coordhub"

// Metrics groups the collectors recorded by the HTTP layer and the outbound
// clients. It satisfies geo.Recorder and whatsapp.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lookups  *prometheus.CounterVec
	messages *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "lookups_total",
			Help:      "Places and geocoding lookups by operation and outcome.",
		}, []string{"op", "outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "messages_total",
			Help:      "WhatsApp messages by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.lookups,
		m.messages,
	)
	return m
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// Instrument wraps next so its requests are counted and timed under route.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		m.duration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), next),
	)
}

func (m *Metrics) ObserveLookup(op, outcome string) {
	m.lookups.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveMessage(outcome string) {
	m.messages.WithLabelValues(outcome).Inc()
}

// StatsSource reports coordinator confirmation totals.
type StatsSource interface {
	Stats(ctx context.Context) (coordinator.Stats, error)
}

var (
	coordinatorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "coordinators", "total"),
		"Coordinators by confirmation state.",
		[]string{"state"}, nil,
	)
	statsUpDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "coordinators", "stats_up"),
		"Whether the last coordinator stats query succeeded.",
		nil, nil,
	)
)

// StatsCollector queries coordinator totals at scrape time.
type StatsCollector struct {
	source  StatsSource
	timeout time.Duration
	logger  *slog.Logger
}

func NewStatsCollector(source StatsSource, logger *slog.Logger) *StatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsCollector{source: source, timeout: 5 * time.Second, logger: logger}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- coordinatorsDesc
	ch <- statsUpDesc
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		c.logger.Warn("coordinator stats scrape failed", "err", err)
		ch <- prometheus.MustNewConstMetric(statsUpDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(coordinatorsDesc, prometheus.GaugeValue, float64(stats.Confirmed), "confirmed")
	ch <- prometheus.MustNewConstMetric(coordinatorsDesc, prometheus.GaugeValue, float64(stats.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(statsUpDesc, prometheus.GaugeValue, 1)
}
