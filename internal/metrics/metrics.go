// Package metrics exposes ingestion and HTTP counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campuscal/internal/ingest"
)

type Metrics struct {
	reg *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	failedPages   prometheus.Counter
	runDuration   prometheus.Summary
	lastSuccessTS prometheus.Gauge
	reqTotal      *prometheus.CounterVec
}

// New builds a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campuscal",
		Name:      "ingest_runs_total",
		Help:      "Ingestion runs by result",
	}, []string{"result"})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campuscal",
		Name:      "ingest_events_total",
		Help:      "Events processed by outcome",
	}, []string{"outcome"})
	m.failedPages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campuscal",
		Name:      "ingest_failed_pages_total",
		Help:      "Listing pages that could not be read",
	})
	m.runDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "campuscal",
		Name:      "ingest_duration_seconds",
		Help:      "Time spent in one ingestion run",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "campuscal",
		Name:      "ingest_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last completed ingestion run",
	})
	m.reqTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campuscal",
		Name:      "http_requests_total",
		Help:      "HTTP requests by path and status code",
	}, []string{"path", "code"})

	m.reg.MustRegister(
		m.runsTotal, m.eventsTotal, m.failedPages,
		m.runDuration, m.lastSuccessTS, m.reqTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRun records the outcome of one ingestion run.
func (m *Metrics) ObserveRun(r ingest.Report, err error) {
	if err != nil {
		m.runsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.runsTotal.WithLabelValues("ok").Inc()
	m.eventsTotal.WithLabelValues("inserted").Add(float64(r.Inserted))
	m.eventsTotal.WithLabelValues("updated").Add(float64(r.Updated))
	m.eventsTotal.WithLabelValues("unchanged").Add(float64(r.Unchanged))
	m.eventsTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.eventsTotal.WithLabelValues("store_failed").Add(float64(r.StoreFailures))
	m.failedPages.Add(float64(r.FailedPages))
	m.runDuration.Observe(r.Duration.Seconds())
	m.lastSuccessTS.Set(float64(time.Now().Unix()))
}

// Instrument counts requests served by next under a fixed path label.
func (m *Metrics) Instrument(path string, next http.Handler) http.Handler {
	counter := m.reqTotal.MustCurryWith(prometheus.Labels{"path": path})
	return promhttp.InstrumentHandlerCounter(counter, next)
}
