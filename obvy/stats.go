package quakepulse

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsInternal holds the internal metrics on their own registry,
// so several can live in one process (tests do this)
type StatsInternal struct {
	Registry    *prometheus.Registry
	FeedTimer   prometheus.Histogram
	Ingested    prometheus.Counter
	Excluded    *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Removed     prometheus.Counter
	Clients     prometheus.Gauge
	Dropped     prometheus.Counter
	WWW         *prometheus.CounterVec
}

func NewStatsInternal() *StatsInternal {
	reg := prometheus.NewRegistry()

	si := &StatsInternal{
		Registry: reg,
		FeedTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quakepulse_feed_fetch_seconds",
			Help:    "Duration of earthquake feed fetches in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quakepulse_events_ingested_total",
			Help: "Total number of events accepted from the feed.",
		}),
		Excluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quakepulse_events_excluded_total",
			Help: "Total number of feed features left out, by reason.",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quakepulse_transitions_fired_total",
			Help: "Total number of transitions started, by element kind.",
		}, []string{"kind"}),
		Removed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quakepulse_elements_removed_total",
			Help: "Total number of finished pulse elements removed.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quakepulse_websocket_clients",
			Help: "Number of connected websocket clients.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quakepulse_websocket_dropped_total",
			Help: "Total number of messages dropped for slow websocket clients.",
		}),
		WWW: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quakepulse_http_requests_total",
			Help: "Total number of API requests, by status code and method.",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		si.FeedTimer,
		si.Ingested,
		si.Excluded,
		si.Transitions,
		si.Removed,
		si.Clients,
		si.Dropped,
		si.WWW,
	)

	// visible at /metrics before the first increment
	for _, reason := range []string{"coordinates", "projection", "time"} {
		si.Excluded.WithLabelValues(reason)
	}
	for _, kind := range []string{"marker", "pulse"} {
		si.Transitions.WithLabelValues(kind)
	}

	return si
}

// Handler serves this registry only
func (si *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(si.Registry, promhttp.HandlerOpts{Registry: si.Registry})
}

// RecFetchTimer takes seconds
func (si *StatsInternal) RecFetchTimer(d float64) {
	si.FeedTimer.Observe(d)
}

func (si *StatsInternal) AddIngested(n int) {
	si.Ingested.Add(float64(n))
}

func (si *StatsInternal) AddExcluded(reason string, n int) {
	si.Excluded.WithLabelValues(reason).Add(float64(n))
}

func (si *StatsInternal) IncTransition(kind string) {
	si.Transitions.WithLabelValues(kind).Inc()
}

func (si *StatsInternal) IncRemoved() {
	si.Removed.Inc()
}

func (si *StatsInternal) SetClients(n int) {
	si.Clients.Set(float64(n))
}

func (si *StatsInternal) IncDropped() {
	si.Dropped.Inc()
}

func (si *StatsInternal) RecWWW(code, method string) {
	si.WWW.WithLabelValues(code, method).Inc()
}
