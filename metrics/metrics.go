package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quiz_sync"

// Metrics holds every collector the server exports. A nil *Metrics is not
// valid; tests use New(prometheus.NewRegistry()).
type Metrics struct {
	WriteOutcomes   *prometheus.CounterVec
	ReplaceDuration prometheus.Histogram
	DatasetSize     prometheus.Gauge

	Subscribers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	PrunedHandles   prometheus.Counter
	RelayMessages   *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WriteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "writes_total",
			Help:      "Write operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		ReplaceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "replace_duration_seconds",
			Help:      "Duration of bulk replace transactions.",
			Buckets:   prometheus.DefBuckets,
		}),
		DatasetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "dataset_records",
			Help:      "Number of records in the committed dataset.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Number of registered subscriber connections.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by kind.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "deliveries_total",
			Help:      "Per-subscriber event deliveries by result.",
		}, []string{"result"}),
		PrunedHandles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "pruned_handles_total",
			Help:      "Subscriber connections removed after a failed send.",
		}),
		RelayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Cross-instance relay messages by direction.",
		}, []string{"direction"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.WriteOutcomes, m.ReplaceDuration, m.DatasetSize,
		m.Subscribers, m.EventsPublished, m.Deliveries, m.PrunedHandles, m.RelayMessages,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}
