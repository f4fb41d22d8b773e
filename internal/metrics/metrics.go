package metrics

import "github.com/prometheus/client_golang/prometheus"

// Метрики консьюмера, обогащения и HTTP-слоя
var (
	ClickEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_click_events_total",
			Help: "Click event deliveries by outcome (ack, requeue, drop)",
		},
		[]string{"outcome"},
	)

	ConsumerReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_consumer_reconnects_total",
			Help: "Number of times the queue consumer lost its session and reconnected",
		},
	)

	ConsumerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_consumer_connected",
			Help: "1 while the consumer holds an open broker session",
		},
	)

	EnrichmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_enrichment_total",
			Help: "Long URL lookups against url-service by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		ClickEventsTotal,
		ConsumerReconnectsTotal,
		ConsumerConnected,
		EnrichmentTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
