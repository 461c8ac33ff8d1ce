package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие метрики TCP-сервера
var (
	openConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coedit_open_connections",
		Help: "Currently open client connections.",
	})

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coedit_requests_total",
			Help: "Total number of decoded client requests.",
		},
		[]string{"opcode", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coedit_request_duration_seconds",
			Help:    "Request handling latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"opcode", "status"},
	)

	broadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coedit_broadcasts_total",
			Help: "Messages fanned out to peer sessions.",
		},
		[]string{"scope"},
	)

	broadcastFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coedit_broadcast_failures_total",
		Help: "Deliveries that failed and forced a peer disconnect.",
	})
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(openConnections, requestsTotal, requestDuration,
		broadcastsTotal, broadcastFailures)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConnOpened / ConnClosed track the connection gauge from the accept loop.
func ConnOpened() { openConnections.Inc() }
func ConnClosed() { openConnections.Dec() }

// ObserveRequest records one handled request. status is "ok" or "error".
func ObserveRequest(opcode, status string, start time.Time) {
	d := time.Since(start).Seconds()
	requestsTotal.WithLabelValues(opcode, status).Inc()
	requestDuration.WithLabelValues(opcode, status).Observe(d)
}

// ObserveBroadcast records a fan-out and how many deliveries failed.
func ObserveBroadcast(scope string, failed int) {
	broadcastsTotal.WithLabelValues(scope).Inc()
	if failed > 0 {
		broadcastFailures.Add(float64(failed))
	}
}
