package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllpgw",
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames extracted from inbound connections.",
		},
		[]string{"gateway", "decoder"},
	)
	framesEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllpgw",
			Subsystem: "frames",
			Name:      "encoded_total",
			Help:      "Frames written to connections.",
		},
		[]string{"gateway"},
	)
	framesCorrupted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllpgw",
			Subsystem: "frames",
			Name:      "corrupted_total",
			Help:      "Connections closed because a frame did not begin with the start sentinel.",
		},
		[]string{"gateway"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllpgw",
			Subsystem: "conn",
			Name:      "received_bytes_total",
			Help:      "Bytes read from inbound connections.",
		},
		[]string{"gateway"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mllpgw",
			Subsystem: "conn",
			Name:      "active",
			Help:      "Open inbound connections.",
		},
		[]string{"gateway"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllpgw",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"gateway", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mllpgw",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesDecoded, framesEncoded, framesCorrupted,
			bytesReceived, activeConnections, httpRequests, httpDuration)
	})
}

func RecordDecoded(gateway, decoder string, n int) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(gateway, decoder).Add(float64(n))
}

func RecordEncoded(gateway string) {
	RegisterMetrics()
	framesEncoded.WithLabelValues(gateway).Inc()
}

func RecordCorrupted(gateway string) {
	RegisterMetrics()
	framesCorrupted.WithLabelValues(gateway).Inc()
}

func RecordReceived(gateway string, n int) {
	RegisterMetrics()
	bytesReceived.WithLabelValues(gateway).Add(float64(n))
}

func ConnectionOpened(gateway string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(gateway).Inc()
}

func ConnectionClosed(gateway string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(gateway).Dec()
}

func RecordHTTPRequest(gateway, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(gateway, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(gateway, method, path, statusLabel).Observe(duration.Seconds())
}
