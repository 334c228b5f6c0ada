package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "handsign"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Closed sessions by terminating cause.",
		},
		[]string{"cause"},
	)
	payloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "total",
			Help:      "Inbound payloads by outcome.",
		},
		[]string{"outcome"},
	)
	payloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "bytes",
			Help:      "Inbound payload size including the terminator.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
	decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "decode_duration_seconds",
			Help:      "Decode and normalize duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "results_total",
			Help:      "Classification results by label; failures use label=\"error\".",
		},
		[]string{"label"},
	)
	classifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "duration_seconds",
			Help:      "Tensor build plus inference duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	resultsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "sent_total",
			Help:      "Result lines written back to the peer.",
		},
		[]string{"source", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessions,
			payloads, payloadBytes, decodeDuration,
			classifications, classifyDuration,
			resultsSent,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionClosed(cause string) {
	RegisterMetrics()
	sessions.WithLabelValues(cause).Inc()
}

func RecordPayload(outcome string, size int, duration time.Duration) {
	RegisterMetrics()
	payloads.WithLabelValues(outcome).Inc()
	payloadBytes.Observe(float64(size))
	decodeDuration.Observe(duration.Seconds())
}

func RecordClassification(label string, duration time.Duration) {
	RegisterMetrics()
	classifications.WithLabelValues(label).Inc()
	classifyDuration.Observe(duration.Seconds())
}

func RecordResultSent(source string, success bool) {
	RegisterMetrics()
	resultsSent.WithLabelValues(source, strconv.FormatBool(success)).Inc()
}
