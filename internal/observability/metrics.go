package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/someipd/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "someipd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	receivedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "bytes_total",
			Help:      "Bytes delivered by transports.",
		},
		[]string{"node"},
	)
	receivedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "messages_total",
			Help:      "Messages extracted from the stream.",
		},
		[]string{"node", "delivered"},
	)
	payloadSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "payload_bytes",
			Help:      "Payload size of extracted messages.",
			Buckets:   prometheus.ExponentialBuckets(8, 4, 8),
		},
		[]string{"node"},
	)
	cookiesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "magic_cookies_total",
			Help:      "Magic cookies consumed without dispatch.",
		},
		[]string{"node"},
	)
	resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "resync_total",
			Help:      "Resync attempts by outcome.",
		},
		[]string{"node", "outcome"},
	)
	deliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someipd",
			Subsystem: "receive",
			Name:      "delivery_errors_total",
			Help:      "Transport receive completions that reported an error.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			receivedBytes, receivedMessages, payloadSize,
			cookiesDropped, resyncs, deliveryErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// Metrics records receive-path events for one node into the default registry.
type Metrics struct {
	node string
}

func NewMetrics(node string) *Metrics {
	RegisterMetrics()
	return &Metrics{node: node}
}

func (m *Metrics) BytesReceived(n int) {
	receivedBytes.WithLabelValues(m.node).Add(float64(n))
}

func (m *Metrics) MessageReceived(msg *protocol.Message, receivers int) {
	delivered := strconv.FormatBool(receivers > 0)
	receivedMessages.WithLabelValues(m.node, delivered).Inc()
	payloadSize.WithLabelValues(m.node).Observe(float64(len(msg.Payload)))
}

func (m *Metrics) CookieDropped() {
	cookiesDropped.WithLabelValues(m.node).Inc()
}

func (m *Metrics) ResyncAttempted() {
	resyncs.WithLabelValues(m.node, "attempted").Inc()
}

func (m *Metrics) Resynced() {
	resyncs.WithLabelValues(m.node, "recovered").Inc()
}

func (m *Metrics) ResyncFailed() {
	resyncs.WithLabelValues(m.node, "failed").Inc()
}

func (m *Metrics) DeliveryFailed(error) {
	deliveryErrors.WithLabelValues(m.node).Inc()
}
