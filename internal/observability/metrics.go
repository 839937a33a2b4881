package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"component", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xmppctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "method", "path", "status"},
	)
	smAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "sm",
			Name:      "acked_total",
			Help:      "Outbound stanzas confirmed by the peer.",
		},
	)
	smRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "sm",
			Name:      "ack_requests_total",
			Help:      "Acknowledgment requests sent to the peer.",
		},
	)
	smResent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "sm",
			Name:      "resent_total",
			Help:      "Unacknowledged stanzas replayed after resumption.",
		},
	)
	smUnacked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xmppctl",
			Subsystem: "sm",
			Name:      "unacked",
			Help:      "Outbound stanzas awaiting acknowledgment.",
		},
	)
	streamUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "stream",
			Name:      "units_total",
			Help:      "Stream units by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	streamDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppctl",
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Transport disconnects by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			smAcked,
			smRequests,
			smResent,
			smUnacked,
			streamUnits,
			streamDisconnects,
		)
	})
}

func RecordHTTPRequest(component, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(component, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAcked(n int) {
	RegisterMetrics()
	smAcked.Add(float64(n))
}

func RecordAckRequest() {
	RegisterMetrics()
	smRequests.Inc()
}

func RecordResent(n int) {
	RegisterMetrics()
	smResent.Add(float64(n))
}

func SetUnacked(n int) {
	RegisterMetrics()
	smUnacked.Set(float64(n))
}

func RecordUnit(direction, kind string) {
	RegisterMetrics()
	streamUnits.WithLabelValues(direction, kind).Inc()
}

func RecordDisconnect(reason string) {
	RegisterMetrics()
	streamDisconnects.WithLabelValues(reason).Inc()
}
