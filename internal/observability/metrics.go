package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	smPacketsTx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "packets_tx_total",
			Help:      "Session management packets sent, by packet type.",
		},
		[]string{"endpoint", "pkt_type"},
	)
	smPacketsRx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "packets_rx_total",
			Help:      "Session management packets processed from the inbox.",
		},
		[]string{"endpoint", "pkt_type"},
	)
	smRetransmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "retransmits_total",
			Help:      "SM request retransmissions by the retry engine.",
		},
		[]string{"endpoint"},
	)
	smTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "timeouts_total",
			Help:      "SM requests failed by the retry engine timeout.",
		},
		[]string{"endpoint"},
	)
	smEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "events_total",
			Help:      "Session events delivered to the application handler.",
		},
		[]string{"endpoint", "event", "err"},
	)
	liveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fabrpc",
			Subsystem: "sm",
			Name:      "live_sessions",
			Help:      "Sessions currently alive (not buried) per endpoint.",
		},
		[]string{"endpoint"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fabrpc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fabrpc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			smPacketsTx, smPacketsRx, smRetransmits, smTimeouts,
			smEvents, liveSessions, httpRequests, httpDuration,
		)
	})
}

func RecordPacketTx(endpoint, pktType string) {
	RegisterMetrics()
	smPacketsTx.WithLabelValues(endpoint, pktType).Inc()
}

func RecordPacketRx(endpoint, pktType string) {
	RegisterMetrics()
	smPacketsRx.WithLabelValues(endpoint, pktType).Inc()
}

func RecordRetransmit(endpoint string) {
	RegisterMetrics()
	smRetransmits.WithLabelValues(endpoint).Inc()
}

func RecordTimeout(endpoint string) {
	RegisterMetrics()
	smTimeouts.WithLabelValues(endpoint).Inc()
}

func RecordEvent(endpoint, event, errKind string) {
	RegisterMetrics()
	smEvents.WithLabelValues(endpoint, event, errKind).Inc()
}

func SetLiveSessions(endpoint string, n int) {
	RegisterMetrics()
	liveSessions.WithLabelValues(endpoint).Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
