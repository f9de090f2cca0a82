// Package metrics provides Prometheus instrumentation for the gateway and the nodes.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpn"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProvisionsTotal counts subscription provisioning attempts by result.
	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisions_total",
			Help:      "Total subscription provisioning attempts by result.",
		},
		[]string{"result"},
	)

	TeardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Total subscription teardowns by result.",
		},
		[]string{"result"},
	)

	// PaymentsTotal counts closed transactions by rail and outcome.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Total payments closed by method and result.",
		},
		[]string{"method", "result"},
	)

	// PaymentAnomaliesTotal counts transfers that matched a payer but not the amount.
	PaymentAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_anomalies_total",
			Help:      "Total payments whose amount did not match the transaction.",
		},
		[]string{"method"},
	)

	SweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "Total expiry sweeps executed.",
	})

	RemindersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reminders_total",
		Help:      "Total expiry reminders sent.",
	})

	ExpirationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expirations_total",
		Help:      "Total subscriptions torn down after expiry.",
	})

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total outbox messages published by queue and result.",
		},
		[]string{"queue", "result"},
	)

	// ActiveNodes tracks nodes currently eligible for placement.
	ActiveNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_nodes",
		Help:      "Number of nodes eligible for placement.",
	})

	PeersProvisionedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_peers_provisioned_total",
		Help:      "Total peers added on this node.",
	})

	PeersRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_peers_removed_total",
		Help:      "Total peers removed from this node.",
	})

	NodeCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_cpu_percent",
		Help:      "Host CPU usage at the last status sample.",
	})

	NodeMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_memory_percent",
		Help:      "Host memory usage at the last status sample.",
	})

	NodeBytesSentPerSec = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_bytes_sent_per_second",
		Help:      "Outbound traffic rate at the last status sample.",
	})

	NodeBytesRecvPerSec = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_bytes_received_per_second",
		Help:      "Inbound traffic rate at the last status sample.",
	})

	NodeAddressesUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_addresses_used",
		Help:      "Addresses bound to peers.",
	})

	NodeAddressesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_addresses_total",
		Help:      "Addresses in the pool.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProvisionsTotal,
		TeardownsTotal,
		PaymentsTotal,
		PaymentAnomaliesTotal,
		SweepRunsTotal,
		RemindersTotal,
		ExpirationsTotal,
		OutboxPublishedTotal,
		ActiveNodes,
		PeersProvisionedTotal,
		PeersRemovedTotal,
		NodeCPUPercent,
		NodeMemoryPercent,
		NodeBytesSentPerSec,
		NodeBytesRecvPerSec,
		NodeAddressesUsed,
		NodeAddressesTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
