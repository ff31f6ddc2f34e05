// Package metrics provides Prometheus instrumentation for the control plane.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authplane",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProvisioningTotal counts tenant provisioning sagas by outcome
	// (active, coupon_rejected, provision_failed, orphaned).
	ProvisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "tenant_provisioning_total",
			Help:      "Total tenant provisioning attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// ConsistencyErrorsTotal counts states needing operator reconciliation
	// (orphaned tenants, failed deprovisions, failed coupon compensations).
	ConsistencyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "consistency_errors_total",
			Help:      "Total consistency errors requiring manual reconciliation.",
		},
		[]string{"kind"},
	)

	// CouponReservationsTotal counts coupon reservation attempts by result.
	CouponReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "coupon_reservations_total",
			Help:      "Total coupon reservation attempts by result.",
		},
		[]string{"result"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook delivery attempts by result.",
		},
		[]string{"result"},
	)

	// WebhookQueueDepth tracks pending webhook delivery jobs.
	WebhookQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authplane",
		Name:      "webhook_queue_depth",
		Help:      "Number of webhook delivery jobs waiting for a worker.",
	})

	// IAMRequestsTotal counts upstream IAM admin API calls by operation and result.
	IAMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authplane",
			Name:      "iam_requests_total",
			Help:      "Total IAM admin API requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authplane", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authplane", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authplane", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authplane", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProvisioningTotal,
		ConsistencyErrorsTotal,
		CouponReservationsTotal,
		WebhookDeliveriesTotal,
		WebhookQueueDepth,
		IAMRequestsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Use the route pattern, not the raw path, to bound cardinality.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		status := statusLabel(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// CollectRuntime starts a loop updating runtime and DB pool gauges until ctx
// is cancelled. db may be nil (in-memory mode).
func CollectRuntime(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
			if db != nil {
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
				DBIdleConnections.Set(float64(stats.Idle))
				DBInUseConnections.Set(float64(stats.InUse))
			}
		}
	}
}

func statusLabel(code int) string {
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
