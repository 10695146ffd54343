package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
)

var (
	nzilaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	nzilaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nzila_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	nzilaTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_transitions_total",
		Help: "Transition attempts by entity type and outcome.",
	}, []string{"entity_type", "outcome"})

	nzilaSealsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nzila_seals_total",
		Help: "Total evidence packs sealed.",
	})

	nzilaSealVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_seal_verifications_total",
		Help: "Seal verifications by verdict.",
	}, []string{"verdict"})

	nzilaAuditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nzila_audit_entries_total",
		Help: "Total audit entries appended.",
	})

	nzilaEventPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_event_publish_total",
		Help: "Event batch publishes by status.",
	}, []string{"status"})

	nzilaSinkDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_event_sink_deliveries_total",
		Help: "Event batch deliveries by sink and status.",
	}, []string{"sink", "status"})

	nzilaDependencyHealthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzila_dependency_health_total",
		Help: "Dependency health probes by dependency and result.",
	}, []string{"dependency", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		// Unmatched routes share one label to keep cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		nzilaRequestsTotal.WithLabelValues(method, path, status).Inc()
		nzilaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordTransition records a transition attempt outcome.
func RecordTransition(entityType, outcome string) {
	nzilaTransitionsTotal.WithLabelValues(entityType, outcome).Inc()
}

// RecordSeal records a sealed evidence pack.
func RecordSeal() {
	nzilaSealsTotal.Inc()
}

// RecordSealVerification records a seal verification verdict.
func RecordSealVerification(verdict string) {
	nzilaSealVerificationsTotal.WithLabelValues(verdict).Inc()
}

// RecordAuditAppend records an audit ledger append.
func RecordAuditAppend() {
	nzilaAuditEntriesTotal.Inc()
}

// RecordEventPublish records an event batch publish.
func RecordEventPublish(success bool) {
	nzilaEventPublishTotal.WithLabelValues(result(success)).Inc()
}

// RecordSinkDelivery records one sink's batch delivery.
func RecordSinkDelivery(sink string, success bool) {
	nzilaSinkDeliveriesTotal.WithLabelValues(sink, result(success)).Inc()
}

// RecordDependencyHealth records a dependency probe result.
func RecordDependencyHealth(dependency string, success bool) {
	nzilaDependencyHealthTotal.WithLabelValues(dependency, result(success)).Inc()
}

// LifecycleHooks returns lifecycle hooks that feed the collectors above.
func LifecycleHooks() lifecycle.Hooks {
	return lifecycle.Hooks{
		OnTransition: RecordTransition,
		OnAudit:      RecordAuditAppend,
		OnSeal:       RecordSeal,
		OnPublish:    RecordEventPublish,
	}
}
