package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across the API and
// webhook ingress routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "orchestra",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ExecutionsEnqueuedTotal counts executions enqueued by trigger type.
var ExecutionsEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "executions",
		Name:      "enqueued_total",
		Help:      "Total number of executions enqueued by trigger type.",
	},
	[]string{"trigger_type"},
)

// ExecutionsCompletedTotal counts finished executions by terminal status.
var ExecutionsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "executions",
		Name:      "completed_total",
		Help:      "Total number of executions that reached a terminal status.",
	},
	[]string{"status"},
)

// ExecutionDuration observes end-to-end execution wall-clock time.
var ExecutionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "orchestra",
		Subsystem: "executions",
		Name:      "duration_seconds",
		Help:      "Execution duration in seconds from dequeue to terminal status.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
	},
	[]string{"status"},
)

// NodeExecutionsTotal counts per-node executions by outcome.
var NodeExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "nodes",
		Name:      "executions_total",
		Help:      "Total number of node executions by outcome.",
	},
	[]string{"outcome"},
)

// NodeIdempotencyHitsTotal counts node executions served from the
// NodeExecutionResult cache instead of invoking the connector.
var NodeIdempotencyHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "nodes",
		Name:      "idempotency_cache_hits_total",
		Help:      "Total number of node executions served from the idempotency cache.",
	},
)

// WebhooksReceivedTotal counts webhook deliveries by provider and outcome.
var WebhooksReceivedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "webhooks",
		Name:      "received_total",
		Help:      "Total number of webhook deliveries received by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// WebhookVerificationFailuresTotal counts signature verification failures by reason.
var WebhookVerificationFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "webhooks",
		Name:      "verification_failures_total",
		Help:      "Total number of webhook signature verification failures by reason.",
	},
	[]string{"reason"},
)

// PollingBackoffTotal counts polling-trigger backoff events.
var PollingBackoffTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "polling",
		Name:      "backoff_total",
		Help:      "Total number of polling trigger backoff events.",
	},
)

// AdmissionRejectionsTotal counts admission rejections by reason.
var AdmissionRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Total number of admission rejections by reason.",
	},
	[]string{"reason"},
)

// ResumeTokensConsumedTotal counts resume token consumption outcomes.
var ResumeTokensConsumedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestra",
		Subsystem: "resume",
		Name:      "tokens_consumed_total",
		Help:      "Total number of resume token consumption attempts by outcome.",
	},
	[]string{"outcome"},
)

// All returns all orchestra-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ExecutionsEnqueuedTotal,
		ExecutionsCompletedTotal,
		ExecutionDuration,
		NodeExecutionsTotal,
		NodeIdempotencyHitsTotal,
		WebhooksReceivedTotal,
		WebhookVerificationFailuresTotal,
		PollingBackoffTotal,
		AdmissionRejectionsTotal,
		ResumeTokensConsumedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
