package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "tenant_id", "consumer_type"}
	// Labels for resolution outcome metrics
	resolutionLabels = []string{"outcome", "source", "tenant_id"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "tenant_id", "consumer_type", "action", "error_type"}

	// Standard Event Counters (labeled by consumer_type so the webhook
	// gateway and the NATS relay can be told apart)
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_events_received_total",
			Help: "Total number of inbound events received, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_events_processed_total",
			Help: "Total number of events successfully processed and journaled, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_events_failed_total",
			Help: "Total number of events that failed processing (resulting in Nack or error), labeled by consumer type.",
		},
		eventProcessingLabels,
	)

	// Resolution outcome counter, one increment per journaled delivery.
	ResolutionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_resolution_outcomes_total",
			Help: "Total number of identity resolutions, labeled by terminal outcome and source.",
		},
		resolutionLabels,
	)

	// Stage transition counter.
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_stage_transitions_total",
			Help: "Total number of accepted funnel stage transitions.",
		},
		[]string{"from_stage", "to_stage", "tenant_id"},
	)

	// Histogram for Processing Duration
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_event_service_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	// Histogram for Routing Duration
	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_event_service_event_routing_duration_seconds",
			Help:    "Histogram of event routing specific durations (time spent in router.Route).",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		eventProcessingLabels,
	)

	// Counter for Specific Actions
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_event_service_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)

	// Global metrics instance
	Metrics *metricsStore
)

// Webhook gateway metrics
var (
	webhookLabels = []string{"source", "tenant_id", "status"}

	webhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_webhook_requests_total",
			Help: "Total number of webhook HTTP requests, labeled by source and response status.",
		},
		webhookLabels,
	)
	webhookRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_webhook_request_duration_seconds",
			Help:    "Histogram of webhook HTTP request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "tenant_id"},
	)
)

// Dedupe cache metrics
var (
	cacheCheckLabels = []string{"tenant_id", "cache", "result"}

	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_dedupe_cache_checks_total",
			Help: "Total number of dedupe cache checks, labeled by filter and result.",
		},
		cacheCheckLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "tenant_id", "status"}

	// Histogram for Database Operation Duration
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_event_service_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// --- Replay Worker Pool Metrics ---
var (
	replayLabels       = []string{"tenant_id"}
	replayStatusLabels = []string{"tenant_id", "status"}

	replayTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_replay_tasks_submitted_total",
			Help: "Total number of replay tasks submitted to the worker pool.",
		},
		replayLabels,
	)
	replayTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_replay_tasks_processed_total",
			Help: "Total number of replay tasks processed by the worker pool, labeled by final status.",
		},
		replayStatusLabels,
	)
	replayProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_replay_processing_duration_seconds",
			Help:    "Histogram of processing durations for replay tasks.",
			Buckets: prometheus.DefBuckets,
		},
		replayLabels,
	)
	replayQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnel_replay_queue_length",
		Help: "Approximate number of tasks waiting in the replay worker pool queue.",
	})
)

// --- Event Generator Metrics ---
var (
	eventgenLabels = []string{"subject", "tenant_id"}

	eventgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_eventgen_messages_attempted_total",
			Help: "Total number of messages the event generator attempted to publish.",
		},
		eventgenLabels,
	)
	eventgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_eventgen_messages_published_total",
			Help: "Total number of messages successfully published by the event generator.",
		},
		eventgenLabels,
	)
	eventgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_eventgen_publish_errors_total",
			Help: "Total number of errors encountered by the event generator during publishing.",
		},
		eventgenLabels,
	)
)

// metricsStore holds references to all Prometheus metrics.
type metricsStore struct{}

// InitMetrics initializes and registers the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	if !enabled {
		return
	}

	metricsEnabled = true

	// Metrics are auto-registered via promauto, so no explicit registration
	// is needed here.
	Metrics = &metricsStore{}
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncResolutionOutcome increments the resolution outcome counter.
func IncResolutionOutcome(outcome, source, tenant string) {
	if !metricsEnabled {
		return
	}
	ResolutionOutcomesTotal.WithLabelValues(outcome, source, sanitizeTenant(tenant)).Inc()
}

// IncStageTransition increments the accepted stage transition counter.
func IncStageTransition(fromStage, toStage, tenant string) {
	if !metricsEnabled {
		return
	}
	StageTransitionsTotal.WithLabelValues(fromStage, toStage, sanitizeTenant(tenant)).Inc()
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// --- Webhook Metric Helpers ---

// IncWebhookRequest increments the webhook request counter.
func IncWebhookRequest(source, tenant, status string) {
	if !metricsEnabled {
		return
	}
	webhookRequestsTotal.WithLabelValues(source, sanitizeTenant(tenant), status).Inc()
}

// ObserveWebhookRequestDuration records the duration of a webhook request.
func ObserveWebhookRequestDuration(source, tenant string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	webhookRequestDurationSeconds.WithLabelValues(source, sanitizeTenant(tenant)).Observe(duration.Seconds())
}

// --- Cache Metric Helpers ---

// IncCacheCheck increments the dedupe cache check counter.
func IncCacheCheck(tenant, cacheName, result string) {
	if !metricsEnabled {
		return
	}
	cacheChecksTotal.WithLabelValues(sanitizeTenant(tenant), cacheName, result).Inc()
}

// --- Processing Metric Helpers ---

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, tenantID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(tenantID), status).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	sanitizedErrorType := SanitizeErrorType(errorType)
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, sanitizedErrorType).Inc()
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "ambiguous"):
		return "ambiguous"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// --- Replay Worker Metric Helpers ---

// IncReplayTasksSubmitted increments the counter for submitted replay tasks.
func IncReplayTasksSubmitted(tenantID string) {
	if Metrics != nil {
		replayTasksSubmittedTotal.WithLabelValues(sanitizeTenant(tenantID)).Inc()
	}
}

// IncReplayTasksProcessed increments the counter for processed replay tasks by status.
func IncReplayTasksProcessed(tenantID, status string) {
	if Metrics != nil {
		replayTasksProcessedTotal.WithLabelValues(sanitizeTenant(tenantID), status).Inc()
	}
}

// ObserveReplayProcessingDuration records the processing time for a replay task.
func ObserveReplayProcessingDuration(tenantID string, duration time.Duration) {
	if Metrics != nil {
		replayProcessingDurationSeconds.WithLabelValues(sanitizeTenant(tenantID)).Observe(duration.Seconds())
	}
}

// SetReplayQueueLength sets the current replay queue length.
func SetReplayQueueLength(length int) {
	if Metrics != nil {
		replayQueueLength.Set(float64(length))
	}
}

// --- Event Generator Metric Helpers ---

// IncEventgenMessagesAttempted increments the counter for attempted message publications.
func IncEventgenMessagesAttempted(subject, tenantID string) {
	if Metrics != nil {
		eventgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeTenant(tenantID)).Inc()
	}
}

// IncEventgenMessagesPublished increments the counter for successfully published messages.
func IncEventgenMessagesPublished(subject, tenantID string) {
	if Metrics != nil {
		eventgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeTenant(tenantID)).Inc()
	}
}

// IncEventgenPublishErrors increments the counter for publishing errors.
func IncEventgenPublishErrors(subject, tenantID string) {
	if Metrics != nil {
		eventgenPublishErrorsTotal.WithLabelValues(subject, sanitizeTenant(tenantID)).Inc()
	}
}
