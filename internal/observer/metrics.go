package observer

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// --- Routing metrics ---
var (
	RoutingResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_routing_resolutions_total",
			Help: "Total number of conversation resolutions, labeled by channel, tier and outcome.",
		},
		[]string{"channel", "tier", "outcome"},
	)

	RoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acertaia_routing_duration_seconds",
			Help:    "Histogram of end to end resolution durations, agent call included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"channel", "tier"},
	)

	AgentExecutionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acertaia_agent_execution_duration_seconds",
			Help:    "Histogram of agent text generation durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"tier", "status"},
	)

	BindingWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_binding_writes_total",
			Help: "Total number of conversation binding writes, labeled by operation and status.",
		},
		[]string{"operation", "status"},
	)

	ConversationLockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_conversation_lock_total",
			Help: "Conversation lock acquisitions, labeled by result (acquired, contended, error).",
		},
		[]string{"result"},
	)
)

// --- Ingestion metrics ---
var (
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_inbound_messages_total",
			Help: "Total number of webhook messages ingested, labeled by result (inserted, duplicate, skipped, error).",
		},
		[]string{"result"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_webhook_deliveries_total",
			Help: "Total number of webhook deliveries, labeled by source (http, nats), event and status.",
		},
		[]string{"source", "event", "status"},
	)

	SeenCacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_seen_cache_checks_total",
			Help: "Seen-message bloom filter checks, labeled by result (miss, possible_hit, false_positive).",
		},
		[]string{"result"},
	)

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_events_received_total",
			Help: "Total number of events received from NATS.",
		},
		[]string{"event_type", "consumer_type"},
	)

	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_event_processing_actions_total",
			Help: "Total count of ack/nak/term actions taken after event processing, labeled by error type.",
		},
		[]string{"event_type", "consumer_type", "action", "error_type"},
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acertaia_event_processing_duration_seconds",
			Help:    "Histogram of NATS event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"event_type", "consumer_type"},
	)
)

// --- Outbound delivery metrics ---
var (
	deliveryTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_delivery_tasks_total",
			Help: "Outbound reply deliveries, labeled by status (submitted, sent, failed, dropped).",
		},
		[]string{"status"},
	)
	deliveryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acertaia_delivery_duration_seconds",
			Help:    "Histogram of outbound reply delivery durations.",
			Buckets: prometheus.DefBuckets,
		},
	)
	deliveryWorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acertaia_delivery_workers_running",
		Help: "Number of busy workers in the delivery pool.",
	})
)

// --- Storage metrics ---
var (
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acertaia_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation", "entity", "status"},
	)
)

// --- HTTP metrics ---
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acertaia_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		},
		[]string{"method", "route"},
	)
)

// --- DLQ worker metrics ---
var (
	dlqTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_dlq_tasks_total",
			Help: "Dead lettered webhooks handled by the DLQ worker, labeled by result (replayed, retry, exhausted, dropped, submit_error).",
		},
		[]string{"result"},
	)
	dlqFetchErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acertaia_dlq_fetch_errors_total",
			Help: "Failed pull requests against the DLQ consumer.",
		},
	)
	dlqProcessingDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acertaia_dlq_processing_duration_seconds",
			Help:    "Histogram of DLQ replay durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
	dlqWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acertaia_dlq_workers_active",
			Help: "Busy goroutines in the DLQ worker pool.",
		},
	)
)

// --- Load generator metrics ---
var (
	loadgenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acertaia_loadgen_requests_total",
			Help: "Webhook deliveries sent by the load generator, labeled by target and status.",
		},
		[]string{"target", "status"},
	)
)

// InitMetrics toggles metric collection. Collectors are registered by promauto
// regardless, so /metrics keeps serving the Go runtime collectors.
func InitMetrics(enabled bool) {
	metricsEnabled.Store(enabled)
}

// Enabled reports whether metric collection is on.
func Enabled() bool {
	return metricsEnabled.Load()
}

// IncRoutingResolution counts a finished resolution.
func IncRoutingResolution(channel, tier, outcome string) {
	if !Enabled() {
		return
	}
	RoutingResolutionsTotal.WithLabelValues(orUnknown(channel), orUnknown(tier), orUnknown(outcome)).Inc()
}

// ObserveRoutingDuration records an end to end resolution duration.
func ObserveRoutingDuration(channel, tier string, duration time.Duration) {
	if !Enabled() {
		return
	}
	RoutingDurationSeconds.WithLabelValues(orUnknown(channel), orUnknown(tier)).Observe(duration.Seconds())
}

// ObserveAgentExecution records an agent call duration and its result.
func ObserveAgentExecution(tier string, duration time.Duration, err error) {
	if !Enabled() {
		return
	}
	AgentExecutionDurationSeconds.WithLabelValues(orUnknown(tier), statusOf(err)).Observe(duration.Seconds())
}

// IncBindingWrite counts a bind/unbind attempt.
func IncBindingWrite(operation string, err error) {
	if !Enabled() {
		return
	}
	BindingWritesTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

// IncConversationLock counts a conversation lock attempt.
func IncConversationLock(result string) {
	if !Enabled() {
		return
	}
	ConversationLockTotal.WithLabelValues(result).Inc()
}

// IncInboundMessage counts an ingested webhook message.
func IncInboundMessage(result string) {
	if !Enabled() {
		return
	}
	InboundMessagesTotal.WithLabelValues(result).Inc()
}

// IncWebhookDelivery counts a processed webhook delivery.
func IncWebhookDelivery(source, event string, err error) {
	if !Enabled() {
		return
	}
	WebhookDeliveriesTotal.WithLabelValues(source, orUnknown(event), statusOf(err)).Inc()
}

// IncSeenCacheCheck counts a seen-message filter lookup.
func IncSeenCacheCheck(result string) {
	if !Enabled() {
		return
	}
	SeenCacheChecksTotal.WithLabelValues(result).Inc()
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, consumerType string) {
	if !Enabled() {
		return
	}
	EventsReceivedTotal.WithLabelValues(orUnknown(eventType), consumerType).Inc()
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, consumerType, action, errorType string) {
	if !Enabled() {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(orUnknown(eventType), consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveEventProcessingDuration records the processing time for a NATS event.
func ObserveEventProcessingDuration(eventType, consumerType string, duration time.Duration) {
	if !Enabled() {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(orUnknown(eventType), consumerType).Observe(duration.Seconds())
}

// IncDeliveryTask counts an outbound delivery by status.
func IncDeliveryTask(status string) {
	if !Enabled() {
		return
	}
	deliveryTasksTotal.WithLabelValues(status).Inc()
}

// ObserveDeliveryDuration records the duration of one outbound delivery.
func ObserveDeliveryDuration(duration time.Duration) {
	if !Enabled() {
		return
	}
	deliveryDurationSeconds.Observe(duration.Seconds())
}

// SetDeliveryWorkersRunning sets the busy worker gauge of the delivery pool.
func SetDeliveryWorkersRunning(n int) {
	if !Enabled() {
		return
	}
	deliveryWorkersRunning.Set(float64(n))
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !Enabled() {
		return
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, statusOf(err)).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if !Enabled() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, orUnknown(route), strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, orUnknown(route)).Observe(duration.Seconds())
}

// IncDlqTask counts a DLQ message by result.
func IncDlqTask(result string) {
	if !Enabled() {
		return
	}
	dlqTasksTotal.WithLabelValues(result).Inc()
}

// IncDlqFetchError counts a failed DLQ pull.
func IncDlqFetchError() {
	if !Enabled() {
		return
	}
	dlqFetchErrorsTotal.Inc()
}

// ObserveDlqProcessingDuration records one DLQ replay.
func ObserveDlqProcessingDuration(duration time.Duration) {
	if !Enabled() {
		return
	}
	dlqProcessingDurationSeconds.Observe(duration.Seconds())
}

// SetDlqWorkersActive sets the busy worker gauge of the DLQ pool.
func SetDlqWorkersActive(n int) {
	if !Enabled() {
		return
	}
	dlqWorkersActive.Set(float64(n))
}

// IncLoadgenRequest counts a request sent by the load generator.
func IncLoadgenRequest(target string, err error) {
	if !Enabled() {
		return
	}
	loadgenRequestsTotal.WithLabelValues(target, statusOf(err)).Inc()
}

// SanitizeErrorType maps an error string to a small set of categories.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	errStr = strings.ToLower(errStr)
	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "sql"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "agent execution"), strings.Contains(errStr, "upstream"):
		return "agent"
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

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func orUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
