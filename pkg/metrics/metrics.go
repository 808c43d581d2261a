package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StimuliReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_stimuli_received_total",
			Help: "Total number of stimuli received by the engine (count)",
		},
		[]string{"kind", "source"},
	)

	StimuliDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_stimuli_duplicate_total",
			Help: "Total number of stimuli skipped as duplicate deliveries (count)",
		},
	)

	RulesMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rules_matched_total",
			Help: "Total number of rule matches produced by the trigger evaluator (count)",
		},
		[]string{"kind"},
	)

	ConditionEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_condition_evaluations_total",
			Help: "Total number of condition predicate evaluations (count)",
		},
		[]string{"result"},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_executions_total",
			Help: "Total number of rule executions (count)",
		},
		[]string{"status"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_execution_duration_ms",
			Help:    "Duration of rule executions in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	ExecutionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_executions_in_flight",
			Help: "Number of rule executions currently in flight (count)",
		},
	)

	ActionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_action_runs_total",
			Help: "Total number of action runs (count)",
		},
		[]string{"action_kind", "status"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_action_duration_ms",
			Help:    "Duration of individual action runs in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"action_kind"},
	)

	ExecutionCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_execution_collisions_total",
			Help: "Total number of executions rejected because the rule was already running (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_retry_attempts_total",
			Help: "Total number of retry attempts dispatched by the sweeper (count)",
		},
		[]string{"status"},
	)

	RetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_retry_queue_depth",
			Help: "Number of items currently pending retry (count)",
		},
	)

	DeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_dead_lettered_total",
			Help: "Total number of items moved to the permanent dead-letter state (count)",
		},
		[]string{"reason"},
	)

	AuditLogWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_audit_log_writes_total",
			Help: "Total number of execution log entries appended (count)",
		},
		[]string{"status"},
	)

	ActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "automation_active_rules",
			Help: "Number of enabled rules known to the evaluator per tenant (count)",
		},
		[]string{"tenant_id"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_message_retries_total",
			Help: "Total number of Kafka message processing retries (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(StimuliReceivedTotal)
	prometheus.MustRegister(StimuliDuplicateTotal)
	prometheus.MustRegister(RulesMatchedTotal)
	prometheus.MustRegister(ConditionEvaluationsTotal)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(ExecutionsInFlight)
	prometheus.MustRegister(ActionRunsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(ExecutionCollisionsTotal)
	prometheus.MustRegister(ActiveRules)
}

func RegisterRetryMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(RetryQueueDepth)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(AuditLogWritesTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaRetriesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveExecutionDuration(duration time.Duration, status string) {
	ExecutionDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveActionDuration(actionKind string, duration time.Duration) {
	ActionDuration.WithLabelValues(actionKind).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(tenantID string, count int) {
	ActiveRules.WithLabelValues(tenantID).Set(float64(count))
}

func SetRetryQueueDepth(depth int) {
	RetryQueueDepth.Set(float64(depth))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
