package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision pipeline metrics
	QueriesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_queries_classified_total",
			Help: "Total number of queries classified, by resulting mode",
		},
		[]string{"mode", "hybrid"},
	)

	QueriesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_queries_resolved_total",
			Help: "Total number of entity context resolutions",
		},
		[]string{"has_context", "entity_type"},
	)

	TechnicalDepthScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_technical_depth_score",
			Help:    "Technical depth score assigned to classified queries",
			Buckets: []float64{0, 2, 4, 6, 8, 10},
		},
	)

	// Research loop metrics
	ResearchWorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_research_workflows_started_total",
			Help: "Total number of research workflows started",
		},
		[]string{"workflow_type"},
	)

	ResearchWorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_research_workflows_completed_total",
			Help: "Total number of research workflows completed",
		},
		[]string{"workflow_type", "status"},
	)

	ResearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_research_iterations",
			Help:    "Iterations taken per research run",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	ResearchCompleteness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_research_completeness_percent",
			Help:    "Final profile completeness per research run",
			Buckets: []float64{0, 20, 40, 60, 80, 90, 100},
		},
	)

	ResearchGapsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_research_gaps_total",
			Help: "Research gaps detected, by field and importance",
		},
		[]string{"field", "importance"},
	)

	// Search provider metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_search_requests_total",
			Help: "Search provider requests, by provider and status",
		},
		[]string{"provider", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_search_latency_seconds",
			Help:    "Search provider request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SourcesCategorized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_sources_categorized_total",
			Help: "Sources categorized, by category",
		},
		[]string{"category"},
	)

	// Citation metrics
	CitationsRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_citations_repaired_total",
			Help: "Legacy citation markers normalized to canonical form",
		},
	)

	CitationsInjected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_citations_injected_total",
			Help: "Citation markers injected to meet density requirements",
		},
	)

	CitationInvalidMarkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_citation_invalid_markers_total",
			Help: "Citation markers with out-of-range indices left untouched",
		},
	)

	DraftsUnderCited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_drafts_under_cited_total",
			Help: "Synthesized drafts carrying fewer citations than their floor",
		},
	)

	// Completion provider metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_completion_requests_total",
			Help: "Completion provider requests, by provider and status",
		},
		[]string{"provider", "status"},
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_completion_latency_seconds",
			Help:    "Completion provider request latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// Conversation store metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_conversations_created_total",
			Help: "Total number of conversation memories created",
		},
	)

	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_conversation_cache_hits_total",
			Help: "Local conversation cache hits",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_conversation_cache_misses_total",
			Help: "Local conversation cache misses",
		},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compass_conversation_cache_size",
			Help: "Current number of memories in the local cache",
		},
	)

	ConversationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_conversation_cache_evictions_total",
			Help: "Memories evicted from the local cache",
		},
	)

	// HTTP API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_decisions_total",
			Help: "Research admission policy decisions",
		},
		[]string{"decision", "mode"},
	)

	// Degradation metrics
	ModeDowngrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_mode_downgrades_total",
			Help: "Answer-mode downgrades due to degradation",
		},
		[]string{"from", "to", "reason"},
	)

	// Archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_archive_writes_total",
			Help: "Research archive writes, by status",
		},
		[]string{"status"},
	)

	ArchiveDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_archive_dropped_total",
			Help: "Archive records dropped because the write queue was full",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compass_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_circuit_breaker_trips_total",
			Help: "Circuit breaker transitions to open",
		},
		[]string{"name"},
	)
)

// RecordClassification records one classifier decision.
func RecordClassification(mode string, hybrid bool) {
	h := "false"
	if hybrid {
		h = "true"
	}
	QueriesClassified.WithLabelValues(mode, h).Inc()
}

// RecordResolution records one entity context resolution.
func RecordResolution(hasContext bool, entityType string) {
	hc := "false"
	if hasContext {
		hc = "true"
	}
	if entityType == "" {
		entityType = "none"
	}
	QueriesResolved.WithLabelValues(hc, entityType).Inc()
}

// RecordResearchRun records the outcome of a finished research workflow.
func RecordResearchRun(workflowType, status string, iterations, completeness int) {
	ResearchWorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	ResearchIterations.Observe(float64(iterations))
	ResearchCompleteness.Observe(float64(completeness))
}

// RecordGap records one detected research gap.
func RecordGap(field, importance string) {
	ResearchGapsFound.WithLabelValues(field, importance).Inc()
}

// RecordSearch records a search provider call.
func RecordSearch(provider, status string, seconds float64) {
	SearchRequests.WithLabelValues(provider, status).Inc()
	SearchLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordCompletion records a completion provider call.
func RecordCompletion(provider, status string, seconds float64) {
	CompletionRequests.WithLabelValues(provider, status).Inc()
	CompletionLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordHTTPRequest records an HTTP API request.
func RecordHTTPRequest(route, method, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

// RecordModeDowngrade records a degradation-driven mode change.
func RecordModeDowngrade(from, to, reason string) {
	ModeDowngrades.WithLabelValues(from, to, reason).Inc()
}

// RecordPolicyDecision records a research admission decision.
func RecordPolicyDecision(decision, mode string) {
	PolicyDecisions.WithLabelValues(decision, mode).Inc()
}
