// Package workflows holds the Temporal workflow definitions for compass
// research runs. Workflows orchestrate activities only; every decision
// that needs wall-clock time, randomness, or I/O happens in an activity
// so replays stay deterministic.
//
// The service layer resolves and classifies the query before dispatch,
// so workflow inputs are immutable snapshots of the conversation state
// at submission time.
package workflows

// ResearchInput is the dispatch payload for both workflow types.
type ResearchInput struct {
	// Query is the resolved query, with follow-up references already
	// rewritten to the concrete entity.
	Query string `json:"query"`

	// OriginalQuery is what the user actually typed, kept for the
	// conversation record.
	OriginalQuery string `json:"original_query,omitempty"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`

	// Mode is "research" or "verification"; knowledge-mode queries are
	// answered inline and never reach a workflow.
	Mode string `json:"mode"`

	EntityName string `json:"entity_name,omitempty"`
	EntityType string `json:"entity_type,omitempty"`

	// EntityContext is the resolver's snapshot of what the session
	// already knows about the entity.
	EntityContext string `json:"entity_context,omitempty"`

	// History is the formatted recent-message window.
	History string `json:"history,omitempty"`

	// KnowledgeContext carries the fleetcore-platform half of a hybrid
	// query's prompt.
	KnowledgeContext string `json:"knowledge_context,omitempty"`

	TechnicalDepth bool `json:"technical_depth,omitempty"`

	// MaxIterations caps the research loop. Zero means the default.
	MaxIterations int `json:"max_iterations,omitempty"`

	// MaxSourcesPerSearch bounds each provider call. Zero means the
	// provider default.
	MaxSourcesPerSearch int `json:"max_sources_per_search,omitempty"`
}

// ResearchResult is the final state of a run, returned to the service
// layer and mirrored into the archive.
type ResearchResult struct {
	Answer string `json:"answer"`
	Mode   string `json:"mode"`
	Status string `json:"status"`

	Iterations             int   `json:"iterations"`
	Completeness           int   `json:"completeness"`
	CompletenessTrajectory []int `json:"completeness_trajectory,omitempty"`

	SourceCount       int `json:"source_count"`
	CitationCount     int `json:"citation_count"`
	CitationsRepaired int `json:"citations_repaired"`
	GapsOutstanding   int `json:"gaps_outstanding"`

	TokensUsed int    `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`

	// Degraded is set when the search provider was unavailable for at
	// least one round and the answer rests on fewer sources than the
	// loop wanted.
	Degraded bool `json:"degraded,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Progress is the snapshot served by the workflow query handler while a
// run is still executing.
type Progress struct {
	Stage        string `json:"stage"`
	Iteration    int    `json:"iteration"`
	Completeness int    `json:"completeness"`
	SourceCount  int    `json:"source_count"`
	GapsOpen     int    `json:"gaps_open"`
}

// Stages reported through the progress query handler and stream events.
const (
	StageStarting  = "starting"
	StageSearching = "searching"
	StageAnalyzing = "analyzing"
	StageSynthesis = "synthesizing"
	StageCitations = "citations"
	StageRecording = "recording"
	StageDone      = "done"
	StageFailed    = "failed"
)
