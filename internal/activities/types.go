package activities

import (
	"time"

	"github.com/fleetcore-ai/compass/internal/gaps"
	"github.com/fleetcore-ai/compass/internal/sources"
)

// SearchInput is one grounding request from a workflow.
type SearchInput struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	SiteHints  []string `json:"site_hints,omitempty"`
}

// SearchResult carries categorized, tier-annotated sources.
type SearchResult struct {
	Sources  []sources.Source `json:"sources"`
	Provider string           `json:"provider,omitempty"`

	// Degraded is set when the provider was unavailable and the loop
	// should continue on what it already has.
	Degraded bool `json:"degraded,omitempty"`
}

// GapAnalysisInput asks which vessel-profile fields a draft still misses.
type GapAnalysisInput struct {
	Content    string           `json:"content"`
	EntityName string           `json:"entity_name"`
	Sources    []sources.Source `json:"sources,omitempty"`
	Iteration  int              `json:"iteration"`
}

// SynthesisInput carries everything the prompt builder needs for one
// completion call.
type SynthesisInput struct {
	Mode             string           `json:"mode"`
	Query            string           `json:"query"`
	EntityContext    string           `json:"entity_context,omitempty"`
	History          string           `json:"history,omitempty"`
	KnowledgeContext string           `json:"knowledge_context,omitempty"`
	Sources          []sources.Source `json:"sources,omitempty"`
	Gaps             []gaps.Gap       `json:"gaps,omitempty"`
	TechnicalDepth   bool             `json:"technical_depth,omitempty"`
	Iteration        int              `json:"iteration,omitempty"`
	PreviousDraft    string           `json:"previous_draft,omitempty"`
}

// SynthesisResult is the completion provider's answer.
type SynthesisResult struct {
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// EnforceCitationsInput asks for an answer's citation floor to be met.
type EnforceCitationsInput struct {
	Content        string           `json:"content"`
	Sources        []sources.Source `json:"sources"`
	TechnicalDepth bool             `json:"technical_depth,omitempty"`

	// AppendSources adds the deduped, tier-annotated Sources section to
	// the final answer.
	AppendSources bool `json:"append_sources,omitempty"`
}

// EnforceCitationsResult reports what enforcement did.
type EnforceCitationsResult struct {
	Content           string `json:"content"`
	CitationsFound    int    `json:"citations_found"`
	CitationsAfter    int    `json:"citations_after"`
	CitationsRequired int    `json:"citations_required"`
	CitationsAdded    int    `json:"citations_added"`
	MarkersRepaired   int    `json:"markers_repaired"`
	InvalidMarkers    int    `json:"invalid_markers,omitempty"`
	WasEnforced       bool   `json:"was_enforced"`
}

// RecordTurnInput persists one user/assistant exchange to session memory
// and the turn archive.
type RecordTurnInput struct {
	SessionID        string `json:"session_id"`
	TenantID         string `json:"tenant_id,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	WorkflowID       string `json:"workflow_id,omitempty"`
	Mode             string `json:"mode,omitempty"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`

	VesselName  string   `json:"vessel_name,omitempty"`
	VesselType  string   `json:"vessel_type,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
	CompanyRole string   `json:"company_role,omitempty"`
	Features    []string `json:"features,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	Summary     string   `json:"summary,omitempty"`
}

// RecordTurnResult reports whether the turn reached the session store.
type RecordTurnResult struct {
	Recorded bool   `json:"recorded"`
	Archived bool   `json:"archived"`
	Error    string `json:"error,omitempty"`
}

// ArchiveRunInput is the final record of a research or verification run.
type ArchiveRunInput struct {
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id"`
	TenantID   string `json:"tenant_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`

	Query      string `json:"query"`
	Entity     string `json:"entity,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`

	Answer       string `json:"answer,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Iterations             int       `json:"iterations"`
	Completeness           float64   `json:"completeness"`
	CompletenessTrajectory []float64 `json:"completeness_trajectory,omitempty"`
	SourceCount            int       `json:"source_count"`
	CitationCount          int       `json:"citation_count"`
	CitationsRepaired      int       `json:"citations_repaired"`
	GapsOutstanding        int       `json:"gaps_outstanding"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ArchiveRunResult reports whether the record was queued for writing.
type ArchiveRunResult struct {
	Queued bool `json:"queued"`
}

// PublishProgressInput is one progress event for a workflow's stream.
type PublishProgressInput struct {
	WorkflowID string                 `json:"workflow_id"`
	EventType  string                 `json:"event_type"`
	Stage      string                 `json:"stage,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Iteration  int                    `json:"iteration,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}
