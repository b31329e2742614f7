package server

import (
	"errors"
	"time"
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	// ErrPolicyDenied means the admission policy rejected the query.
	ErrPolicyDenied = errors.New("query denied by policy")
	// ErrQueryNotFound means no workflow exists for the requested ID.
	ErrQueryNotFound = errors.New("query not found")
)

// Query lifecycle states reported by the API. They match the archive's
// research_runs status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
	StatusTimedOut  = "timed_out"
)

// QueryRequest is one user query submitted to the decision pipeline.
type QueryRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	TenantPlan     string `json:"tenant_plan,omitempty"`
	EnableBrowsing bool   `json:"enable_browsing"`

	// MaxIterations overrides the research loop bound, subject to the
	// policy ceiling. Zero means the service default.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// QueryResult is the submission outcome. Knowledge-mode queries complete
// inline and carry their answer; verification and research queries return
// with a running workflow to poll or stream.
type QueryResult struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	SessionID  string `json:"session_id"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	Answer     string `json:"answer,omitempty"`

	// Degradation outcome, set when breaker state forced a lesser mode.
	Degraded        bool   `json:"degraded,omitempty"`
	DowngradeReason string `json:"downgrade_reason,omitempty"`
}

// QueryStatus reports a dispatched workflow's progress or final state.
type QueryStatus struct {
	WorkflowID   string     `json:"workflow_id"`
	SessionID    string     `json:"session_id,omitempty"`
	Status       string     `json:"status"`
	Mode         string     `json:"mode,omitempty"`
	Answer       string     `json:"answer,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Iterations   int        `json:"iterations,omitempty"`
	Completeness float64    `json:"completeness,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
