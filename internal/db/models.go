package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// ResearchRun is the archived record of one verification or research
// workflow, written when the run finishes. The completeness trajectory
// holds the score after each iteration so reviewers can see whether more
// iterations were still paying off.
type ResearchRun struct {
	ID         uuid.UUID  `db:"id"`
	WorkflowID string     `db:"workflow_id"`
	SessionID  string     `db:"session_id"`
	TenantID   string     `db:"tenant_id"`
	UserID     *uuid.UUID `db:"user_id"`

	Query      string `db:"query"`
	Entity     string `db:"entity"`
	EntityType string `db:"entity_type"`
	Mode       string `db:"mode"`
	Status     string `db:"status"`

	Answer       *string `db:"answer"`
	ErrorMessage *string `db:"error_message"`

	Iterations             int             `db:"iterations"`
	Completeness           float64         `db:"completeness"`
	CompletenessTrajectory pq.Float64Array `db:"completeness_trajectory"`
	SourceCount            int             `db:"source_count"`
	CitationCount          int             `db:"citation_count"`
	CitationsRepaired      int             `db:"citations_repaired"`
	GapsOutstanding        int             `db:"gaps_outstanding"`

	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	DurationMs  *int64     `db:"duration_ms"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCanceled  = "canceled"
)

// ConversationTurn is one archived message of a session, the audit
// counterpart of the Redis conversation store.
type ConversationTurn struct {
	ID         uuid.UUID `db:"id"`
	SessionID  string    `db:"session_id"`
	TenantID   string    `db:"tenant_id"`
	Role       string    `db:"role"`
	Content    string    `db:"content"`
	Mode       string    `db:"mode"`
	WorkflowID *string   `db:"workflow_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// ResearchRunFilter narrows ListResearchRuns.
type ResearchRunFilter struct {
	SessionID *string
	TenantID  *string
	Status    *string
	Mode      *string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}
