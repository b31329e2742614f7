// Package db persists finished research runs and conversation turns to
// Postgres for audit. Writes on the request path go through the async
// ArchiveWriter; everything here is guarded by the database circuit
// breaker.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/circuitbreaker"
)

// Config holds database connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client wraps the archive database behind the circuit breaker.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewClient opens a pooled connection and verifies it with a ping.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	rawDB, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	wrapper := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapper.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Archive database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("max_connections", cfg.MaxConnections),
	)

	return &Client{db: wrapper, logger: logger}, nil
}

// NewClientWithDB wraps an existing handle. Tests use it with sqlmock and
// sqlite.
func NewClientWithDB(rawDB *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		db:     circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger: logger,
	}
}

// Wrapper exposes the breaker-guarded handle for health checks and the
// degradation probes.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Close closes the underlying pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// SaveResearchRun inserts or updates a run, idempotent by workflow ID so
// in-progress and final writes of the same run merge.
func (c *Client) SaveResearchRun(ctx context.Context, run *ResearchRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO research_runs (
			id, workflow_id, session_id, tenant_id, user_id,
			query, entity, entity_type, mode, status,
			answer, error_message,
			iterations, completeness, completeness_trajectory,
			source_count, citation_count, citations_repaired, gaps_outstanding,
			started_at, completed_at, duration_ms, metadata, created_at
		) VALUES (
			:id, :workflow_id, :session_id, :tenant_id, :user_id,
			:query, :entity, :entity_type, :mode, :status,
			:answer, :error_message,
			:iterations, :completeness, :completeness_trajectory,
			:source_count, :citation_count, :citations_repaired, :gaps_outstanding,
			:started_at, :completed_at, :duration_ms, :metadata, :created_at
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status,
			answer = EXCLUDED.answer,
			error_message = EXCLUDED.error_message,
			iterations = EXCLUDED.iterations,
			completeness = EXCLUDED.completeness,
			completeness_trajectory = EXCLUDED.completeness_trajectory,
			source_count = EXCLUDED.source_count,
			citation_count = EXCLUDED.citation_count,
			citations_repaired = EXCLUDED.citations_repaired,
			gaps_outstanding = EXCLUDED.gaps_outstanding,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			metadata = EXCLUDED.metadata`

	if _, err := c.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("save research run: %w", err)
	}
	return nil
}

// GetResearchRun loads one run by workflow ID.
func (c *Client) GetResearchRun(ctx context.Context, workflowID string) (*ResearchRun, error) {
	var run ResearchRun
	err := c.db.GetContext(ctx, &run,
		"SELECT * FROM research_runs WHERE workflow_id = $1", workflowID)
	if err != nil {
		return nil, fmt.Errorf("get research run %s: %w", workflowID, err)
	}
	return &run, nil
}

// ListResearchRuns returns runs matching the filter, newest first.
func (c *Client) ListResearchRuns(ctx context.Context, filter ResearchRunFilter) ([]ResearchRun, error) {
	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.SessionID != nil {
		addCondition("session_id = $%d", *filter.SessionID)
	}
	if filter.TenantID != nil {
		addCondition("tenant_id = $%d", *filter.TenantID)
	}
	if filter.Status != nil {
		addCondition("status = $%d", *filter.Status)
	}
	if filter.Mode != nil {
		addCondition("mode = $%d", *filter.Mode)
	}
	if filter.Since != nil {
		addCondition("started_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		addCondition("started_at < $%d", *filter.Until)
	}

	query := "SELECT * FROM research_runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var runs []ResearchRun
	if err := c.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list research runs: %w", err)
	}
	return runs, nil
}

// SaveConversationTurn appends one turn to the audit log.
func (c *Client) SaveConversationTurn(ctx context.Context, turn *ConversationTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO conversation_turns (
			id, session_id, tenant_id, role, content, mode, workflow_id, created_at
		) VALUES (
			:id, :session_id, :tenant_id, :role, :content, :mode, :workflow_id, :created_at
		)`
	if _, err := c.db.NamedExecContext(ctx, query, turn); err != nil {
		return fmt.Errorf("save conversation turn: %w", err)
	}
	return nil
}

// ListConversationTurns returns a session's archived turns, oldest first.
func (c *Client) ListConversationTurns(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var turns []ConversationTurn
	err := c.db.SelectContext(ctx, &turns,
		"SELECT * FROM conversation_turns WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2",
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation turns: %w", err)
	}
	return turns, nil
}
