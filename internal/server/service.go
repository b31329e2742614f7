package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/degradation"
	"github.com/fleetcore-ai/compass/internal/llm"
	"github.com/fleetcore-ai/compass/internal/metrics"
	"github.com/fleetcore-ai/compass/internal/policy"
	"github.com/fleetcore-ai/compass/internal/prompts"
	"github.com/fleetcore-ai/compass/internal/resolver"
	"github.com/fleetcore-ai/compass/internal/streaming"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

// Options carries the scalar knobs for a Service.
type Options struct {
	// TaskQueue is the Temporal task queue research workflows run on.
	TaskQueue string

	// Environment is forwarded to the policy engine as input.environment.
	Environment string

	// MaxIterations is the default research iteration cap when the request
	// does not ask for one. Policy ceilings can lower the effective value
	// but never raise it.
	MaxIterations int

	// MaxSourcesPerSearch bounds each search round's result set.
	MaxSourcesPerSearch int
}

// Service coordinates a query's pre-flight pipeline: conversation memory,
// reference resolution, mode classification, policy admission, and the
// degradation ladder. Knowledge queries are answered inline; verification
// and research queries are handed to Temporal and tracked by workflow ID.
type Service struct {
	temporalClient client.Client
	conversations  *conversation.Manager
	llm            llm.Client
	policies       *policy.OPAEngine
	degradation    *degradation.Manager
	stream         *streaming.Manager
	archive        *db.ArchiveWriter
	resolver       *resolver.Resolver
	classifier     *classifier.Classifier
	logger         *zap.Logger

	taskQueue           string
	environment         string
	defaultIterations   int
	maxSourcesPerSearch int
}

// NewService wires the pipeline. The temporal client, conversation manager,
// and completion client are required; policy, degradation, streaming, and
// archive collaborators may be nil and their steps are skipped.
func NewService(
	temporalClient client.Client,
	conversations *conversation.Manager,
	llmClient llm.Client,
	policies *policy.OPAEngine,
	degrade *degradation.Manager,
	stream *streaming.Manager,
	archive *db.ArchiveWriter,
	logger *zap.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TaskQueue == "" {
		opts.TaskQueue = "compass-task-queue"
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = workflows.DefaultMaxIterations
	}
	return &Service{
		temporalClient:      temporalClient,
		conversations:       conversations,
		llm:                 llmClient,
		policies:            policies,
		degradation:         degrade,
		stream:              stream,
		archive:             archive,
		resolver:            resolver.New(logger),
		classifier:          classifier.New(logger),
		logger:              logger,
		taskQueue:           opts.TaskQueue,
		environment:         opts.Environment,
		defaultIterations:   opts.MaxIterations,
		maxSourcesPerSearch: opts.MaxSourcesPerSearch,
	}
}

// SubmitQuery runs one user query through the pipeline. The returned result
// either carries the final answer (knowledge mode) or the workflow ID to
// poll and stream against (verification and research modes).
func (s *Service) SubmitQuery(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	mem, err := s.conversations.GetOrCreate(ctx, req.SessionID, req.UserID, req.TenantID)
	if err != nil {
		// A Redis outage must not take queries down with it. The resolver
		// and classifier both accept nil memory.
		s.logger.Warn("Conversation memory unavailable, continuing without it",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		mem = nil
	}
	sessionID := req.SessionID
	if mem != nil {
		sessionID = mem.SessionID
	}

	resolved := s.resolver.Resolve(query, mem)
	c := s.classifier.Classify(query, req.EnableBrowsing, mem, resolved)
	metrics.RecordClassification(string(c.Mode), c.IsHybrid)
	metrics.RecordResolution(resolved.HasContext, entityTypeOf(resolved))

	decision, err := s.admit(ctx, req, sessionID, resolved, c)
	if err != nil {
		return nil, err
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = s.defaultIterations
	}
	if decision.MaxIterations > 0 && maxIterations > decision.MaxIterations {
		maxIterations = decision.MaxIterations
	}

	mode := c.Mode
	var downgrade *degradation.DowngradeReason
	if s.degradation != nil {
		mode, downgrade = s.degradation.DetermineMode(c.Mode, sessionID)
	}

	if mode == classifier.ModeNone {
		return s.answerInline(ctx, req, sessionID, resolved, c, mem, downgrade)
	}
	return s.startWorkflow(ctx, req, sessionID, resolved, c, mem, mode, maxIterations, downgrade)
}

// admit asks the policy engine whether this query may run. Evaluation
// errors are already resolved to an allow or deny inside the engine
// according to its fail posture, so the error here is only logged.
func (s *Service) admit(ctx context.Context, req *QueryRequest, sessionID string, resolved resolver.ResolvedQuery, c classifier.Classification) (*policy.Decision, error) {
	if s.policies == nil {
		return &policy.Decision{Allow: true}, nil
	}

	decision, err := s.policies.Evaluate(ctx, &policy.PolicyInput{
		SessionID:           sessionID,
		TenantID:            req.TenantID,
		UserID:              req.UserID,
		Query:               queryOf(resolved),
		QueryType:           string(c.Mode),
		Entity:              entityNameOf(resolved),
		TenantPlan:          req.TenantPlan,
		RequestedIterations: req.MaxIterations,
		Environment:         s.environment,
		Timestamp:           time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("Policy evaluation error",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	if decision == nil || !decision.Allow {
		reason := "denied by policy"
		if decision != nil && decision.Reason != "" {
			reason = decision.Reason
		}
		metrics.RecordPolicyDecision("deny", string(c.Mode))
		s.logger.Info("Query denied by policy",
			zap.String("session_id", sessionID),
			zap.String("tenant_id", req.TenantID),
			zap.String("mode", string(c.Mode)),
			zap.String("reason", reason))
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, reason)
	}
	metrics.RecordPolicyDecision("allow", string(c.Mode))
	return decision, nil
}

// answerInline completes a knowledge query without Temporal. The answer
// comes straight from the completion provider using platform context only.
func (s *Service) answerInline(ctx context.Context, req *QueryRequest, sessionID string, resolved resolver.ResolvedQuery, c classifier.Classification, mem *conversation.Memory, downgrade *degradation.DowngradeReason) (*QueryResult, error) {
	started := time.Now().UTC()

	d := prompts.Build(c, resolved, mem)
	if c.EnrichQuery {
		d.KnowledgeContext = knowledgeContext(mem)
	}
	prompt, err := prompts.BuildKnowledgePrompt(d)
	if err != nil {
		return nil, fmt.Errorf("build knowledge prompt: %w", err)
	}

	res, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System: prompts.SystemPrompt(classifier.ModeNone, c.RequiresTechnicalDepth),
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge completion: %w", err)
	}

	s.recordInlineTurn(ctx, req, sessionID, res.Content)
	s.archiveInlineRun(req, sessionID, resolved, started, res)

	s.logger.Info("Knowledge query answered inline",
		zap.String("session_id", sessionID),
		zap.Bool("enriched", c.EnrichQuery),
		zap.Int("tokens_used", res.TokensUsed))

	result := &QueryResult{
		SessionID: sessionID,
		Mode:      string(classifier.ModeNone),
		Status:    StatusCompleted,
		Answer:    res.Content,
	}
	applyDowngrade(result, downgrade)
	return result, nil
}

// startWorkflow dispatches a verification or research run to Temporal and
// returns immediately with the workflow ID.
func (s *Service) startWorkflow(ctx context.Context, req *QueryRequest, sessionID string, resolved resolver.ResolvedQuery, c classifier.Classification, mem *conversation.Memory, mode classifier.Mode, maxIterations int, downgrade *degradation.DowngradeReason) (*QueryResult, error) {
	workflowID := fmt.Sprintf("%s-%s", constants.WorkflowIDPrefix, uuid.NewString())

	input := workflows.ResearchInput{
		Query:               queryOf(resolved),
		OriginalQuery:       req.Query,
		SessionID:           sessionID,
		UserID:              req.UserID,
		TenantID:            req.TenantID,
		Mode:                string(mode),
		EntityName:          entityNameOf(resolved),
		EntityType:          entityTypeOf(resolved),
		EntityContext:       resolved.EntityContext,
		TechnicalDepth:      c.RequiresTechnicalDepth,
		MaxIterations:       maxIterations,
		MaxSourcesPerSearch: s.maxSourcesPerSearch,
	}
	if c.PreserveContext && mem != nil {
		input.History = mem.ContextSummary(1200)
	}
	if c.EnrichQuery {
		input.KnowledgeContext = knowledgeContext(mem)
	}

	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
		Memo: map[string]interface{}{
			"user_id":    req.UserID,
			"session_id": sessionID,
			"tenant_id":  req.TenantID,
			"query":      input.Query,
			"mode":       string(mode),
		},
	}

	var run client.WorkflowRun
	var err error
	if mode == classifier.ModeVerification {
		run, err = s.temporalClient.ExecuteWorkflow(ctx, options, workflows.VerificationWorkflow, input)
	} else {
		run, err = s.temporalClient.ExecuteWorkflow(ctx, options, workflows.ResearchWorkflow, input)
	}
	if err != nil {
		s.logger.Error("Failed to start workflow",
			zap.String("workflow_id", workflowID),
			zap.String("mode", string(mode)),
			zap.Error(err))
		return nil, fmt.Errorf("start %s workflow: %w", mode, err)
	}

	s.archiveSubmission(req, sessionID, &input, run.GetID())

	if s.stream != nil {
		s.stream.Publish(run.GetID(), streaming.Event{
			Type:    streaming.EventModeSelected,
			Stage:   workflows.StageStarting,
			Message: fmt.Sprintf("Answering in %s mode", mode),
		})
	}

	s.logger.Info("Query dispatched",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("session_id", sessionID),
		zap.String("mode", string(mode)),
		zap.Int("max_iterations", maxIterations))

	result := &QueryResult{
		WorkflowID: run.GetID(),
		SessionID:  sessionID,
		Mode:       string(mode),
		Status:     StatusRunning,
	}
	applyDowngrade(result, downgrade)
	return result, nil
}

// recordInlineTurn mirrors what the RecordTurn activity does for workflow
// runs: Redis memory plus the audit turn pair. Failures are logged, never
// surfaced; the answer already exists.
func (s *Service) recordInlineTurn(ctx context.Context, req *QueryRequest, sessionID, answer string) {
	if sessionID == "" {
		return
	}
	if s.conversations != nil {
		if _, err := s.conversations.RecordTurn(ctx, sessionID, conversation.TurnUpdate{
			UserMessage:      req.Query,
			AssistantMessage: answer,
		}); err != nil {
			s.logger.Warn("Failed to record inline turn",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
	if s.archive != nil {
		mode := string(classifier.ModeNone)
		s.archive.EnqueueTurn(&db.ConversationTurn{
			SessionID: sessionID,
			TenantID:  req.TenantID,
			Role:      "user",
			Content:   req.Query,
			Mode:      mode,
		})
		s.archive.EnqueueTurn(&db.ConversationTurn{
			SessionID: sessionID,
			TenantID:  req.TenantID,
			Role:      "assistant",
			Content:   answer,
			Mode:      mode,
		})
	}
}

// archiveInlineRun writes the run record for an inline knowledge answer.
// The synthetic workflow ID keeps the archive uniform; it never resolves
// against Temporal.
func (s *Service) archiveInlineRun(req *QueryRequest, sessionID string, resolved resolver.ResolvedQuery, started time.Time, res *llm.CompletionResponse) {
	metrics.RecordResearchRun(string(classifier.ModeNone), db.RunStatusCompleted, 0, 0)
	if s.archive == nil {
		return
	}

	completed := time.Now().UTC()
	durationMs := completed.Sub(started).Milliseconds()
	answer := res.Content
	run := &db.ResearchRun{
		WorkflowID:  fmt.Sprintf("%s-%s", constants.WorkflowIDPrefix, uuid.NewString()),
		SessionID:   sessionID,
		TenantID:    req.TenantID,
		Query:       queryOf(resolved),
		Entity:      entityNameOf(resolved),
		EntityType:  entityTypeOf(resolved),
		Mode:        string(classifier.ModeNone),
		Status:      db.RunStatusCompleted,
		Answer:      &answer,
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMs:  &durationMs,
		Metadata: db.JSONB{
			"model":       res.Model,
			"tokens_used": res.TokensUsed,
		},
	}
	if id, err := uuid.Parse(req.UserID); err == nil {
		run.UserID = &id
	}
	if !s.archive.EnqueueRun(run) {
		s.logger.Warn("Archive queue full, knowledge run dropped",
			zap.String("session_id", sessionID))
	}
}

// archiveSubmission enqueues the initial running record so the run is
// queryable from the archive before the workflow's own terminal upsert.
func (s *Service) archiveSubmission(req *QueryRequest, sessionID string, input *workflows.ResearchInput, workflowID string) {
	if s.archive == nil {
		return
	}
	run := &db.ResearchRun{
		WorkflowID: workflowID,
		SessionID:  sessionID,
		TenantID:   req.TenantID,
		Query:      input.Query,
		Entity:     input.EntityName,
		EntityType: input.EntityType,
		Mode:       input.Mode,
		Status:     db.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if id, err := uuid.Parse(req.UserID); err == nil {
		run.UserID = &id
	}
	if !s.archive.EnqueueRun(run) {
		s.logger.Warn("Archive queue full, initial run record dropped",
			zap.String("workflow_id", workflowID))
	}
}

// knowledgeContext condenses what the conversation already established
// about the platform side of the discussion, for prompt enrichment on
// hybrid and browsing queries.
func knowledgeContext(mem *conversation.Memory) string {
	if mem == nil {
		return ""
	}
	var parts []string
	if len(mem.Features) > 0 {
		parts = append(parts, "Platform features under discussion: "+strings.Join(mem.Features, ", ")+".")
	}
	if mem.UserIntent != "" {
		parts = append(parts, "User intent: "+mem.UserIntent+".")
	}
	if mem.Summary != "" {
		parts = append(parts, mem.Summary)
	}
	return strings.Join(parts, "\n")
}

func queryOf(resolved resolver.ResolvedQuery) string {
	if resolved.ResolvedQuery != "" {
		return resolved.ResolvedQuery
	}
	return resolved.OriginalQuery
}

func entityNameOf(resolved resolver.ResolvedQuery) string {
	if resolved.ActiveEntity == nil {
		return ""
	}
	return resolved.ActiveEntity.Name
}

func entityTypeOf(resolved resolver.ResolvedQuery) string {
	if resolved.ActiveEntity == nil {
		return ""
	}
	return string(resolved.ActiveEntity.Type)
}

func applyDowngrade(result *QueryResult, downgrade *degradation.DowngradeReason) {
	if downgrade == nil {
		return
	}
	result.Degraded = true
	result.DowngradeReason = string(*downgrade)
}
