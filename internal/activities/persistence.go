package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/metrics"
)

// RecordTurn applies a finished exchange to the session's conversation
// memory and appends both turn rows to the archive. The answer is already
// delivered by the time this runs, so store failures degrade to a logged
// miss instead of failing the workflow.
func (a *Activities) RecordTurn(ctx context.Context, in RecordTurnInput) (RecordTurnResult, error) {
	if in.SessionID == "" {
		return RecordTurnResult{Error: "session ID is required"}, nil
	}

	result := RecordTurnResult{}

	if a.conversations != nil {
		upd := conversation.TurnUpdate{
			UserMessage:      in.UserMessage,
			AssistantMessage: in.AssistantMessage,
			Features:         in.Features,
			Intent:           in.Intent,
			Summary:          in.Summary,
		}
		if in.VesselName != "" {
			upd.Vessel = &conversation.VesselEntity{
				Name: in.VesselName,
				Type: in.VesselType,
			}
		}
		if in.CompanyName != "" {
			upd.Company = &conversation.CompanyEntity{
				Name: in.CompanyName,
				Role: in.CompanyRole,
			}
		}

		if _, err := a.conversations.RecordTurn(ctx, in.SessionID, upd); err != nil {
			a.logger.Warn("Failed to record turn in session memory",
				zap.String("session_id", in.SessionID),
				zap.Error(err))
			result.Error = err.Error()
		} else {
			result.Recorded = true
		}
	}

	if a.archive != nil {
		var workflowID *string
		if in.WorkflowID != "" {
			workflowID = &in.WorkflowID
		}
		userQueued := a.archive.EnqueueTurn(&db.ConversationTurn{
			SessionID:  in.SessionID,
			TenantID:   in.TenantID,
			Role:       "user",
			Content:    in.UserMessage,
			Mode:       in.Mode,
			WorkflowID: workflowID,
		})
		assistantQueued := a.archive.EnqueueTurn(&db.ConversationTurn{
			SessionID:  in.SessionID,
			TenantID:   in.TenantID,
			Role:       "assistant",
			Content:    in.AssistantMessage,
			Mode:       in.Mode,
			WorkflowID: workflowID,
		})
		result.Archived = userQueued && assistantQueued
	}

	return result, nil
}

// ArchiveRun queues the final record of a run for the archive writer.
// Fire and forget: a full queue drops the record with a metric.
func (a *Activities) ArchiveRun(ctx context.Context, in ArchiveRunInput) (ArchiveRunResult, error) {
	metrics.RecordResearchRun(in.Mode, in.Status, in.Iterations, int(in.Completeness))

	if a.archive == nil {
		return ArchiveRunResult{}, nil
	}

	run := &db.ResearchRun{
		WorkflowID:             in.WorkflowID,
		SessionID:              in.SessionID,
		TenantID:               in.TenantID,
		Query:                  in.Query,
		Entity:                 in.Entity,
		EntityType:             in.EntityType,
		Mode:                   in.Mode,
		Status:                 in.Status,
		Iterations:             in.Iterations,
		Completeness:           in.Completeness,
		CompletenessTrajectory: in.CompletenessTrajectory,
		SourceCount:            in.SourceCount,
		CitationCount:          in.CitationCount,
		CitationsRepaired:      in.CitationsRepaired,
		GapsOutstanding:        in.GapsOutstanding,
		StartedAt:              in.StartedAt,
		CompletedAt:            in.CompletedAt,
		Metadata:               db.JSONB(in.Metadata),
	}
	if in.Answer != "" {
		run.Answer = &in.Answer
	}
	if in.ErrorMessage != "" {
		run.ErrorMessage = &in.ErrorMessage
	}
	if id, err := uuid.Parse(in.UserID); err == nil {
		run.UserID = &id
	}
	if in.CompletedAt != nil && !in.StartedAt.IsZero() {
		ms := in.CompletedAt.Sub(in.StartedAt) / time.Millisecond
		d := int64(ms)
		run.DurationMs = &d
	}

	queued := a.archive.EnqueueRun(run)
	if !queued {
		a.logger.Warn("Archive queue full, run record dropped",
			zap.String("workflow_id", in.WorkflowID))
	}
	return ArchiveRunResult{Queued: queued}, nil
}
