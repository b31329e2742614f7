package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fleetcore-ai/compass/internal/activities"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// pipelineActivityOptions is the retry envelope for the research-loop
// activities. Search and synthesis calls can take a while against slow
// providers.
func pipelineActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// emitActivityOptions keeps progress publication cheap: one attempt,
// short timeout, failures ignored.
func emitActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
}

// persistenceActivityOptions is the envelope for turn and run-record
// writes.
func persistenceActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// detachedContext survives cancellation. Final persistence and events
// go through it so an abandoned run still leaves a record.
func detachedContext(ctx workflow.Context) workflow.Context {
	detached, _ := workflow.NewDisconnectedContext(ctx)
	return detached
}

// canceled reports whether the run was canceled, either through the
// workflow context or an activity's canceled error.
func canceled(ctx workflow.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var canceledErr *temporal.CanceledError
	return errors.As(err, &canceledErr)
}

// publishEvent pushes one progress event to the stream manager.
// Delivery is best effort and never fails the workflow.
func publishEvent(emitCtx workflow.Context, workflowID string, typ streaming.EventType, stage, message string, iteration int, payload map[string]interface{}) {
	_ = workflow.ExecuteActivity(emitCtx, constants.PublishProgressActivity, activities.PublishProgressInput{
		WorkflowID: workflowID,
		EventType:  string(typ),
		Stage:      stage,
		Message:    message,
		Iteration:  iteration,
		Payload:    payload,
	}).Get(emitCtx, nil)
}

// recordTurn persists the exchange to session memory and the turn
// archive. Failures are logged and swallowed; losing a turn record
// must not fail a finished run.
func recordTurn(ctx workflow.Context, input ResearchInput, workflowID, mode, answer string) {
	if input.SessionID == "" {
		return
	}
	logger := workflow.GetLogger(ctx)

	userMessage := input.OriginalQuery
	if userMessage == "" {
		userMessage = input.Query
	}
	turn := activities.RecordTurnInput{
		SessionID:        input.SessionID,
		TenantID:         input.TenantID,
		UserID:           input.UserID,
		WorkflowID:       workflowID,
		Mode:             mode,
		UserMessage:      userMessage,
		AssistantMessage: answer,
	}
	switch conversation.EntityType(input.EntityType) {
	case conversation.EntityVessel:
		turn.VesselName = input.EntityName
	case conversation.EntityCompany:
		turn.CompanyName = input.EntityName
	}

	pctx := persistenceActivityOptions(detachedContext(ctx))
	var res activities.RecordTurnResult
	if err := workflow.ExecuteActivity(pctx, constants.RecordTurnActivity, turn).Get(pctx, &res); err != nil {
		logger.Warn("Failed to record conversation turn",
			"session_id", input.SessionID,
			"error", err,
		)
		return
	}
	if res.Error != "" {
		logger.Warn("Conversation turn recorded with errors",
			"session_id", input.SessionID,
			"detail", res.Error,
		)
	}
}

// archiveRun enqueues the final run record. Failures are logged and
// swallowed.
func archiveRun(ctx workflow.Context, in activities.ArchiveRunInput) {
	logger := workflow.GetLogger(ctx)

	pctx := persistenceActivityOptions(detachedContext(ctx))
	var res activities.ArchiveRunResult
	if err := workflow.ExecuteActivity(pctx, constants.ArchiveRunActivity, in).Get(pctx, &res); err != nil {
		logger.Warn("Failed to archive run record",
			"workflow_id", in.WorkflowID,
			"error", err,
		)
		return
	}
	if !res.Queued {
		logger.Warn("Archive writer dropped run record", "workflow_id", in.WorkflowID)
	}
}

// entityLabel names the run's subject for logs and progress messages.
func entityLabel(input ResearchInput) string {
	if input.EntityName != "" {
		return input.EntityName
	}
	return input.Query
}
