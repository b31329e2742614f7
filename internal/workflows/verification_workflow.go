package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/fleetcore-ai/compass/internal/activities"
	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// VerificationWorkflow answers a single-fact lookup: one search round
// on the resolved query, one synthesis pass, citation enforcement. No
// gap loop; if the sources do not carry the fact, the answer says so
// rather than triggering more rounds.
func VerificationWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting VerificationWorkflow",
		"query", input.Query,
		"session_id", input.SessionID,
		"entity", input.EntityName,
	)

	if input.Query == "" {
		return ResearchResult{
			Mode:         string(classifier.ModeVerification),
			Status:       db.RunStatusFailed,
			ErrorMessage: "empty query",
		}, errors.New("verification query must not be empty")
	}

	run := &researchRun{
		input:      input,
		mode:       string(classifier.ModeVerification),
		workflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		startedAt:  workflow.Now(ctx).UTC(),
		progress:   Progress{Stage: StageStarting},
	}
	_ = workflow.SetQueryHandler(ctx, constants.ProgressQuery, func() (Progress, error) {
		return run.progress, nil
	})

	ctx = pipelineActivityOptions(ctx)
	emitCtx := emitActivityOptions(ctx)

	publishEvent(emitCtx, run.workflowID, streaming.EventWorkflowStarted, StageStarting,
		fmt.Sprintf("Verifying %s", entityLabel(input)), 0, nil)

	run.iterations = 1
	run.progress.Iteration = 1
	run.progress.Stage = StageSearching

	requests := []activities.SearchInput{{
		Query:      input.Query,
		MaxResults: input.MaxSourcesPerSearch,
	}}
	if err := run.searchRound(ctx, emitCtx, requests, 1); err != nil {
		return run.finishCanceled(ctx, err)
	}

	if err := run.synthesizeDraft(ctx, emitCtx, 1); err != nil {
		if canceled(ctx, err) {
			return run.finishCanceled(ctx, err)
		}
		return run.finishFailed(ctx, emitCtx, fmt.Errorf("synthesize answer: %w", err))
	}

	return run.finish(ctx, emitCtx)
}
