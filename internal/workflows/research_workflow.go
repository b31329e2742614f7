package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/fleetcore-ai/compass/internal/activities"
	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/gaps"
	"github.com/fleetcore-ai/compass/internal/sources"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// DefaultMaxIterations bounds the research loop when the request does
// not carry its own cap.
const DefaultMaxIterations = 3

// ResearchWorkflow drives the iterative vessel-research loop. Each
// iteration searches, synthesizes a draft from everything collected so
// far, and gap-analyzes the draft; the open gaps become the next
// iteration's targeted searches. The loop stops when the analyzer is
// satisfied or the iteration cap is hit, whichever comes first. The
// cap applies regardless of what the continuation predicate says.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting ResearchWorkflow",
		"query", input.Query,
		"session_id", input.SessionID,
		"entity", input.EntityName,
		"max_iterations", input.MaxIterations,
	)

	if input.Query == "" {
		return ResearchResult{
			Mode:         string(classifier.ModeResearch),
			Status:       db.RunStatusFailed,
			ErrorMessage: "empty query",
		}, errors.New("research query must not be empty")
	}

	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	run := &researchRun{
		input:      input,
		mode:       string(classifier.ModeResearch),
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
		fmt.Sprintf("Research started for %s", entityLabel(input)), 0, nil)

	// Iteration 1 searches the resolved query itself. Later rounds run
	// the targeted queries produced by the previous gap analysis.
	pending := []activities.SearchInput{{
		Query:      input.Query,
		MaxResults: input.MaxSourcesPerSearch,
	}}

	for iter := 1; iter <= maxIterations; iter++ {
		run.iterations = iter
		run.progress.Iteration = iter
		run.progress.Stage = StageSearching
		publishEvent(emitCtx, run.workflowID, streaming.EventIterationStarted, StageSearching,
			fmt.Sprintf("Iteration %d of %d", iter, maxIterations), iter, nil)

		if err := run.searchRound(ctx, emitCtx, pending, iter); err != nil {
			return run.finishCanceled(ctx, err)
		}

		if err := run.synthesizeDraft(ctx, emitCtx, iter); err != nil {
			if canceled(ctx, err) {
				return run.finishCanceled(ctx, err)
			}
			return run.finishFailed(ctx, emitCtx, fmt.Errorf("synthesize draft: %w", err))
		}

		more, err := run.analyzeDraft(ctx, emitCtx, iter)
		if err != nil {
			if canceled(ctx, err) {
				return run.finishCanceled(ctx, err)
			}
			logger.Warn("Gap analysis failed, stopping the loop",
				"iteration", iter,
				"error", err,
			)
			break
		}
		if !more {
			break
		}

		pending = pending[:0]
		for _, g := range run.analysis.Gaps {
			pending = append(pending, activities.SearchInput{
				Query:      g.Query,
				MaxResults: input.MaxSourcesPerSearch,
				SiteHints:  g.TargetSites,
			})
		}
		if len(pending) == 0 {
			break
		}
	}

	return run.finish(ctx, emitCtx)
}

// researchRun is the accumulated state of one workflow execution. A
// single goroutine (the workflow) owns it.
type researchRun struct {
	input      ResearchInput
	mode       string
	workflowID string
	startedAt  time.Time

	progress Progress

	collected  []sources.Source
	draft      string
	analysis   gaps.Analysis
	trajectory []int

	iterations int
	degraded   bool
	tokensUsed int
	model      string

	citations activities.EnforceCitationsResult
}

// searchRound executes one iteration's search requests and merges the
// results into the collected set. Provider failures degrade the round
// rather than failing the run; only cancellation stops it.
func (r *researchRun) searchRound(ctx, emitCtx workflow.Context, requests []activities.SearchInput, iter int) error {
	logger := workflow.GetLogger(ctx)
	for _, req := range requests {
		publishEvent(emitCtx, r.workflowID, streaming.EventSearchStarted, StageSearching, req.Query, iter, nil)

		var res activities.SearchResult
		if err := workflow.ExecuteActivity(ctx, constants.SearchSourcesActivity, req).Get(ctx, &res); err != nil {
			if canceled(ctx, err) {
				return err
			}
			logger.Warn("Search round failed, continuing with collected sources",
				"query", req.Query,
				"error", err,
			)
			r.degraded = true
			continue
		}
		if res.Degraded {
			r.degraded = true
		}
		if len(res.Sources) > 0 {
			r.collected = sources.Dedupe(append(r.collected, res.Sources...))
		}
		publishEvent(emitCtx, r.workflowID, streaming.EventSearchCompleted, StageSearching,
			fmt.Sprintf("%d sources collected", len(r.collected)), iter,
			map[string]interface{}{"provider": res.Provider, "source_count": len(r.collected)})
	}
	r.progress.SourceCount = len(r.collected)
	return nil
}

// synthesizeDraft asks the completion provider for this iteration's
// draft, feeding the previous one back in. Synthesis errors are fatal:
// without a draft there is nothing to analyze or answer with.
func (r *researchRun) synthesizeDraft(ctx, emitCtx workflow.Context, iter int) error {
	r.progress.Stage = StageSynthesis
	publishEvent(emitCtx, r.workflowID, streaming.EventSynthesisStarted, StageSynthesis,
		fmt.Sprintf("Drafting from %d sources", len(r.collected)), iter, nil)

	var res activities.SynthesisResult
	err := workflow.ExecuteActivity(ctx, constants.SynthesizeAnswerActivity, activities.SynthesisInput{
		Mode:             r.mode,
		Query:            r.input.Query,
		EntityContext:    r.input.EntityContext,
		History:          r.input.History,
		KnowledgeContext: r.input.KnowledgeContext,
		Sources:          r.collected,
		Gaps:             r.analysis.Gaps,
		TechnicalDepth:   r.input.TechnicalDepth,
		Iteration:        iter,
		PreviousDraft:    r.draft,
	}).Get(ctx, &res)
	if err != nil {
		return err
	}

	r.draft = res.Content
	r.tokensUsed += res.TokensUsed
	if res.Model != "" {
		r.model = res.Model
	}
	return nil
}

// analyzeDraft runs gap analysis on the fresh draft and reports
// whether the loop wants another iteration.
func (r *researchRun) analyzeDraft(ctx, emitCtx workflow.Context, iter int) (bool, error) {
	r.progress.Stage = StageAnalyzing

	entity := r.input.EntityName
	if entity == "" {
		entity = r.input.Query
	}
	var analysis gaps.Analysis
	err := workflow.ExecuteActivity(ctx, constants.AnalyzeGapsActivity, activities.GapAnalysisInput{
		Content:    r.draft,
		EntityName: entity,
		Sources:    r.collected,
		Iteration:  iter,
	}).Get(ctx, &analysis)
	if err != nil {
		return false, err
	}

	r.analysis = analysis
	r.trajectory = append(r.trajectory, analysis.Completeness)
	r.progress.Completeness = analysis.Completeness
	r.progress.GapsOpen = len(analysis.Gaps)

	publishEvent(emitCtx, r.workflowID, streaming.EventGapAnalysis, StageAnalyzing,
		fmt.Sprintf("Profile %d%% complete, %d gaps open", analysis.Completeness, len(analysis.Gaps)), iter,
		map[string]interface{}{"completeness": analysis.Completeness, "gaps_open": len(analysis.Gaps)})
	return analysis.NeedsAdditionalResearch, nil
}

// finish enforces citations on the final draft, persists the run, and
// builds the final result.
func (r *researchRun) finish(ctx, emitCtx workflow.Context) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)

	r.progress.Stage = StageCitations
	answer := r.draft
	var enforced activities.EnforceCitationsResult
	err := workflow.ExecuteActivity(ctx, constants.EnforceCitationsActivity, activities.EnforceCitationsInput{
		Content:        r.draft,
		Sources:        r.collected,
		TechnicalDepth: r.input.TechnicalDepth,
		AppendSources:  true,
	}).Get(ctx, &enforced)
	switch {
	case err != nil && canceled(ctx, err):
		return r.finishCanceled(ctx, err)
	case err != nil:
		logger.Warn("Citation enforcement failed, answering with the raw draft", "error", err)
	default:
		answer = enforced.Content
		r.citations = enforced
		if enforced.MarkersRepaired > 0 || enforced.CitationsAdded > 0 {
			publishEvent(emitCtx, r.workflowID, streaming.EventCitationRepair, StageCitations,
				fmt.Sprintf("%d markers repaired, %d citations added", enforced.MarkersRepaired, enforced.CitationsAdded),
				r.iterations,
				map[string]interface{}{"repaired": enforced.MarkersRepaired, "added": enforced.CitationsAdded})
		}
	}

	publishEvent(emitCtx, r.workflowID, streaming.EventAnswerReady, StageDone, "Answer ready", r.iterations,
		map[string]interface{}{"answer": answer})

	r.progress.Stage = StageRecording
	recordTurn(ctx, r.input, r.workflowID, r.mode, answer)
	completedAt := workflow.Now(ctx).UTC()
	archiveRun(ctx, r.archiveInput(db.RunStatusCompleted, "", answer, completedAt))

	publishEvent(emitCtx, r.workflowID, streaming.EventWorkflowCompleted, StageDone,
		fmt.Sprintf("Completed after %d iteration(s)", r.iterations), r.iterations,
		map[string]interface{}{"completeness": r.analysis.Completeness, "source_count": len(r.collected)})
	r.progress.Stage = StageDone

	logger.Info("Run completed",
		"mode", r.mode,
		"iterations", r.iterations,
		"completeness", r.analysis.Completeness,
		"sources", len(r.collected),
		"degraded", r.degraded,
	)
	return r.result(db.RunStatusCompleted, answer, ""), nil
}

// finishFailed archives the failure and propagates the error.
func (r *researchRun) finishFailed(ctx, emitCtx workflow.Context, cause error) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Error("Run failed",
		"mode", r.mode,
		"iteration", r.iterations,
		"error", cause,
	)

	r.progress.Stage = StageFailed
	publishEvent(emitCtx, r.workflowID, streaming.EventErrorOccurred, StageFailed, cause.Error(), r.iterations, nil)

	completedAt := workflow.Now(ctx).UTC()
	archiveRun(ctx, r.archiveInput(db.RunStatusFailed, cause.Error(), "", completedAt))
	return r.result(db.RunStatusFailed, "", cause.Error()), cause
}

// finishCanceled archives what the run had when the user abandoned it.
// Events and persistence go through a detached context because ctx is
// already canceled.
func (r *researchRun) finishCanceled(ctx workflow.Context, cause error) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Run canceled",
		"mode", r.mode,
		"iteration", r.iterations,
		"session_id", r.input.SessionID,
	)

	r.progress.Stage = StageFailed
	detachedEmit := emitActivityOptions(detachedContext(ctx))
	publishEvent(detachedEmit, r.workflowID, streaming.EventErrorOccurred, StageFailed, "canceled", r.iterations, nil)

	completedAt := workflow.Now(ctx).UTC()
	archiveRun(ctx, r.archiveInput(db.RunStatusCanceled, "canceled", "", completedAt))
	return r.result(db.RunStatusCanceled, "", "canceled"), cause
}

func (r *researchRun) archiveInput(status, errMsg, answer string, completedAt time.Time) activities.ArchiveRunInput {
	trajectory := make([]float64, len(r.trajectory))
	for i, c := range r.trajectory {
		trajectory[i] = float64(c)
	}
	return activities.ArchiveRunInput{
		WorkflowID: r.workflowID,
		SessionID:  r.input.SessionID,
		TenantID:   r.input.TenantID,
		UserID:     r.input.UserID,

		Query:      r.input.Query,
		Entity:     r.input.EntityName,
		EntityType: r.input.EntityType,
		Mode:       r.mode,
		Status:     status,

		Answer:       answer,
		ErrorMessage: errMsg,

		Iterations:             r.iterations,
		Completeness:           float64(r.analysis.Completeness),
		CompletenessTrajectory: trajectory,
		SourceCount:            len(r.collected),
		CitationCount:          r.citations.CitationsAfter,
		CitationsRepaired:      r.citations.MarkersRepaired,
		GapsOutstanding:        len(r.analysis.Gaps),

		StartedAt:   r.startedAt,
		CompletedAt: &completedAt,

		Metadata: map[string]interface{}{
			"degraded":        r.degraded,
			"model":           r.model,
			"tokens_used":     r.tokensUsed,
			"technical_depth": r.input.TechnicalDepth,
		},
	}
}

func (r *researchRun) result(status, answer, errMsg string) ResearchResult {
	return ResearchResult{
		Answer: answer,
		Mode:   r.mode,
		Status: status,

		Iterations:             r.iterations,
		Completeness:           r.analysis.Completeness,
		CompletenessTrajectory: append([]int(nil), r.trajectory...),

		SourceCount:       len(r.collected),
		CitationCount:     r.citations.CitationsAfter,
		CitationsRepaired: r.citations.MarkersRepaired,
		GapsOutstanding:   len(r.analysis.Gaps),

		TokensUsed: r.tokensUsed,
		Model:      r.model,
		Degraded:   r.degraded,

		ErrorMessage: errMsg,
	}
}
