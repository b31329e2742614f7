package activities

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/citations"
	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/llm"
	"github.com/fleetcore-ai/compass/internal/metrics"
	"github.com/fleetcore-ai/compass/internal/prompts"
)

// SynthesizeAnswer renders the mode's prompt template and calls the
// completion provider. Errors propagate: a run without an answer has
// nothing to degrade to, so the workflow's retry policy owns recovery.
func (a *Activities) SynthesizeAnswer(ctx context.Context, in SynthesisInput) (SynthesisResult, error) {
	if a.llm == nil {
		return SynthesisResult{}, fmt.Errorf("completion client not configured")
	}

	mode := classifier.Mode(in.Mode)
	data := prompts.PromptData{
		Query:            in.Query,
		EntityContext:    in.EntityContext,
		History:          in.History,
		KnowledgeContext: in.KnowledgeContext,
		Sources:          in.Sources,
		Gaps:             in.Gaps,
		MinCitations:     citations.RequiredCitations(len(in.Sources), in.TechnicalDepth),
		TechnicalDepth:   in.TechnicalDepth,
		Iteration:        in.Iteration,
		PreviousDraft:    in.PreviousDraft,
		Date:             time.Now().UTC().Format("January 2, 2006"),
	}

	var (
		prompt string
		err    error
	)
	switch mode {
	case classifier.ModeResearch:
		prompt, err = prompts.BuildResearchPrompt(data)
	case classifier.ModeVerification:
		prompt, err = prompts.BuildVerificationPrompt(data)
	default:
		prompt, err = prompts.BuildKnowledgePrompt(data)
	}
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("build %s prompt: %w", in.Mode, err)
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System: prompts.SystemPrompt(mode, in.TechnicalDepth),
		Prompt: prompt,
	})
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("completion call: %w", err)
	}

	audit := citations.ValidateMarkers(resp.Content, in.Sources, citations.Options{
		TechnicalDepth: in.TechnicalDepth,
	})
	if !audit.MeetsRequirement {
		metrics.DraftsUnderCited.Inc()
	}

	a.logger.Info("Answer synthesized",
		zap.String("mode", in.Mode),
		zap.Int("iteration", in.Iteration),
		zap.Int("sources", len(in.Sources)),
		zap.Int("draft_citations", audit.CitationsFound),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.TokensUsed))

	return SynthesisResult{
		Content:    resp.Content,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
	}, nil
}
