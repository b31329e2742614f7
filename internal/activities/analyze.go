package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/gaps"
	"github.com/fleetcore-ai/compass/internal/metrics"
)

// AnalyzeResearchGaps checks a draft against the tracked vessel-profile
// fields and decides whether the loop should continue. The analyzer is
// pure; the workflow owns the iteration cap.
func (a *Activities) AnalyzeResearchGaps(ctx context.Context, in GapAnalysisInput) (gaps.Analysis, error) {
	analysis := a.gaps.Analyze(in.Content, in.EntityName, in.Sources, in.Iteration)

	for _, g := range analysis.Gaps {
		metrics.RecordGap(g.Field, string(g.Importance))
	}

	a.logger.Info("Gap analysis",
		zap.String("entity", in.EntityName),
		zap.Int("iteration", in.Iteration),
		zap.Int("gaps", len(analysis.Gaps)),
		zap.Int("completeness", analysis.Completeness),
		zap.Bool("needs_more", analysis.NeedsAdditionalResearch))

	return analysis, nil
}
