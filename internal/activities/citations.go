package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/citations"
	"github.com/fleetcore-ai/compass/internal/metrics"
)

// EnforceCitations repairs malformed markers and raises an answer to its
// citation floor, optionally appending the Sources section. Pure text
// work; it never fails the workflow.
func (a *Activities) EnforceCitations(ctx context.Context, in EnforceCitationsInput) (EnforceCitationsResult, error) {
	res := a.citations.Enforce(in.Content, in.Sources, citations.Options{
		TechnicalDepth: in.TechnicalDepth,
	})

	content := res.EnforcedContent
	if in.AppendSources {
		content = citations.FormatAnswerWithSources(content, in.Sources)
	}

	metrics.CitationsRepaired.Add(float64(res.MarkersRepaired))
	metrics.CitationsInjected.Add(float64(res.CitationsAdded))
	metrics.CitationInvalidMarkers.Add(float64(len(res.InvalidMarkers)))

	a.logger.Debug("Citations enforced",
		zap.Int("found", res.CitationsFound),
		zap.Int("after", res.CitationsAfter),
		zap.Int("required", res.CitationsRequired),
		zap.Int("repaired", res.MarkersRepaired),
		zap.Int("invalid", len(res.InvalidMarkers)))

	return EnforceCitationsResult{
		Content:           content,
		CitationsFound:    res.CitationsFound,
		CitationsAfter:    res.CitationsAfter,
		CitationsRequired: res.CitationsRequired,
		CitationsAdded:    res.CitationsAdded,
		MarkersRepaired:   res.MarkersRepaired,
		InvalidMarkers:    len(res.InvalidMarkers),
		WasEnforced:       res.WasEnforced,
	}, nil
}
