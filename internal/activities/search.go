package activities

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/search"
)

// SearchVesselSources queries the grounding provider for one gap query.
// A tripped provider breaker is not an error: the loop continues on the
// sources it already has, and the result is marked degraded.
func (a *Activities) SearchVesselSources(ctx context.Context, in SearchInput) (SearchResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchResult{}, nil
	}
	if a.search == nil {
		a.logger.Warn("Search client not configured, skipping search",
			zap.String("query", in.Query))
		return SearchResult{Degraded: true}, nil
	}

	resp, err := a.search.Search(ctx, search.Request{
		Query:      in.Query,
		MaxResults: in.MaxResults,
		SiteHints:  in.SiteHints,
	})
	if err != nil {
		if errors.Is(err, search.ErrProviderUnavailable) {
			a.logger.Warn("Search provider unavailable, continuing without new sources",
				zap.String("query", in.Query),
				zap.Error(err))
			return SearchResult{Degraded: true}, nil
		}
		return SearchResult{}, err
	}

	a.logger.Debug("Source search completed",
		zap.String("query", in.Query),
		zap.String("provider", resp.Provider),
		zap.Int("sources", len(resp.Sources)))

	return SearchResult{Sources: resp.Sources, Provider: resp.Provider}, nil
}
