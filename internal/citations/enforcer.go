package citations

import (
	"math"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/sources"
)

// Verified answers must cite a minimum share of their sources. Technical
// deep-dives carry a higher floor because their claims are denser.
const (
	coverageRatio         = 0.4
	minCitations          = 3
	minCitationsTechnical = 5
)

// Options tune enforcement for a single answer.
type Options struct {
	// TechnicalDepth raises the citation floor for answers produced by
	// deep technical research.
	TechnicalDepth bool
}

// Result reports what enforcement did to an answer.
type Result struct {
	OriginalContent   string          `json:"original_content"`
	EnforcedContent   string          `json:"enforced_content"`
	CitationsFound    int             `json:"citations_found"`
	CitationsAfter    int             `json:"citations_after"`
	CitationsRequired int             `json:"citations_required"`
	CitationsAdded    int             `json:"citations_added"`
	MarkersRepaired   int             `json:"markers_repaired"`
	InvalidMarkers    []InvalidMarker `json:"invalid_markers,omitempty"`
	WasEnforced       bool            `json:"was_enforced"`
}

// Enforcer repairs malformed citation markers and guarantees a minimum
// citation density in generated answers. Enforcement is idempotent: running
// it over its own output changes nothing.
type Enforcer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{logger: logger}
}

// RequiredCitations returns how many markers an answer over sourceCount
// sources must carry: 40% of the sources, floored at three (five for
// technical depth), never more than the sources themselves.
func RequiredCitations(sourceCount int, technicalDepth bool) int {
	if sourceCount == 0 {
		return 0
	}
	floor := minCitations
	if technicalDepth {
		floor = minCitationsTechnical
	}
	required := int(math.Ceil(coverageRatio * float64(sourceCount)))
	if required < floor {
		required = floor
	}
	if required > sourceCount {
		required = sourceCount
	}
	return required
}

// Validation is a read-only audit of an answer's citation markers.
type Validation struct {
	CitationsFound    int             `json:"citations_found"`
	CitationsRequired int             `json:"citations_required"`
	MeetsRequirement  bool            `json:"meets_requirement"`
	InvalidMarkers    []InvalidMarker `json:"invalid_markers,omitempty"`
}

// ValidateMarkers audits content against srcs without changing it. Found
// counts every marker a repair pass would accept, legacy spellings
// included, so the verdict matches what Enforce would conclude.
func ValidateMarkers(content string, srcs []sources.Source, opts Options) Validation {
	repaired, _, invalid := repairMarkers(content, srcs)
	found := countMarkers(repaired, len(srcs))
	required := RequiredCitations(len(srcs), opts.TechnicalDepth)
	return Validation{
		CitationsFound:    found,
		CitationsRequired: required,
		MeetsRequirement:  found >= required,
		InvalidMarkers:    invalid,
	}
}

// Enforce normalizes the markers in content against srcs, then injects
// additional citations if the repaired answer falls short of the required
// count. Out-of-range markers are reported in the result but never altered.
func (e *Enforcer) Enforce(content string, srcs []sources.Source, opts Options) Result {
	repaired, repairs, invalid := repairMarkers(content, srcs)
	found := countMarkers(repaired, len(srcs))
	required := RequiredCitations(len(srcs), opts.TechnicalDepth)

	enforced := repaired
	added := 0
	if found < required {
		enforced, added = injectCitations(repaired, srcs, required-found)
	}

	result := Result{
		OriginalContent:   content,
		EnforcedContent:   enforced,
		CitationsFound:    found,
		CitationsAfter:    countMarkers(enforced, len(srcs)),
		CitationsRequired: required,
		CitationsAdded:    added,
		MarkersRepaired:   repairs,
		InvalidMarkers:    invalid,
		WasEnforced:       enforced != content,
	}

	e.logger.Debug("Citation enforcement complete",
		zap.Int("sources", len(srcs)),
		zap.Int("found", found),
		zap.Int("required", required),
		zap.Int("added", added),
		zap.Int("repaired", repairs),
		zap.Int("invalid", len(invalid)),
		zap.Bool("enforced", result.WasEnforced))

	return result
}
