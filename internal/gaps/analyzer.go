// Package gaps analyzes draft research content for missing vessel-profile
// fields and decides whether another research iteration is worth running.
package gaps

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/sources"
)

// Importance ranks how much a missing field matters.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
)

const (
	// expectedProfileSize is the denominator of the completeness formula.
	// It is deliberately larger than the tracked-field count so that no
	// single field dominates the score.
	expectedProfileSize = 20

	// completenessTarget is the continuation threshold.
	completenessTarget = 80

	// maxLowImportanceIteration is the last iteration that still generates
	// low-importance gaps; later iterations are reserved for fields that
	// matter.
	maxLowImportanceIteration = 2
)

// Gap is one missing field with a ready-to-run search query.
type Gap struct {
	Field       string     `json:"field"`
	Importance  Importance `json:"importance"`
	Query       string     `json:"query"`
	TargetSites []string   `json:"target_sites,omitempty"`
}

// Analysis is the outcome of one gap-analysis pass.
type Analysis struct {
	Gaps                    []Gap              `json:"gaps"`
	Completeness            int                `json:"completeness"`
	NeedsAdditionalResearch bool               `json:"needs_additional_research"`
	Iteration               int                `json:"iteration"`
	MissingCoverage         []sources.Category `json:"missing_coverage,omitempty"`
}

// Analyzer checks draft content against the tracked vessel-profile fields.
// Stateless after construction; one instance serves all workflows.
type Analyzer struct {
	logger       *zap.Logger
	fields       []trackedField
	placeholders []string
}

// New builds an analyzer from vessel_fields.yaml, falling back to the
// compiled-in profile when the file is absent or broken.
func New(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.LoadVesselFields()
	if err != nil || cfg == nil {
		logger.Warn("vessel fields config unavailable, using built-in profile", zap.Error(err))
		cfg = config.DefaultVesselFieldsConfig()
	}
	return NewWithConfig(logger, cfg)
}

// NewWithConfig builds an analyzer from an explicit config, for tests and
// hot reload.
func NewWithConfig(logger *zap.Logger, cfg *config.VesselFieldsConfig) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	placeholders := make([]string, 0, len(cfg.Placeholders))
	for _, p := range cfg.Placeholders {
		placeholders = append(placeholders, strings.ToLower(p))
	}
	fields := make([]trackedField, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields = append(fields, newTrackedField(f))
	}
	return &Analyzer{logger: logger, fields: fields, placeholders: placeholders}
}

// Analyze reports which tracked fields are missing from content for the
// given entity, the resulting completeness score, and whether the research
// loop should continue. The caller caps total iterations regardless of the
// continuation flag.
func (a *Analyzer) Analyze(content, entityName string, existing []sources.Source, iteration int) Analysis {
	lower := strings.ToLower(content)

	var gapList []Gap
	anyCritical := false
	highCount := 0

	for _, f := range a.fields {
		if f.importance == ImportanceLow && iteration > maxLowImportanceIteration {
			continue
		}
		if f.present(content, lower, a.placeholders) {
			continue
		}
		gapList = append(gapList, Gap{
			Field:       f.name,
			Importance:  f.importance,
			Query:       buildGapQuery(entityName, f),
			TargetSites: f.targetSites,
		})
		switch f.importance {
		case ImportanceCritical:
			anyCritical = true
		case ImportanceHigh:
			highCount++
		}
	}

	completeness := int(math.Round(float64(expectedProfileSize-len(gapList)) / float64(expectedProfileSize) * 100))
	if completeness < 0 {
		completeness = 0
	}

	analysis := Analysis{
		Gaps:                    gapList,
		Completeness:            completeness,
		NeedsAdditionalResearch: completeness < completenessTarget || anyCritical || highCount >= 2,
		Iteration:               iteration,
		MissingCoverage:         sources.MissingVesselCoverage(sources.ComputeCoverage(existing)),
	}

	a.logger.Debug("gap analysis complete",
		zap.String("entity", entityName),
		zap.Int("iteration", iteration),
		zap.Int("gaps", len(gapList)),
		zap.Int("completeness", completeness),
		zap.Bool("continue", analysis.NeedsAdditionalResearch))

	return analysis
}

// buildGapQuery assembles the search query for a missing field: quoted
// entity name, the field's search terms, and a site-restriction hint.
func buildGapQuery(entityName string, f trackedField) string {
	var sb strings.Builder
	if entityName != "" {
		fmt.Fprintf(&sb, "%q", entityName)
	}
	for _, term := range f.searchTerms {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(term)
	}
	switch len(f.targetSites) {
	case 0:
	case 1:
		fmt.Fprintf(&sb, " site:%s", f.targetSites[0])
	default:
		hints := make([]string, len(f.targetSites))
		for i, s := range f.targetSites {
			hints[i] = "site:" + s
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(hints, " OR "))
	}
	return sb.String()
}
