package gaps

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fleetcore-ai/compass/internal/config"
)

// companyNameExpr captures a proper-noun company name: one or more
// capitalized words, tolerating common punctuation inside names.
const companyNameExpr = `([A-Z][A-Za-z0-9&.,'()-]*(?:[ \t]+[A-Z&][A-Za-z0-9&.,'()-]*)*)`

// trackedField is a VesselField compiled for scanning.
type trackedField struct {
	name        string
	importance  Importance
	variants    []string // lowercase, longest first
	searchTerms []string
	targetSites []string
	strict      []*regexp.Regexp // non-nil only for attribution fields
}

func newTrackedField(f config.VesselField) trackedField {
	variants := make([]string, 0, len(f.Variants))
	for _, v := range f.Variants {
		variants = append(variants, strings.ToLower(v))
	}
	// Longest first so "imo number" claims its span before "imo" is tried.
	sort.Slice(variants, func(i, j int) bool { return len(variants[i]) > len(variants[j]) })

	t := trackedField{
		name:        f.Name,
		importance:  normalizeImportance(f.Importance),
		variants:    variants,
		searchTerms: f.SearchTerms,
		targetSites: f.TargetSites,
	}
	if f.Strict {
		t.strict = buildStrictPatterns(f)
	}
	return t
}

func normalizeImportance(s string) Importance {
	switch strings.ToLower(s) {
	case "critical":
		return ImportanceCritical
	case "high":
		return ImportanceHigh
	case "low":
		return ImportanceLow
	default:
		return ImportanceMedium
	}
}

// buildStrictPatterns compiles the attribution constructions that satisfy a
// strict field: "<Label>: CompanyName" and "<verb> by CompanyName". A bare
// mention of the label without an attached company never counts.
func buildStrictPatterns(f config.VesselField) []*regexp.Regexp {
	labels := make([]string, 0, len(f.Variants))
	for _, v := range f.Variants {
		labels = append(labels, strings.ReplaceAll(regexp.QuoteMeta(v), " ", `\s+`))
	}
	sort.Slice(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })

	verbs := attributionVerbs(f.Name)

	return []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:` + strings.Join(labels, "|") + `)\s*[:\-]\s*` + companyNameExpr),
		regexp.MustCompile(`\b(?i:` + strings.Join(verbs, "|") + `)\s+(?i:by)\s+` + companyNameExpr),
	}
}

// attributionVerbs maps a strict field to the passive verbs that attribute
// it: ownership fields accept "owned by", operator fields accept
// "operated by" and "managed by".
func attributionVerbs(fieldName string) []string {
	lower := strings.ToLower(fieldName)
	switch {
	case strings.Contains(lower, "owner"):
		return []string{"owned"}
	case strings.Contains(lower, "operator"), strings.Contains(lower, "manager"):
		return []string{"operated", "managed"}
	default:
		return []string{"owned", "operated", "managed"}
	}
}

// present reports whether the field is mentioned in content with a real
// value. content is the original text (strict patterns are case-sensitive on
// the company name), lower is its lowercase form for variant scanning.
func (f trackedField) present(content, lower string, placeholders []string) bool {
	if f.strict != nil {
		return f.strictPresent(content, placeholders)
	}
	return f.variantPresent(lower, placeholders)
}

func (f trackedField) strictPresent(content string, placeholders []string) bool {
	for _, p := range f.strict {
		for _, m := range p.FindAllStringSubmatch(content, -1) {
			if len(m) > 1 && !isPlaceholderName(m[1], placeholders) {
				return true
			}
		}
	}
	return false
}

// variantPresent scans every occurrence of every variant. Occurrences inside
// a span already claimed by a longer variant are skipped so "imo" does not
// rescue an "IMO number: Not found" line. The field is present as soon as
// one occurrence carries a non-placeholder value.
func (f trackedField) variantPresent(lower string, placeholders []string) bool {
	type span struct{ start, end int }
	var claimed []span

	inClaimed := func(pos int) bool {
		for _, s := range claimed {
			if pos >= s.start && pos < s.end {
				return true
			}
		}
		return false
	}

	for _, variant := range f.variants {
		for from := 0; ; {
			i := strings.Index(lower[from:], variant)
			if i < 0 {
				break
			}
			pos := from + i
			end := pos + len(variant)
			from = end

			if pos > 0 && isWordByte(lower[pos-1]) {
				continue
			}
			if end < len(lower) && isWordByte(lower[end]) {
				continue
			}
			if inClaimed(pos) {
				continue
			}
			claimed = append(claimed, span{pos, end})

			if !placeholderValue(lower[end:], placeholders) {
				return true
			}
		}
	}
	return false
}

// placeholderValue inspects the rest of the line after a field mention. An
// empty value or one of the configured placeholders means the mention does
// not actually provide the field.
func placeholderValue(after string, placeholders []string) bool {
	line := after
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(line, " \t:=-")
	if line == "" {
		return true
	}
	for _, ph := range placeholders {
		if strings.HasPrefix(line, ph) {
			return true
		}
	}
	return false
}

// isPlaceholderName guards the strict capture against placeholder text that
// happens to start with a capital letter ("Owner: Not found" captures "Not").
func isPlaceholderName(name string, placeholders []string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return true
	}
	for _, ph := range placeholders {
		if strings.HasPrefix(ph, lower) || strings.HasPrefix(lower, ph) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
