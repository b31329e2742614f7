package gaps

import (
	"strings"
	"testing"

	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/sources"
)

const completeProfile = `IMO number: 9321483
Registered owner: Blue Horizon Shipping Ltd
Operator: Northern Marine Management
Gross tonnage: 33044
Length overall: 199.9 m
Call sign: D5XY2
Year built: 2006
Shipyard: Hyundai Heavy Industries
Classification society: DNV`

func newTestAnalyzer() *Analyzer {
	return NewWithConfig(nil, config.DefaultVesselFieldsConfig())
}

func gapFor(a Analysis, field string) (Gap, bool) {
	for _, g := range a.Gaps {
		if g.Field == field {
			return g, true
		}
	}
	return Gap{}, false
}

func TestAnalyzeEmptyContent(t *testing.T) {
	a := newTestAnalyzer()

	got := a.Analyze("", "Dynamic 17", nil, 1)

	if len(got.Gaps) != 9 {
		t.Fatalf("expected all 9 fields missing, got %d: %+v", len(got.Gaps), got.Gaps)
	}
	if got.Completeness != 55 {
		t.Errorf("completeness = %d, want 55", got.Completeness)
	}
	if !got.NeedsAdditionalResearch {
		t.Error("empty content must need research")
	}
	if got.Iteration != 1 {
		t.Errorf("iteration = %d, want 1", got.Iteration)
	}
}

func TestAnalyzeCompleteProfile(t *testing.T) {
	a := newTestAnalyzer()

	got := a.Analyze(completeProfile, "Dynamic 17", nil, 1)

	if len(got.Gaps) != 0 {
		t.Fatalf("expected no gaps, got %+v", got.Gaps)
	}
	if got.Completeness != 100 {
		t.Errorf("completeness = %d, want 100", got.Completeness)
	}
	if got.NeedsAdditionalResearch {
		t.Error("complete profile should not need research")
	}
}

func TestAnalyzeOwnerPlaceholder(t *testing.T) {
	a := newTestAnalyzer()

	got := a.Analyze("Owner: Not found", "Dynamic 17", nil, 1)

	gap, ok := gapFor(got, "Registered owner")
	if !ok {
		t.Fatal("placeholder owner should yield a Registered owner gap")
	}
	if gap.Importance != ImportanceCritical {
		t.Errorf("owner gap importance = %q, want critical", gap.Importance)
	}
	if !got.NeedsAdditionalResearch {
		t.Error("placeholder owner must need research")
	}
}

func TestAnalyzeStrictOwnerRules(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		name    string
		content string
		missing bool
	}{
		{"label with company", "Registered owner: Blue Horizon Shipping Ltd", false},
		{"verb with company", "The vessel is owned by Blue Horizon Shipping Ltd.", false},
		{"bare mention", "The owner has not been disclosed to the registry.", true},
		{"placeholder value", "Owner: N/A", true},
		{"owner inside word", "Listed in the shipowner database.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.content, "Dynamic 17", nil, 1)
			_, ok := gapFor(got, "Registered owner")
			if ok != tt.missing {
				t.Errorf("owner gap present=%v, want missing=%v for %q", ok, tt.missing, tt.content)
			}
		})
	}
}

func TestAnalyzeOperatorVerbForms(t *testing.T) {
	a := newTestAnalyzer()

	got := a.Analyze("MV Dynamic 17 is operated by Northern Marine Management.", "Dynamic 17", nil, 1)
	if _, ok := gapFor(got, "Operator/manager"); ok {
		t.Error("operated-by construction should satisfy the operator field")
	}

	got = a.Analyze("The operator was not named in the report.", "Dynamic 17", nil, 1)
	if _, ok := gapFor(got, "Operator/manager"); !ok {
		t.Error("bare operator mention should stay missing")
	}
}

func TestAnalyzeShortVariantCannotRescueLongOne(t *testing.T) {
	a := newTestAnalyzer()

	// "IMO number: Not found" also contains the short variant "imo"; the
	// claimed span must keep it from counting as a real value.
	got := a.Analyze("IMO number: Not found", "Dynamic 17", nil, 1)
	if _, ok := gapFor(got, "IMO number"); !ok {
		t.Error("placeholder IMO number should remain a gap")
	}

	got = a.Analyze("The IMO is 9321483.", "Dynamic 17", nil, 1)
	if _, ok := gapFor(got, "IMO number"); ok {
		t.Error("IMO with a real value should not be a gap")
	}
}

func TestAnalyzeLowImportanceCutoff(t *testing.T) {
	a := newTestAnalyzer()

	early := a.Analyze("", "Dynamic 17", nil, 2)
	if len(early.Gaps) != 9 {
		t.Fatalf("iteration 2 gaps = %d, want 9", len(early.Gaps))
	}

	late := a.Analyze("", "Dynamic 17", nil, 3)
	if len(late.Gaps) != 7 {
		t.Fatalf("iteration 3 gaps = %d, want 7 (low-importance dropped)", len(late.Gaps))
	}
	for _, field := range []string{"Shipyard", "Classification society"} {
		if _, ok := gapFor(late, field); ok {
			t.Errorf("%s should not be generated after iteration 2", field)
		}
	}
	if late.Completeness != 65 {
		t.Errorf("iteration 3 completeness = %d, want 65", late.Completeness)
	}
}

func TestAnalyzeCompletenessMonotonicity(t *testing.T) {
	a := newTestAnalyzer()

	steps := []string{
		"",
		"IMO number: 9321483",
		"IMO number: 9321483\nRegistered owner: Blue Horizon Shipping Ltd\nGross tonnage: 33044",
		completeProfile,
	}

	prev := -1
	for i, content := range steps {
		got := a.Analyze(content, "Dynamic 17", nil, 1)
		if got.Completeness < prev {
			t.Fatalf("step %d completeness %d dropped below %d", i, got.Completeness, prev)
		}
		prev = got.Completeness
	}
	if prev != 100 {
		t.Errorf("final completeness = %d, want 100", prev)
	}
}

func TestAnalyzeContinuationThresholds(t *testing.T) {
	a := newTestAnalyzer()

	// Two high-importance gaps force continuation even at 90% completeness.
	twoHighMissing := `IMO number: 9321483
Registered owner: Blue Horizon Shipping Ltd
Length overall: 199.9 m
Call sign: D5XY2
Year built: 2006
Shipyard: Hyundai Heavy Industries
Classification society: DNV`

	got := a.Analyze(twoHighMissing, "Dynamic 17", nil, 1)
	if got.Completeness != 90 {
		t.Fatalf("completeness = %d, want 90 (gaps: %+v)", got.Completeness, got.Gaps)
	}
	if !got.NeedsAdditionalResearch {
		t.Error("two high-importance gaps must continue research")
	}

	// A single non-critical gap at 95% stops the loop.
	oneHighMissing := twoHighMissing + "\nGross tonnage: 33044"
	got = a.Analyze(oneHighMissing, "Dynamic 17", nil, 1)
	if got.Completeness != 95 {
		t.Fatalf("completeness = %d, want 95 (gaps: %+v)", got.Completeness, got.Gaps)
	}
	if got.NeedsAdditionalResearch {
		t.Error("one high-importance gap at 95% should stop")
	}
}

func TestAnalyzeGapQueries(t *testing.T) {
	a := newTestAnalyzer()

	got := a.Analyze("", "Dynamic 17", nil, 1)

	gap, ok := gapFor(got, "IMO number")
	if !ok {
		t.Fatal("IMO gap expected")
	}
	if !strings.Contains(gap.Query, `"Dynamic 17"`) {
		t.Errorf("query should quote the entity: %q", gap.Query)
	}
	if !strings.Contains(gap.Query, "IMO number") {
		t.Errorf("query should carry the search terms: %q", gap.Query)
	}
	if !strings.Contains(gap.Query, "site:equasis.org") {
		t.Errorf("query should hint target sites: %q", gap.Query)
	}
	if len(gap.TargetSites) == 0 {
		t.Error("target sites should be populated")
	}
}

func TestAnalyzeMissingCoverage(t *testing.T) {
	a := newTestAnalyzer()

	existing := []sources.Source{
		{URL: "https://www.marinetraffic.com/en/ais/details/ships/shipid:371745"},
	}
	got := a.Analyze("", "Dynamic 17", existing, 1)

	want := []sources.Category{
		sources.CategoryRegistry,
		sources.CategoryOwner,
		sources.CategoryClass,
		sources.CategoryDirectoryNews,
	}
	if len(got.MissingCoverage) != len(want) {
		t.Fatalf("missing coverage = %v, want %v", got.MissingCoverage, want)
	}
	for i, c := range want {
		if got.MissingCoverage[i] != c {
			t.Errorf("missing[%d] = %q, want %q", i, got.MissingCoverage[i], c)
		}
	}
}
