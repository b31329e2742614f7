package resolver

import (
	"testing"
	"time"

	"github.com/fleetcore-ai/compass/internal/conversation"
)

func memoryWithVessel(t *testing.T, name, imo string) *conversation.Memory {
	t.Helper()
	mem := conversation.NewMemory("sess-resolver", time.Hour)
	mem.AddMessage("user", "Tell me about "+name)
	mem.AddMessage("assistant", name+" is a platform supply vessel.")
	mem.AddVessel(conversation.VesselEntity{Name: name, IMO: imo})
	return mem
}

func TestResolveWithoutMemory(t *testing.T) {
	r := New(nil)

	for _, query := range []string{"its engines", "what about the vessel?", "check maintenance history"} {
		got := r.Resolve(query, nil)
		if got.HasContext {
			t.Errorf("Resolve(%q, nil) set HasContext", query)
		}
		if got.ResolvedQuery != query {
			t.Errorf("Resolve(%q, nil) rewrote query to %q", query, got.ResolvedQuery)
		}
	}

	// Fresh memory with no prior messages behaves like no memory.
	empty := conversation.NewMemory("sess-empty", time.Hour)
	if got := r.Resolve("its engines", empty); got.HasContext {
		t.Error("empty memory should never produce context")
	}
}

func TestResolvePossessiveAndBarePronouns(t *testing.T) {
	r := New(nil)
	mem := memoryWithVessel(t, "Dynamic 17", "9321483")

	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{"possessive its", "its engines", "Dynamic 17's engines"},
		{"possessive their", "who manages their certificates?", "who manages Dynamic 17's certificates?"},
		{"bare it keeps punctuation", "When was it built?", "When was Dynamic 17 built?"},
		{"bare this", "is this still in service", "is Dynamic 17 still in service"},
		{"bare that", "verify that again", "verify Dynamic 17 again"},
		{"vessel phrase", "what about the vessel?", "what about Dynamic 17?"},
		{"ship phrase capitalized", "Where is The Ship registered?", "Where is Dynamic 17 registered?"},
		{"its inside word untouched", "show bitstream data for it", "show bitstream data for Dynamic 17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.query, mem)
			if !got.HasContext {
				t.Fatalf("Resolve(%q) did not set HasContext", tt.query)
			}
			if got.ResolvedQuery != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.query, got.ResolvedQuery, tt.expected)
			}
			if got.OriginalQuery != tt.query {
				t.Errorf("original query mutated: %q", got.OriginalQuery)
			}
		})
	}
}

func TestResolveEntityPriority(t *testing.T) {
	r := New(nil)

	// A vessel wins over a company regardless of insertion order.
	mem := conversation.NewMemory("sess-priority", time.Hour)
	mem.AddMessage("user", "context")
	mem.AddVessel(conversation.VesselEntity{Name: "Dynamic 17"})
	mem.AddCompany(conversation.CompanyEntity{Name: "Blue Horizon Shipping", Role: "owner"})

	got := r.Resolve("who operates it?", mem)
	if got.ResolvedQuery != "who operates Dynamic 17?" {
		t.Errorf("vessel should take priority, got %q", got.ResolvedQuery)
	}

	// Companies resolve company-specific phrases.
	mem2 := conversation.NewMemory("sess-company", time.Hour)
	mem2.AddMessage("user", "context")
	mem2.AddCompany(conversation.CompanyEntity{Name: "Blue Horizon Shipping", Role: "owner"})

	got = r.Resolve("how many vessels does the company operate?", mem2)
	if got.ResolvedQuery != "how many vessels does Blue Horizon Shipping operate?" {
		t.Errorf("company phrase not resolved, got %q", got.ResolvedQuery)
	}

	// With no stored entities, a capitalized-name-plus-number in recent
	// messages is the last resort.
	mem3 := conversation.NewMemory("sess-equipment", time.Hour)
	mem3.AddMessage("user", "The Caterpillar 3516 needs a rebuild soon")

	got = r.Resolve("check its service intervals", mem3)
	if got.ResolvedQuery != "check Caterpillar 3516's service intervals" {
		t.Errorf("equipment fallback not resolved, got %q", got.ResolvedQuery)
	}
	if got.ActiveEntity == nil || got.ActiveEntity.Type != conversation.EntityEquipment {
		t.Errorf("expected equipment entity, got %+v", got.ActiveEntity)
	}
}

func TestResolveFollowUpWithoutEntity(t *testing.T) {
	r := New(nil)
	mem := conversation.NewMemory("sess-noentity", time.Hour)
	mem.AddMessage("user", "hello there")

	got := r.Resolve("its engines", mem)
	if got.HasContext {
		t.Error("no entity available, HasContext must stay false")
	}
	if got.ResolvedQuery != "its engines" {
		t.Errorf("query should be unchanged, got %q", got.ResolvedQuery)
	}
}

func TestResolveNonFollowUpUnchanged(t *testing.T) {
	r := New(nil)
	mem := memoryWithVessel(t, "Dynamic 17", "9321483")

	query := "What is the IMO number of MV Ever Given?"
	got := r.Resolve(query, mem)
	if got.HasContext {
		t.Error("fully-specified query should not pick up context")
	}
	if got.ResolvedQuery != query {
		t.Errorf("query rewritten to %q", got.ResolvedQuery)
	}
}

func TestIsFollowUp(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected bool
	}{
		{"short interrogative", "what now?", true},
		{"short interrogative two words", "which one?", true},
		{"referential pronoun", "its engines", true},
		{"referential they", "are they still active", true},
		{"vessel phrase", "current position of the vessel", true},
		{"continuation tell me", "tell me more", true},
		{"continuation what about", "what about fuel consumption", true},
		{"action verb no subject", "check maintenance history", true},
		{"action verb with proper noun", "check MV Ever Given", false},
		{"plain new query", "largest container vessels 2024", false},
		{"empty", "", false},
		{"whitespace", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFollowUp(tt.query); got != tt.expected {
				t.Errorf("isFollowUp(%q) = %v, want %v", tt.query, got, tt.expected)
			}
		})
	}
}

func TestDescribeEntity(t *testing.T) {
	desc := describeEntity(&conversation.ActiveEntity{
		Name: "Dynamic 17",
		Type: conversation.EntityVessel,
		IMO:  "9321483",
	})
	if desc != "vessel Dynamic 17 (IMO 9321483)" {
		t.Errorf("describeEntity = %q", desc)
	}

	desc = describeEntity(&conversation.ActiveEntity{
		Name: "Blue Horizon Shipping",
		Type: conversation.EntityCompany,
	})
	if desc != "company Blue Horizon Shipping" {
		t.Errorf("describeEntity = %q", desc)
	}
}
