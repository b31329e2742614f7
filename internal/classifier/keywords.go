package classifier

import "regexp"

// Keyword vocabularies and pattern families for the classification cascade.
// These are fixed process-wide data: mode selection depends on their exact
// contents, so edits here are product decisions.

// platformKeywords are single words matched with word-boundary semantics
// (token equality after normalization).
var platformKeywords = map[string]struct{}{
	"fleetcore":   {},
	"pms":         {},
	"dashboard":   {},
	"module":      {},
	"modules":     {},
	"workflow":    {},
	"workflows":   {},
	"checklist":   {},
	"checklists":  {},
	"inventory":   {},
	"procurement": {},
	"requisition": {},
}

// platformPhrases are matched as substrings of the lowercased query.
var platformPhrases = []string{
	"planned maintenance",
	"work order",
	"purchase order",
	"crew management",
	"document management",
	"defect reporting",
	"running hours",
	"maintenance schedule",
	"spare parts catalog",
}

// entityKeywords mark a concrete external subject (a real vessel, company,
// or identifier) as opposed to talk about the platform itself.
var entityKeywords = map[string]struct{}{
	"vessel":  {},
	"vessels": {},
	"ship":    {},
	"ships":   {},
	"imo":     {},
	"mmsi":    {},
	"tanker":  {},
	"tankers": {},
	"flag":    {},
}

var entityPhrases = []string{
	"bulk carrier",
	"container ship",
	"call sign",
	"gross tonnage",
}

// vesselNamePattern matches prefixed vessel names: "MV Ever Given".
var vesselNamePattern = regexp.MustCompile(`\b(MV|MS|MT|SS|HMS)\s+[A-Z][A-Za-z]+`)

// identifierPattern matches explicit IMO/MMSI numbers.
var identifierPattern = regexp.MustCompile(`(?i)\b(IMO|MMSI)[:\s]?\d+`)

// systemOrgPatterns catch questions about how the platform or organization
// itself is put together. These never need external search.
var systemOrgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(system|platform|organization(?:al)?)\s+(structure|architecture|hierarchy|layout)\b`),
	regexp.MustCompile(`(?i)\bhow\s+(?:is|are)\s+.+\s+(organized|structured)\b`),
	regexp.MustCompile(`(?i)\bwho\s+(?:runs|manages|administers)\s+(?:the\s+)?(system|platform)\b`),
}

// howToPatterns catch procedural usage questions, answered from product
// knowledge rather than search.
var howToPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*how\s+(?:do|can|should)\s+(?:i|we|you)\b`),
	regexp.MustCompile(`(?i)^\s*how\s+to\b`),
	regexp.MustCompile(`(?i)\bstep[\s-]by[\s-]step\b`),
	regexp.MustCompile(`(?i)^\s*(?:show|walk)\s+me\s+(?:through\s+)?how\b`),
}
