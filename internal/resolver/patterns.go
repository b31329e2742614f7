package resolver

import "regexp"

// Follow-up detection vocabulary. These tables are fixed process-wide data;
// resolution behavior depends on their exact contents, so changes here are
// product decisions, not refactors.
var (
	// interrogativeWords mark a short query as a question fragment.
	interrogativeWords = map[string]struct{}{
		"what": {}, "who": {}, "where": {}, "when": {}, "why": {},
		"how": {}, "which": {}, "whose": {},
		"is": {}, "are": {}, "does": {}, "did": {}, "can": {},
	}

	// referentialPronouns only make sense with an antecedent from an
	// earlier turn.
	referentialPronouns = regexp.MustCompile(`(?i)\b(it|its|this|that|their|they)\b`)

	// referentialPhrases are the type-specific noun phrases users substitute
	// for a name they already gave.
	referentialPhrases = []string{
		"the vessel",
		"the ship",
		"the company",
	}

	// continuationPhrases open a turn that extends the previous one.
	continuationPhrases = []string{
		"tell me",
		"what about",
		"how about",
		"more about",
		"what else",
		"anything else",
	}

	// actionVerbs at the head of a query with no named subject imply the
	// subject is the entity under discussion.
	actionVerbs = map[string]struct{}{
		"check": {}, "find": {}, "show": {}, "list": {}, "compare": {},
		"verify": {}, "look": {}, "get": {}, "give": {}, "search": {},
		"pull": {}, "summarize": {},
	}
)

// Substitution patterns. Possessive forms must be handled before the bare
// forms would ever see the text; \b keeps "its" from matching inside words
// and keeps surrounding punctuation intact.
var (
	possessivePronounPattern = regexp.MustCompile(`(?i)\b(its|their)\b`)
	barePronounPattern       = regexp.MustCompile(`(?i)\b(it|this|that)\b`)
	vesselPhrasePattern      = regexp.MustCompile(`(?i)\bthe (vessel|ship)\b`)
	companyPhrasePattern     = regexp.MustCompile(`(?i)\bthe company\b`)
)
