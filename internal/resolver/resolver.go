// Package resolver turns a raw user query plus conversation memory into a
// pronoun-resolved query and an active entity. It is the first stage of the
// decision pipeline: everything downstream (classification, research
// planning) sees the resolved form.
package resolver

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/conversation"
)

// ResolvedQuery is the immutable result of a resolution call.
type ResolvedQuery struct {
	OriginalQuery string                     `json:"original_query"`
	ResolvedQuery string                     `json:"resolved_query"`
	EntityContext string                     `json:"entity_context,omitempty"`
	HasContext    bool                       `json:"has_context"`
	ActiveEntity  *conversation.ActiveEntity `json:"active_entity,omitempty"`
}

// Resolver resolves referential queries against conversation memory. It is
// stateless; a single instance is shared across sessions.
type Resolver struct {
	logger *zap.Logger
}

// New creates a resolver. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve rewrites referential pronouns in query against the conversation's
// active entity. The query is returned unchanged with HasContext=false when
// there is no memory, the query is not a follow-up, or no entity can be
// determined. Resolution never fabricates an entity and never fails.
func (r *Resolver) Resolve(query string, mem *conversation.Memory) ResolvedQuery {
	result := ResolvedQuery{
		OriginalQuery: query,
		ResolvedQuery: query,
	}

	// Every heuristic is gated on at least one prior message: a first turn
	// has nothing to refer back to.
	if mem == nil || len(mem.RecentMessages) == 0 {
		return result
	}

	if !isFollowUp(query) {
		return result
	}

	entity := mem.ActiveEntity()
	if entity == nil {
		r.logger.Debug("follow-up query without a resolvable entity",
			zap.String("session_id", mem.SessionID))
		return result
	}

	result.ResolvedQuery = substituteReferences(query, entity)
	result.EntityContext = describeEntity(entity)
	result.HasContext = true
	result.ActiveEntity = entity

	r.logger.Debug("resolved follow-up query",
		zap.String("session_id", mem.SessionID),
		zap.String("entity", entity.Name),
		zap.String("entity_type", string(entity.Type)),
		zap.Bool("rewritten", result.ResolvedQuery != query))

	return result
}

// isFollowUp ORs four independent heuristics. Any single hit marks the query
// as a continuation of the conversation.
func isFollowUp(query string) bool {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	tokens := strings.Fields(trimmed)

	// (a) Short question fragment: "what about berthing?", "why?".
	if len(tokens) <= 4 && len(trimmed) < 20 {
		for _, tok := range tokens {
			if _, ok := interrogativeWords[normalizeToken(tok)]; ok {
				return true
			}
		}
	}

	// (b) Referential pronouns and type-specific noun phrases.
	if referentialPronouns.MatchString(trimmed) {
		return true
	}
	for _, phrase := range referentialPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	// (c) Continuation phrases.
	for _, phrase := range continuationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	// (d) Leading action verb with no named subject: "check the maintenance
	// history" continues the current entity, "check MV Ever Given" does not.
	if _, ok := actionVerbs[normalizeToken(tokens[0])]; ok && !hasExplicitSubject(tokens[1:]) {
		return true
	}

	return false
}

// hasExplicitSubject reports whether any token after the verb looks like a
// proper noun.
func hasExplicitSubject(tokens []string) bool {
	for _, tok := range tokens {
		runes := []rune(tok)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) {
			return true
		}
	}
	return false
}

func normalizeToken(tok string) string {
	return strings.ToLower(strings.Trim(tok, `.,!?;:"'`))
}

// substituteReferences performs literal word-boundary replacement of
// referential words with the entity name. Possessives keep the possessive
// form ("its engines" -> "Dynamic 17's engines"); bare pronouns take the
// bare name. Surrounding punctuation and the rest of the text are preserved.
func substituteReferences(query string, entity *conversation.ActiveEntity) string {
	out := possessivePronounPattern.ReplaceAllLiteralString(query, entity.Name+"'s")
	out = barePronounPattern.ReplaceAllLiteralString(out, entity.Name)

	switch entity.Type {
	case conversation.EntityVessel:
		out = vesselPhrasePattern.ReplaceAllLiteralString(out, entity.Name)
	case conversation.EntityCompany:
		out = companyPhrasePattern.ReplaceAllLiteralString(out, entity.Name)
	}

	return out
}

// describeEntity renders a short descriptive string for prompt context,
// e.g. "vessel Dynamic 17 (IMO 9321483)".
func describeEntity(entity *conversation.ActiveEntity) string {
	desc := fmt.Sprintf("%s %s", entity.Type, entity.Name)
	if entity.IMO != "" {
		desc += fmt.Sprintf(" (IMO %s)", entity.IMO)
	}
	return desc
}
