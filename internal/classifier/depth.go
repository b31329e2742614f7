package classifier

import (
	"strings"

	"github.com/fleetcore-ai/compass/internal/conversation"
)

// technicalKeywords each contribute 2 points to the depth score, up to 6.
var technicalKeywords = map[string]struct{}{
	"maintenance":    {},
	"overhaul":       {},
	"engine":         {},
	"engines":        {},
	"propulsion":     {},
	"machinery":      {},
	"technical":      {},
	"specification":  {},
	"specifications": {},
	"specs":          {},
	"drydock":        {},
	"drydocking":     {},
	"survey":         {},
	"surveys":        {},
	"inspection":     {},
	"horsepower":     {},
	"cylinders":      {},
	"auxiliary":      {},
}

// depthPhrases signal an explicit request for depth and contribute 4 points,
// counted once.
var depthPhrases = []string{
	"in detail",
	"detailed",
	"deep dive",
	"comprehensive",
	"full specification",
	"technical details",
	"everything about",
	"complete history",
	"thorough",
}

// ackWords open a short "yes, go deeper" turn.
var ackWords = map[string]struct{}{
	"yes": {}, "yeah": {}, "ok": {}, "okay": {}, "sure": {}, "right": {},
}

const (
	maxKeywordPoints = 6
	maxPhrasePoints  = 4
	maxDepthScore    = 10
	depthThreshold   = 6
)

// depthSignal is the technical-depth evaluation of one query.
type depthSignal struct {
	Score         int
	KeywordHits   int
	PhraseHits    int
	RequiresDepth bool
}

// scoreTechnicalDepth computes the depth score: 2 points per technical
// keyword (capped at 6) plus 4 points per explicit depth phrase (capped at
// 4), total capped at 10. RequiresDepth is set by two or more keyword hits,
// any phrase hit, or a short acknowledgment asking for more detail right
// after an entity-bearing turn.
func scoreTechnicalDepth(query string, mem *conversation.Memory) depthSignal {
	lower := strings.ToLower(query)
	tokens := tokenize(query)

	var sig depthSignal
	for _, tok := range tokens {
		if _, ok := technicalKeywords[tok]; ok {
			sig.KeywordHits++
		}
	}
	for _, phrase := range depthPhrases {
		if strings.Contains(lower, phrase) {
			sig.PhraseHits++
		}
	}

	keywordPoints := 2 * sig.KeywordHits
	if keywordPoints > maxKeywordPoints {
		keywordPoints = maxKeywordPoints
	}
	phrasePoints := 4 * sig.PhraseHits
	if phrasePoints > maxPhrasePoints {
		phrasePoints = maxPhrasePoints
	}

	sig.Score = keywordPoints + phrasePoints
	if sig.Score > maxDepthScore {
		sig.Score = maxDepthScore
	}

	sig.RequiresDepth = sig.KeywordHits >= 2 || sig.PhraseHits >= 1 ||
		isDetailAcknowledgment(tokens, lower, mem)

	return sig
}

// isDetailAcknowledgment detects turns like "yes, more details please" that
// only make sense as a deepening of the previous entity discussion.
func isDetailAcknowledgment(tokens []string, lower string, mem *conversation.Memory) bool {
	if len(tokens) == 0 || len(tokens) > 5 {
		return false
	}
	if _, ok := ackWords[tokens[0]]; !ok {
		return false
	}
	if !strings.Contains(lower, "more") && !strings.Contains(lower, "detail") &&
		!strings.Contains(lower, "specific") {
		return false
	}
	return mem != nil && mem.ActiveEntity() != nil
}
