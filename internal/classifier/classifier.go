// Package classifier decides whether a query needs external research, a
// verification pass against sources, or no search at all. It is an ordered
// decision list: the first matching rule returns a fully-populated
// Classification, so rule order is part of the contract.
package classifier

import (
	"strings"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/resolver"
)

// Mode is the search posture chosen for a query.
type Mode string

const (
	// ModeNone answers from product knowledge, no external search.
	ModeNone Mode = "none"
	// ModeVerification runs a single search pass to verify facts.
	ModeVerification Mode = "verification"
	// ModeResearch runs the iterative gap-driven research loop.
	ModeResearch Mode = "research"
)

// Classification is the decision for one query.
type Classification struct {
	Mode                   Mode   `json:"mode"`
	PreserveContext        bool   `json:"preserve_context"`
	EnrichQuery            bool   `json:"enrich_query"`
	IsHybrid               bool   `json:"is_hybrid"`
	ResolvedQuery          string `json:"resolved_query"`
	RequiresTechnicalDepth bool   `json:"requires_technical_depth"`
	TechnicalDepthScore    int    `json:"technical_depth_score"`
}

// EntityDetector is an optional richer entity extractor; it supplements the
// built-in keyword and pattern checks.
type EntityDetector func(query string) bool

// Option configures a Classifier.
type Option func(*Classifier)

// WithEntityDetector plugs in an external entity extractor.
func WithEntityDetector(d EntityDetector) Option {
	return func(c *Classifier) { c.detector = d }
}

// Classifier classifies queries. Stateless; one instance serves all sessions.
type Classifier struct {
	logger   *zap.Logger
	detector EntityDetector
}

// New creates a classifier. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates the decision list top to bottom and returns the first
// matching rule's result. It never fails: an empty or malformed query falls
// through to the default verification branch.
func (c *Classifier) Classify(query string, enableBrowsing bool, mem *conversation.Memory, resolved resolver.ResolvedQuery) Classification {
	effective := resolved.ResolvedQuery
	if effective == "" {
		effective = query
	}

	depth := scoreTechnicalDepth(effective, mem)
	base := Classification{
		ResolvedQuery:          effective,
		RequiresTechnicalDepth: depth.RequiresDepth,
		TechnicalDepthScore:    depth.Score,
	}

	result := c.decide(effective, enableBrowsing, mem, resolved, depth, base)

	c.logger.Debug("classified query",
		zap.String("mode", string(result.Mode)),
		zap.Bool("hybrid", result.IsHybrid),
		zap.Int("depth_score", result.TechnicalDepthScore))

	return result
}

func (c *Classifier) decide(query string, enableBrowsing bool, mem *conversation.Memory, resolved resolver.ResolvedQuery, depth depthSignal, base Classification) Classification {
	// 1. Explicit browsing request always researches.
	if enableBrowsing {
		base.Mode = ModeResearch
		base.PreserveContext = true
		base.EnrichQuery = true
		return base
	}

	// 2. Questions about how the platform/organization is put together.
	for _, p := range systemOrgPatterns {
		if p.MatchString(query) {
			base.Mode = ModeNone
			return base
		}
	}

	// 3. Procedural usage questions.
	for _, p := range howToPatterns {
		if p.MatchString(query) {
			base.Mode = ModeNone
			return base
		}
	}

	isPlatform := c.isPlatformQuery(query)
	hasEntity := c.hasEntity(query, resolved)

	// 4a. Pure platform talk never searches.
	if isPlatform && !hasEntity {
		base.Mode = ModeNone
		return base
	}

	// 4b. High technical depth about a real entity escalates to research.
	// This check runs before the hybrid rule; swapping them changes which
	// deep platform+entity queries research.
	if depth.Score >= depthThreshold && hasEntity {
		base.Mode = ModeResearch
		base.PreserveContext = true
		base.EnrichQuery = true
		return base
	}

	// 4c. Platform question about a real entity: verify, flagged hybrid so
	// the answer can blend product knowledge with sources.
	if isPlatform && hasEntity {
		base.Mode = ModeVerification
		base.IsHybrid = true
		base.PreserveContext = true
		base.EnrichQuery = true
		return base
	}

	// 4d. An evaluation/comparison intent on record makes entity questions
	// hybrid verifications.
	if mem != nil && mem.HasEvaluationIntent() && hasEntity {
		base.Mode = ModeVerification
		base.IsHybrid = true
		return base
	}

	// Default: verify. Context is preserved once the session has recorded
	// features; enrichment additionally needs an entity to enrich with.
	base.Mode = ModeVerification
	base.PreserveContext = mem != nil && len(mem.Features) > 0
	base.EnrichQuery = base.PreserveContext && hasEntity
	return base
}

func (c *Classifier) isPlatformQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, tok := range tokenize(query) {
		if _, ok := platformKeywords[tok]; ok {
			return true
		}
	}
	for _, phrase := range platformPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasEntity(query string, resolved resolver.ResolvedQuery) bool {
	if resolved.HasContext {
		return true
	}
	for _, tok := range tokenize(query) {
		if _, ok := entityKeywords[tok]; ok {
			return true
		}
	}
	lower := strings.ToLower(query)
	for _, phrase := range entityPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	if vesselNamePattern.MatchString(query) || identifierPattern.MatchString(query) {
		return true
	}
	return c.detector != nil && c.detector(query)
}

// tokenize lowercases, strips surrounding punctuation, and drops possessive
// suffixes so "fleetcore's" matches the keyword "fleetcore".
func tokenize(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(strings.Trim(f, `.,!?;:"'()`))
		tok = strings.TrimSuffix(tok, "'s")
		tok = strings.TrimSuffix(tok, "’s")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
