// Package activities implements the Temporal activities behind the
// verification and research workflows: source search, gap analysis,
// answer synthesis, citation enforcement, progress publishing, and
// persistence of turns and finished runs.
//
// Activities degrade rather than fail wherever the pipeline can continue
// without them: a tripped search breaker yields zero sources, a missing
// archive writer skips persistence. Only synthesis errors propagate,
// because without an answer there is nothing to continue with.
package activities

import (
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/citations"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/gaps"
	"github.com/fleetcore-ai/compass/internal/llm"
	"github.com/fleetcore-ai/compass/internal/search"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// Deps carries the service dependencies activities run against. Search
// and LLM are interfaces so tests inject fakes; Conversations, Archive,
// and Stream may be nil, which turns the corresponding activities into
// logged no-ops.
type Deps struct {
	Search        search.Client
	LLM           llm.Client
	Gaps          *gaps.Analyzer
	Citations     *citations.Enforcer
	Conversations *conversation.Manager
	Archive       *db.ArchiveWriter
	Stream        *streaming.Manager
	Logger        *zap.Logger
}

// Activities holds dependencies shared by all activity implementations.
type Activities struct {
	search        search.Client
	llm           llm.Client
	gaps          *gaps.Analyzer
	citations     *citations.Enforcer
	conversations *conversation.Manager
	archive       *db.ArchiveWriter
	stream        *streaming.Manager
	logger        *zap.Logger
}

// NewActivities creates an activities instance with dependencies.
func NewActivities(d Deps) *Activities {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := d.Gaps
	if g == nil {
		g = gaps.New(logger)
	}
	c := d.Citations
	if c == nil {
		c = citations.New(logger)
	}
	return &Activities{
		search:        d.Search,
		llm:           d.LLM,
		gaps:          g,
		citations:     c,
		conversations: d.Conversations,
		archive:       d.Archive,
		stream:        d.Stream,
		logger:        logger,
	}
}
