// Package prompts assembles the completion prompts for the three answer
// modes. Templates are plain text/template documents, loaded from an
// override directory when PROMPT_TEMPLATES_DIR is set and otherwise from
// the compiled-in defaults, and cached after first parse.
//
// Template loading touches the filesystem. Call the builders from
// activities only; workflow code must stay deterministic.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/gaps"
	"github.com/fleetcore-ai/compass/internal/resolver"
	"github.com/fleetcore-ai/compass/internal/sources"
	"github.com/fleetcore-ai/compass/internal/util"
)

// templatesDirEnv points at a directory of <name>.tmpl files that override
// the compiled-in templates.
const templatesDirEnv = "PROMPT_TEMPLATES_DIR"

// Template names, one per answer mode.
const (
	TemplateKnowledge    = "knowledge"
	TemplateVerification = "verification"
	TemplateResearch     = "research"
)

var (
	promptTemplateMu    sync.RWMutex
	promptTemplateCache = make(map[string]*template.Template)
)

var promptFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"join": func(items []string, sep string) string {
		return strings.Join(items, sep)
	},
	"trunc": func(s string, n int) string {
		return util.TruncateString(strings.TrimSpace(s), n, true)
	},
}

// PromptData carries everything a template may render. Builders leave
// fields they do not use at their zero value.
type PromptData struct {
	Query            string
	EntityContext    string
	History          string
	KnowledgeContext string
	Sources          []sources.Source
	Gaps             []gaps.Gap
	MinCitations     int
	TechnicalDepth   bool
	Iteration        int
	PreviousDraft    string
	Date             string
}

// Build seeds a PromptData from the classification outcome. History is
// included only when the classifier asked for context to be preserved.
// Callers fill Sources, Gaps, MinCitations and draft fields per pass.
func Build(c classifier.Classification, resolved resolver.ResolvedQuery, mem *conversation.Memory) PromptData {
	d := PromptData{
		Query:          resolved.ResolvedQuery,
		EntityContext:  resolved.EntityContext,
		TechnicalDepth: c.RequiresTechnicalDepth,
		Date:           time.Now().UTC().Format("January 2, 2006"),
	}
	if d.Query == "" {
		d.Query = resolved.OriginalQuery
	}
	if c.PreserveContext && mem != nil {
		d.History = mem.ContextSummary(1200)
	}
	return d
}

// SelectTemplate maps a classification to the template that renders its
// answer. Hybrid verification queries use the verification template; the
// platform half of the answer rides in as knowledge context.
func SelectTemplate(c classifier.Classification) string {
	switch c.Mode {
	case classifier.ModeResearch:
		return TemplateResearch
	case classifier.ModeVerification:
		return TemplateVerification
	default:
		return TemplateKnowledge
	}
}

// BuildKnowledgePrompt renders the no-search prompt.
func BuildKnowledgePrompt(d PromptData) (string, error) {
	return Render(TemplateKnowledge, d)
}

// BuildVerificationPrompt renders the single-pass verification prompt.
func BuildVerificationPrompt(d PromptData) (string, error) {
	return Render(TemplateVerification, d)
}

// BuildResearchPrompt renders one iteration of the research prompt. On
// follow-up iterations the previous draft and the open gaps steer the
// revision.
func BuildResearchPrompt(d PromptData) (string, error) {
	return Render(TemplateResearch, d)
}

// Render executes the named template against data.
func Render(name string, data PromptData) (string, error) {
	t, err := loadTemplate(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt template %q: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func loadTemplate(name string) (*template.Template, error) {
	promptTemplateMu.RLock()
	t, ok := promptTemplateCache[name]
	promptTemplateMu.RUnlock()
	if ok {
		return t, nil
	}

	promptTemplateMu.Lock()
	defer promptTemplateMu.Unlock()
	if t, ok := promptTemplateCache[name]; ok {
		return t, nil
	}

	text, ok := defaultTemplates[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt template %q", name)
	}
	if dir := os.Getenv(templatesDirEnv); dir != "" {
		if b, err := os.ReadFile(filepath.Join(dir, name+".tmpl")); err == nil {
			text = string(b)
		}
	}

	t, err := template.New(name).Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %q: %w", name, err)
	}
	promptTemplateCache[name] = t
	return t, nil
}

// resetTemplateCache clears parsed templates so tests can swap the
// override directory between cases.
func resetTemplateCache() {
	promptTemplateMu.Lock()
	promptTemplateCache = make(map[string]*template.Template)
	promptTemplateMu.Unlock()
}
