package prompts

// Compiled-in prompt templates. A <name>.tmpl file in the directory named
// by PROMPT_TEMPLATES_DIR replaces the matching entry at load time.
var defaultTemplates = map[string]string{
	TemplateKnowledge: knowledgeTemplate,

	TemplateVerification: verificationTemplate,

	TemplateResearch: researchTemplate,
}

const knowledgeTemplate = `{{if .History}}Conversation so far:
{{.History}}

{{end}}{{if .EntityContext}}Active subject: {{.EntityContext}}

{{end}}{{if .KnowledgeContext}}Platform context:
{{.KnowledgeContext}}

{{end}}Question: {{.Query}}

Answer from fleetcore platform knowledge. If the question asks for vessel
particulars you do not know, say so instead of guessing. Today is {{.Date}}.`

const verificationTemplate = `{{if .History}}Conversation so far:
{{.History}}

{{end}}{{if .EntityContext}}Active subject: {{.EntityContext}}

{{end}}{{if .KnowledgeContext}}Platform context:
{{.KnowledgeContext}}

{{end}}Question: {{.Query}}

Sources ({{len .Sources}}):
{{range $i, $s := .Sources}}[{{inc $i}}] {{$s.Title}} - {{$s.URL}}
{{with $s.Content}}{{trunc . 300}}
{{end}}{{end}}
Answer the question and verify every external fact against the sources
above. Cite inline with [n](url) markers that point at the numbered list;
use at least {{.MinCitations}} distinct sources. State plainly when the
sources do not confirm a fact. Today is {{.Date}}.`

const researchTemplate = `{{if .History}}Conversation so far:
{{.History}}

{{end}}{{if .EntityContext}}Active subject: {{.EntityContext}}

{{end}}Research task: {{.Query}}

Sources gathered ({{len .Sources}}):
{{range $i, $s := .Sources}}[{{inc $i}}] {{$s.Title}} - {{$s.URL}}
{{with $s.Content}}{{trunc . 400}}
{{end}}{{end}}
{{- if .PreviousDraft}}
Previous draft (iteration {{.Iteration}}):
{{.PreviousDraft}}

Open gaps to fill:
{{range .Gaps}}- {{.Field}} ({{.Importance}}): {{.Query}}{{if .TargetSites}} [check {{join .TargetSites ", "}}]{{end}}
{{end}}
Revise the draft. Keep confirmed facts, fill the gaps from the sources,
and drop anything the sources contradict.
{{- else}}
Write a structured profile answering the task. Cover identity, ownership,
build and class particulars, and dimensions where the sources support
them.
{{- end}}

Cite every factual claim inline with [n](url) markers that point at the
numbered list; use at least {{.MinCitations}} distinct sources. Never
invent a value for a field the sources do not cover; write "not found"
instead.{{if .TechnicalDepth}} The reader is technical; include exact
figures, units and designations as the sources give them.{{end}} Today is
{{.Date}}.`
