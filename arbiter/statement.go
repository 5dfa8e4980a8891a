package arbiter

import (
	"github.com/hupe1980/govmesh/internal/util"
)

// StatementGenerator turns a resolution into an event statement for other
// agents' memory.
type StatementGenerator interface {
	Statement(r Resolution) (string, error)
}

// StatementFunc adapts a function into a StatementGenerator.
type StatementFunc func(r Resolution) (string, error)

// Statement implements StatementGenerator.
func (f StatementFunc) Statement(r Resolution) (string, error) { return f(r) }

// Default statement templates.
const (
	DefaultApprovedTemplate = `{{.agent_id}} ({{.agent_type}}) will {{.skill}}{{if .magnitude}} by {{pct .magnitude}}{{end}} this round.`
	DefaultDeniedTemplate   = `{{.agent_id}} ({{.agent_type}}) was not allowed to {{.skill}}{{if .reason}}: {{.reason}}{{end}}.`
)

// TemplateStatements renders statements from text/template sources. The
// templates see agent_id, agent_type, skill, magnitude, reason, phase and
// approved.
type TemplateStatements struct {
	Approved string
	Denied   string
}

// Statement implements StatementGenerator.
func (t TemplateStatements) Statement(r Resolution) (string, error) {
	tmpl := t.Approved
	if tmpl == "" {
		tmpl = DefaultApprovedTemplate
	}

	if !r.Approved {
		tmpl = t.Denied
		if tmpl == "" {
			tmpl = DefaultDeniedTemplate
		}
	}

	data := map[string]any{
		"agent_id":   r.AgentID,
		"agent_type": r.Original.AgentType,
		"skill":      r.Original.SkillName,
		"reason":     r.Reason,
		"phase":      r.Phase,
		"approved":   r.Approved,
	}

	if m, ok := r.Original.Proposal.Magnitude(); ok {
		data["magnitude"] = m
	}

	return util.RenderTemplate(tmpl, data)
}
