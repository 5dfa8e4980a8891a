package adapter

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/govmesh/core"
	"github.com/tidwall/gjson"
)

// Parse layers, in the order they are tried.
const (
	LayerJSON     = "json"
	LayerFenced   = "fenced"
	LayerEmbedded = "embedded"
	LayerKeyword  = "keyword"
)

var fencedRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// Parse implements core.Proposer.
func (a *LLMAdapter) Parse(raw string, dctx core.DecisionContext) (*core.Proposal, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &core.ParseError{Layer: LayerJSON, Reason: "empty response", Raw: raw}
	}

	var warnings []string

	layers := []struct {
		name    string
		extract func(string) (string, bool)
	}{
		{LayerJSON, wholeJSON},
		{LayerFenced, fencedJSON},
		{LayerEmbedded, embeddedJSON},
	}

	for _, l := range layers {
		doc, ok := l.extract(text)
		if !ok {
			continue
		}

		p, err := a.fromJSON(doc, dctx, l.name)
		if err == nil {
			p.RawText = raw
			p.ParseWarnings = append(warnings, p.ParseWarnings...)

			return p, nil
		}

		warnings = append(warnings, fmt.Sprintf("%s layer: %v", l.name, err))
	}

	if p := a.fromKeywords(text, dctx); p != nil {
		p.RawText = raw
		p.ParseWarnings = append(warnings, "decision recovered by keyword scan")

		return p, nil
	}

	reason := "no decision found"
	if len(warnings) > 0 {
		reason = strings.Join(warnings, "; ")
	}

	return nil, &core.ParseError{Layer: LayerKeyword, Reason: reason, Raw: raw}
}

func wholeJSON(text string) (string, bool) {
	return text, strings.HasPrefix(text, "{") && gjson.Valid(text)
}

func fencedJSON(text string) (string, bool) {
	m := fencedRe.FindStringSubmatch(text)
	if m == nil || !gjson.Valid(m[1]) {
		return "", false
	}

	return m[1], true
}

// embeddedJSON returns the first balanced, valid JSON object in text.
func embeddedJSON(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}

		if end := matchBrace(text, start); end > 0 {
			if candidate := text[start : end+1]; gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}

	return "", false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth, inString, escaped := 0, false, false

	for i := start; i < len(text); i++ {
		c := text[i]

		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

func (a *LLMAdapter) fromJSON(doc string, dctx core.DecisionContext, layer string) (*core.Proposal, error) {
	root := gjson.Parse(doc)

	var decision gjson.Result

	for _, key := range a.opts.DecisionKeys {
		if r := root.Get(key); r.Exists() && r.String() != "" {
			decision = r
			break
		}
	}

	if !decision.Exists() {
		return nil, fmt.Errorf("missing decision field (looked for %s)", strings.Join(a.opts.DecisionKeys, ", "))
	}

	p := &core.Proposal{
		AgentID:    dctx.AgentID,
		SkillName:  a.normalizeSkill(decision.String()),
		ParseLayer: layer,
		Confidence: 1,
	}

	if m, ok := magnitude(root); ok {
		p.MagnitudePct = core.Float(m)
	}

	if c := root.Get("confidence"); c.Exists() {
		conf := c.Float()
		if conf < 0 || conf > 1 {
			p.ParseWarnings = append(p.ParseWarnings, fmt.Sprintf("confidence %.2f clamped to [0,1]", conf))
			conf = min(max(conf, 0), 1)
		}

		p.Confidence = conf
	}

	p.Reasoning = reasoning(root, a.opts.ReasoningKeys)

	if params := root.Get("parameters"); params.IsObject() {
		if m, ok := params.Value().(map[string]any); ok {
			p.Parameters = m
		}
	}

	for _, s := range root.Get("secondary_skills").Array() {
		p.SecondarySkills = append(p.SecondarySkills, a.normalizeSkill(s.String()))
	}

	return p, nil
}

func magnitude(root gjson.Result) (float64, bool) {
	for _, key := range []string{"magnitude_pct", "magnitude"} {
		r := root.Get(key)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}

		if r.Type == gjson.Number {
			return r.Float(), true
		}

		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(r.String()), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}

	return 0, false
}

func reasoning(root gjson.Result, extraKeys []string) map[string]string {
	out := map[string]string{}

	r := root.Get("reasoning")

	switch {
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = v.String()
			return true
		})
	case r.Exists() && r.String() != "":
		out["rationale"] = r.String()
	}

	for _, k := range extraKeys {
		if v := root.Get(k); v.Exists() {
			out[k] = v.String()
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func (a *LLMAdapter) normalizeSkill(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' }), "_")

	if alias, ok := a.opts.Aliases[s]; ok {
		return alias
	}

	return s
}

// fromKeywords scans for a "decision: x" line first and then for the first
// registered skill named anywhere in the text.
func (a *LLMAdapter) fromKeywords(text string, dctx core.DecisionContext) *core.Proposal {
	if len(a.opts.Skills) == 0 {
		return nil
	}

	lower := strings.ToLower(text)

	for _, line := range strings.Split(lower, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !slices.Contains(a.opts.DecisionKeys, strings.Trim(key, " *-#")) {
			continue
		}

		if skill := a.normalizeSkill(strings.Trim(value, " .*\"'`")); slices.Contains(a.opts.Skills, skill) {
			return &core.Proposal{AgentID: dctx.AgentID, SkillName: skill, ParseLayer: LayerKeyword, Confidence: 0.5}
		}
	}

	best, bestAt := "", -1

	for _, skill := range a.opts.Skills {
		for _, form := range []string{skill, strings.ReplaceAll(skill, "_", " ")} {
			if i := strings.Index(lower, form); i >= 0 && (bestAt < 0 || i < bestAt) {
				best, bestAt = skill, i
			}
		}
	}

	if best == "" {
		return nil
	}

	return &core.Proposal{AgentID: dctx.AgentID, SkillName: best, ParseLayer: LayerKeyword, Confidence: 0.5}
}
