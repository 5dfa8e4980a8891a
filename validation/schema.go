package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/govmesh/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RuleIDOutputSchema tags output schema violations.
const RuleIDOutputSchema = "output_schema_violation"

// CompileSchema compiles a JSON Schema document (draft 2020-12).
func CompileSchema(name, doc string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	url := "https://govmesh.schemas.local/" + name + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return schema, nil
}

// ValidateDocument validates a Go value against a compiled schema. The value
// is normalized through JSON first so numeric types match what the validator
// expects. It returns one message per leaf violation.
func ValidateDocument(schema *jsonschema.Schema, doc any) ([]string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}

	err = schema.Validate(normalized)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	return leafMessages(ve), nil
}

func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}

		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}

	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafMessages(c)...)
	}

	return out
}

// SchemaRule validates the proposal's parameters (including magnitude_pct)
// against a JSON Schema.
type SchemaRule struct {
	RuleID        string
	Skills        []string
	Schema        *jsonschema.Schema
	Deterministic bool
}

// ID implements Rule.
func (r SchemaRule) ID() string {
	if r.RuleID == "" {
		return RuleIDOutputSchema
	}

	return r.RuleID
}

// Check implements Rule.
func (r SchemaRule) Check(_ context.Context, p *core.Proposal, _ map[string]any) []core.Verdict {
	if !skillInScope(r.Skills, p.SkillName) {
		return nil
	}

	msgs, err := ValidateDocument(r.Schema, p.SchemaDocument())
	if err != nil {
		return []core.Verdict{core.Fail(r.ID(), r.Deterministic, err.Error())}
	}

	if len(msgs) == 0 {
		return []core.Verdict{core.Pass(r.ID())}
	}

	v := core.Fail(r.ID(), r.Deterministic, msgs[0])
	v.Errors = msgs

	return []core.Verdict{v.WithSuggestion("keep parameters within the documented bounds")}
}
