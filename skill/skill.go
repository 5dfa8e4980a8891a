// Package skill implements the skill registry: the catalogue of actions the
// execution substrate understands, with CEL preconditions, JSON Schema output
// contracts and composite-conflict declarations.
//
// The registry satisfies core.SkillRegistry and is consumed by
// validation.SkillRule during governance and by the broker when resolving
// fallback skills.
package skill

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/internal/util"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/validation"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RuleIDCompositeConflict tags proposals combining mutually exclusive skills.
const RuleIDCompositeConflict = "composite_conflict"

// Precondition is a CEL predicate over `proposal` and `context` that must hold
// before a skill may execute.
type Precondition struct {
	ID         string `json:"id" yaml:"id"`
	Expr       string `json:"expr" yaml:"expr"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	// Volatile marks predicates that read proposer output; their violations
	// are non-deterministic and never trigger the retry early exit.
	Volatile bool `json:"volatile,omitempty" yaml:"volatile,omitempty"`
}

// Skill describes one executable action.
type Skill struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// ExecutionMapping is the substrate command; defaults to Name.
	ExecutionMapping string         `json:"execution_mapping,omitempty" yaml:"execution_mapping,omitempty"`
	Preconditions    []Precondition `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	// OutputSchema is a JSON Schema over the proposal parameters plus magnitude_pct.
	OutputSchema  map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	ConflictsWith []string       `json:"conflicts_with,omitempty" yaml:"conflicts_with,omitempty"`
}

// SchemaFrom derives an output schema from a parameter struct.
func SchemaFrom(v any) map[string]any { return util.CreateSchema(v) }

type entry struct {
	skill  Skill
	schema *jsonschema.Schema
}

// Options configures a Registry.
type Options struct {
	DefaultSkill string
	Logger       logging.Logger
}

// Registry is a concurrency-safe skill catalogue.
type Registry struct {
	mu           sync.RWMutex
	skills       map[string]*entry
	order        []string
	defaultSkill string
	cel          *validation.CELEvaluator
	logger       logging.Logger
}

var _ core.SkillRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	ev, err := validation.NewCELEvaluator()
	if err != nil {
		return nil, err
	}

	return &Registry{
		skills:       make(map[string]*entry),
		defaultSkill: opts.DefaultSkill,
		cel:          ev,
		logger:       logging.OrNoOp(opts.Logger),
	}, nil
}

// Register adds or replaces a skill after compiling its preconditions and schema.
func (r *Registry) Register(s Skill) error {
	if s.Name == "" {
		return core.NewConfigurationError("skill", "skill name is required")
	}

	for _, pc := range s.Preconditions {
		if err := r.cel.Compile(pc.Expr); err != nil {
			return core.NewConfigurationError("skill", "precondition %q of %s: %v", pc.ID, s.Name, err)
		}
	}

	e := &entry{skill: s}

	if len(s.OutputSchema) > 0 {
		raw, err := json.Marshal(s.OutputSchema)
		if err != nil {
			return core.NewConfigurationError("skill", "output schema of %s: %v", s.Name, err)
		}

		schema, err := validation.CompileSchema(s.Name, string(raw))
		if err != nil {
			return core.NewConfigurationError("skill", "output schema of %s: %v", s.Name, err)
		}

		e.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	}

	r.skills[s.Name] = e

	return nil
}

// MustRegister panics on registration errors; intended for static wiring.
func (r *Registry) MustRegister(skills ...Skill) *Registry {
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}

	return r
}

// SetDefault sets the fallback skill.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultSkill = name
}

// Validate reports a configuration error when the default skill is missing.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultSkill == "" {
		return core.NewConfigurationError("skill", "no default skill configured")
	}

	if _, ok := r.skills[r.defaultSkill]; !ok {
		return core.NewConfigurationError("skill", "default skill %q is not registered", r.defaultSkill)
	}

	return nil
}

// Get returns a registered skill.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.skills[name]
	if !ok {
		return Skill{}, false
	}

	return e.skill, true
}

// Names returns skill names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Exists implements core.SkillRegistry.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.skills[name]

	return ok
}

// DefaultSkill implements core.SkillRegistry.
func (r *Registry) DefaultSkill() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultSkill
}

// ExecutionMapping implements core.SkillRegistry.
func (r *Registry) ExecutionMapping(name string) string {
	s, ok := r.Get(name)
	if !ok {
		return ""
	}

	if s.ExecutionMapping != "" {
		return s.ExecutionMapping
	}

	return s.Name
}

// CheckPreconditions implements core.SkillRegistry.
func (r *Registry) CheckPreconditions(p *core.Proposal, vctx map[string]any) []core.Verdict {
	s, ok := r.Get(p.SkillName)
	if !ok {
		return nil
	}

	var verdicts []core.Verdict

	for _, pc := range s.Preconditions {
		id := pc.ID
		if id == "" {
			id = "precondition_" + s.Name
		}

		holds, err := r.cel.Eval(pc.Expr, p, vctx)
		if err != nil {
			r.logger.Warn("Precondition evaluation failed", "skill", s.Name, "rule_id", id, "error", err.Error())

			verdicts = append(verdicts, core.Fail(id, !pc.Volatile,
				fmt.Sprintf("precondition %s of %s could not be evaluated: %v", id, s.Name, err)))

			continue
		}

		if holds {
			continue
		}

		msg := pc.Message
		if msg == "" {
			msg = fmt.Sprintf("precondition %s of %s does not hold", id, s.Name)
		}

		verdicts = append(verdicts, core.Fail(id, !pc.Volatile, msg).WithSuggestion(pc.Suggestion))
	}

	return verdicts
}

// CheckOutputSchema implements core.SkillRegistry.
func (r *Registry) CheckOutputSchema(p *core.Proposal) *core.Verdict {
	r.mu.RLock()
	e, ok := r.skills[p.SkillName]
	r.mu.RUnlock()

	if !ok || e.schema == nil {
		return nil
	}

	msgs, err := validation.ValidateDocument(e.schema, p.SchemaDocument())
	if err != nil {
		v := core.Fail(validation.RuleIDOutputSchema, true, err.Error())
		return &v
	}

	if len(msgs) == 0 {
		return nil
	}

	v := core.Fail(validation.RuleIDOutputSchema, true, fmt.Sprintf("%s: %s", p.SkillName, msgs[0]))
	v.Errors = append(v.Errors, msgs[1:]...)
	v = v.WithSuggestion("keep parameters within the documented bounds of " + p.SkillName)

	return &v
}

// CompositeConflicts implements core.SkillRegistry.
func (r *Registry) CompositeConflicts(skills []string) *core.Verdict {
	var pairs []string

	for i, a := range skills {
		sa, ok := r.Get(a)
		if !ok {
			continue
		}

		for _, b := range skills[i+1:] {
			sb, _ := r.Get(b)
			if slices.Contains(sa.ConflictsWith, b) || slices.Contains(sb.ConflictsWith, a) {
				pairs = append(pairs, a+"+"+b)
			}
		}
	}

	if len(pairs) == 0 {
		return nil
	}

	v := core.Fail(RuleIDCompositeConflict, true, fmt.Sprintf("skills cannot be combined: %v", pairs)).
		WithSuggestion("choose a single skill or a compatible combination")

	return &v
}
