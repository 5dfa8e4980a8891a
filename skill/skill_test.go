package skill

import (
	"testing"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/internal/testutil"
	"github.com/hupe1980/govmesh/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type increaseParams struct {
	MagnitudePct float64 `json:"magnitude_pct" minimum:"0" maximum:"30"`
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(func(o *Options) { o.DefaultSkill = "maintain_demand" })
	require.NoError(t, err)

	r.MustRegister(
		Skill{Name: "maintain_demand"},
		Skill{
			Name:             "increase_demand",
			ExecutionMapping: "demand.increase",
			OutputSchema:     SchemaFrom(increaseParams{}),
			Preconditions: []Precondition{{
				ID:         "has_water_right",
				Expr:       "context.water_right > 0.0",
				Message:    "no water right",
				Suggestion: "maintain demand instead",
			}},
			ConflictsWith: []string{"decrease_demand"},
		},
		Skill{Name: "decrease_demand"},
	)

	return r
}

func TestRegistry_Basics(t *testing.T) {
	r := newRegistry(t)

	assert.True(t, r.Exists("increase_demand"))
	assert.False(t, r.Exists("fly"))
	assert.Equal(t, "maintain_demand", r.DefaultSkill())
	assert.Equal(t, "demand.increase", r.ExecutionMapping("increase_demand"))
	assert.Equal(t, "maintain_demand", r.ExecutionMapping("maintain_demand"))
	assert.Empty(t, r.ExecutionMapping("fly"))
	assert.Equal(t, []string{"maintain_demand", "increase_demand", "decrease_demand"}, r.Names())
	assert.NoError(t, r.Validate())
}

func TestRegistry_ValidateMissingDefault(t *testing.T) {
	r, err := NewRegistry(func(o *Options) { o.DefaultSkill = "missing" })
	require.NoError(t, err)

	err = r.Validate()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRegistry_RegisterRejectsBadInput(t *testing.T) {
	r := newRegistry(t)

	assert.ErrorIs(t, r.Register(Skill{}), core.ErrConfiguration)
	assert.ErrorIs(t, r.Register(Skill{Name: "x", Preconditions: []Precondition{{ID: "p", Expr: "context.("}}}), core.ErrConfiguration)
	assert.ErrorIs(t, r.Register(Skill{Name: "y", OutputSchema: map[string]any{"$ref": "#/$defs/missing"}}), core.ErrConfiguration)
}

func TestRegistry_OutputSchema(t *testing.T) {
	r := newRegistry(t)

	v := r.CheckOutputSchema(testutil.NewProposalBuilder("farm_1").Skill("increase_demand").Magnitude(500).Build())
	require.NotNil(t, v)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{validation.RuleIDOutputSchema}, v.Metadata.RuleIDs)
	assert.True(t, v.Metadata.Deterministic)

	assert.Nil(t, r.CheckOutputSchema(testutil.NewProposalBuilder("farm_1").Skill("increase_demand").Magnitude(10).Build()))
	assert.Nil(t, r.CheckOutputSchema(testutil.NewProposalBuilder("farm_1").Skill("maintain_demand").Build()))
}

func TestRegistry_Preconditions(t *testing.T) {
	r := newRegistry(t)
	p := testutil.NewProposalBuilder("farm_1").Skill("increase_demand").Magnitude(5).Build()

	assert.Empty(t, r.CheckPreconditions(p, map[string]any{"water_right": 10.0}))

	v := r.CheckPreconditions(p, map[string]any{"water_right": 0.0})
	require.Len(t, v, 1)
	assert.Equal(t, []string{"has_water_right"}, v[0].Metadata.RuleIDs)
	assert.True(t, v[0].Metadata.Deterministic)
	assert.Equal(t, "maintain demand instead", v[0].Metadata.Suggestion)

	v = r.CheckPreconditions(p, map[string]any{})
	require.Len(t, v, 1)
	assert.False(t, v[0].Valid)
}

func TestRegistry_CompositeConflicts(t *testing.T) {
	r := newRegistry(t)

	v := r.CompositeConflicts([]string{"decrease_demand", "increase_demand"})
	require.NotNil(t, v)
	assert.Equal(t, []string{RuleIDCompositeConflict}, v.Metadata.RuleIDs)

	assert.Nil(t, r.CompositeConflicts([]string{"maintain_demand", "increase_demand"}))
}

func TestRegistry_WithSkillRule(t *testing.T) {
	r := newRegistry(t)
	rule := validation.SkillRule{Registry: r}

	verdicts := rule.Check(t.Context(),
		testutil.NewProposalBuilder("farm_1").Skill("increase_demand").Magnitude(500).Build(),
		map[string]any{"water_right": 1.0})
	blocking := core.NewBlockingRuleSet(verdicts)
	assert.Equal(t, []string{validation.RuleIDOutputSchema}, blocking.IDs())
}
