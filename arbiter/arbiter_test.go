package arbiter

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/govmesh/artifact"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Strategy            = Passthrough{}
	_ Strategy            = ConflictAware{}
	_ Strategy            = Custom{}
	_ Detector            = ResourceLimit{}
	_ Resolver            = PriorityResolver{}
	_ StatementGenerator  = TemplateStatements{}
	_ StatementGenerator  = StatementFunc(nil)
	_ Bus                 = (*InMemoryBus)(nil)
	_ Bus                 = (*NATSBus)(nil)
	_ CrossAgentValidator = EchoChamberCheck{}
	_ CrossAgentValidator = DeadlockCheck{}
)

func proposal(agentID, agentType, skill string) ActionProposal {
	return ActionProposal{
		AgentID:   agentID,
		AgentType: agentType,
		SkillName: skill,
		Proposal:  &core.Proposal{AgentID: agentID, SkillName: skill},
		Outcome:   core.OutcomeApproved,
	}
}

func withdrawArbiter(optFns ...func(o *Options)) *Arbiter {
	base := func(o *Options) {
		o.Strategy = ConflictAware{
			Detectors: []Detector{ResourceLimit{Resource: "water", Skills: []string{"withdraw_resource"}, Limit: 1}},
			Resolver:  PriorityResolver{Precedence: map[string]int{"senior": 2, "junior": 1}},
		}
	}

	return New(append([]func(o *Options){base}, optFns...)...)
}

func TestPassthrough(t *testing.T) {
	a := New()
	a.Submit(proposal("b", "farmer", "withdraw_resource"))
	a.Submit(proposal("a", "farmer", "withdraw_resource"))
	assert.Equal(t, 2, a.Pending())

	report, err := a.Resolve(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, report.Resolutions, 2)
	assert.Equal(t, "a", report.Resolutions[0].AgentID)
	assert.True(t, report.Resolutions[0].Approved)
	assert.True(t, report.Resolutions[1].Approved)
	assert.Empty(t, report.Denied())
	assert.Zero(t, a.Pending())
}

func TestConflictAware_ResourceCap(t *testing.T) {
	a := withdrawArbiter()
	a.Submit(proposal("farm_b", "senior", "withdraw_resource"))
	a.Submit(proposal("farm_a", "junior", "withdraw_resource"))
	a.Submit(proposal("farm_c", "junior", "maintain_demand"))

	report, err := a.Resolve(context.Background(), 3, nil)
	require.NoError(t, err)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "water", report.Conflicts[0].Resource)
	assert.ElementsMatch(t, []string{"farm_a", "farm_b"}, report.Conflicts[0].AgentIDs)

	winner, ok := report.Lookup("farm_b")
	require.True(t, ok)
	assert.True(t, winner.Approved)

	loser, ok := report.Lookup("farm_a")
	require.True(t, ok)
	assert.False(t, loser.Approved)
	assert.Contains(t, loser.Reason, "capacity 1")
	assert.Contains(t, loser.EventStatement, "farm_a (junior) was not allowed to withdraw_resource")

	bystander, _ := report.Lookup("farm_c")
	assert.True(t, bystander.Approved)
}

func TestConflictAware_EqualPrecedenceIsDeterministic(t *testing.T) {
	run := func() []string {
		a := withdrawArbiter()
		a.Submit(proposal("farm_z", "junior", "withdraw_resource"))
		a.Submit(proposal("farm_m", "junior", "withdraw_resource"))
		a.Submit(proposal("farm_a", "junior", "withdraw_resource"))

		report, err := a.Resolve(context.Background(), 1, nil)
		require.NoError(t, err)

		var approved []string
		for _, r := range report.Resolutions {
			if r.Approved {
				approved = append(approved, r.AgentID)
			}
		}

		return approved
	}

	first := run()
	assert.Equal(t, []string{"farm_a"}, first)
	assert.Equal(t, first, run())
}

func TestPriorityResolver_SeededTieBreak(t *testing.T) {
	seed := int64(42)
	r := PriorityResolver{TieBreakSeed: &seed}
	contenders := []ActionProposal{proposal("a", "t", "s"), proposal("b", "t", "s"), proposal("c", "t", "s"), proposal("d", "t", "s")}
	c := ResourceConflict{Resource: "r", Limit: 2}

	first := r.Resolve(c, contenders, nil)
	second := r.Resolve(c, contenders, nil)
	assert.Equal(t, first, second)

	approved := 0
	for _, d := range first {
		if d.Approved {
			approved++
		}
	}

	assert.Equal(t, 2, approved)
}

func TestResourceLimit_LimitFromSharedState(t *testing.T) {
	d := ResourceLimit{Resource: "water", Skills: []string{"withdraw_resource"}, Limit: 5, LimitKey: "water_slots"}
	batch := []ActionProposal{proposal("a", "t", "withdraw_resource"), proposal("b", "t", "withdraw_resource")}

	assert.Empty(t, d.Detect(batch, nil))

	conflicts := d.Detect(batch, map[string]any{"water_slots": 1.0})
	require.Len(t, conflicts, 1)
	assert.Equal(t, 1, conflicts[0].Limit)
}

func TestResourceLimit_NegativeLimitIsZero(t *testing.T) {
	d := ResourceLimit{Resource: "water", Skills: []string{"withdraw_resource"}, Limit: -3, LimitKey: "water_slots"}
	batch := []ActionProposal{proposal("a", "t", "withdraw_resource")}

	for _, shared := range []map[string]any{nil, {"water_slots": -2}} {
		conflicts := d.Detect(batch, shared)
		require.Len(t, conflicts, 1)
		assert.Equal(t, 0, conflicts[0].Limit)
		assert.Equal(t, []string{"a"}, conflicts[0].AgentIDs)
	}
}

func TestCustom_UnresolvedIsSurfaced(t *testing.T) {
	a := New(func(o *Options) {
		o.Strategy = Custom{Fn: func(_ context.Context, batch []ActionProposal, _ map[string]any) ([]Decision, error) {
			return []Decision{{AgentID: batch[0].AgentID, Approved: true}}, nil
		}}
		o.Validators = []CrossAgentValidator{DeadlockCheck{}}
	})
	a.Submit(proposal("a", "t", "x"))
	a.Submit(proposal("b", "t", "x"))

	report, err := a.Resolve(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", report.Strategy)
	assert.Equal(t, []string{"b"}, report.Unresolved)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], core.ErrConflictUnresolved.Error())

	b, _ := report.Lookup("b")
	assert.False(t, b.Approved)
	assert.True(t, b.Unresolved)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "deadlock", report.Findings[0].Check)
}

func TestCustom_StrategyErrorLeavesEverythingUnresolved(t *testing.T) {
	a := New(func(o *Options) {
		o.Strategy = Custom{Label: "broken", Fn: func(context.Context, []ActionProposal, map[string]any) ([]Decision, error) {
			return nil, errors.New("boom")
		}}
	})
	a.Submit(proposal("a", "t", "x"))

	report, err := a.Resolve(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Unresolved)
	assert.Len(t, report.Errors, 2)
}

func TestResolve_BundleBroadcastAndRelay(t *testing.T) {
	store := artifact.NewInMemoryStore()
	bus := NewInMemoryBus()
	mem := memory.NewInMemoryStore()

	relay := NewMemoryRelay(mem, func() []string { return []string{"farm_a", "farm_b", "farm_c"} }, nil)
	unsubscribe, err := relay.Attach(bus)
	require.NoError(t, err)

	a := withdrawArbiter(func(o *Options) {
		o.Artifacts = store
		o.Bus = bus
		o.Validators = []CrossAgentValidator{EchoChamberCheck{Threshold: 0.6, MinAgents: 2}}
	})

	a.SubmitArtifact(Artifact{Kind: "market_update", Payload: map[string]any{"price": 3.5}})
	a.Submit(proposal("farm_a", "senior", "withdraw_resource"))
	a.Submit(proposal("farm_b", "junior", "withdraw_resource"))

	report, err := a.Resolve(context.Background(), 2, nil)
	require.NoError(t, err)

	bundle, err := LoadBundle(store, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.Round)
	require.Len(t, bundle.Artifacts, 1)
	assert.Equal(t, "market_update", bundle.Artifacts[0].Kind)
	assert.Len(t, bundle.Resolutions, 2)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "echo_chamber", report.Findings[0].Check)

	got := mem.Recent("farm_c", 0)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "farm_a (senior) will withdraw_resource")
	assert.Contains(t, got[1], "farm_b (junior) was not allowed")

	require.NoError(t, unsubscribe())
	a.Submit(proposal("farm_a", "senior", "maintain_demand"))
	_, err = a.Resolve(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Len(t, mem.Recent("farm_c", 0), 2)
}

func TestTemplateStatements(t *testing.T) {
	p := proposal("farm_a", "farmer", "increase_demand")
	p.Proposal.MagnitudePct = core.Float(12.5)

	s, err := TemplateStatements{}.Statement(Resolution{AgentID: "farm_a", Original: p, Approved: true})
	require.NoError(t, err)
	assert.Equal(t, "farm_a (farmer) will increase_demand by 12.5% this round.", s)

	s, err = TemplateStatements{Denied: "{{.agent_id}} blocked in phase {{.phase}}"}.
		Statement(Resolution{AgentID: "farm_a", Original: p, Phase: 4})
	require.NoError(t, err)
	assert.Equal(t, "farm_a blocked in phase 4", s)
}

func TestResolve_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Resolve(ctx, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
