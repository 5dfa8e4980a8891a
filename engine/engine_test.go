package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/govmesh/arbiter"
	"github.com/hupe1980/govmesh/audit"
	"github.com/hupe1980/govmesh/broker"
	"github.com/hupe1980/govmesh/internal/testutil"
	"github.com/hupe1980/govmesh/skill"
	"github.com/hupe1980/govmesh/state"
	"github.com/hupe1980/govmesh/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type market struct {
	store *state.InMemoryStore
	years []int
	slots int
}

func (m *market) AdvanceYear(_ context.Context, year int) error {
	m.years = append(m.years, year)
	m.store.UpdateEnvironment(map[string]any{"year": year})

	return nil
}

func (m *market) SharedState(int) map[string]any { return map[string]any{"water_slots": m.slots} }

func newEngineFixture(t *testing.T, arb *arbiter.Arbiter, replies ...string) (*state.InMemoryStore, *broker.Broker, *testutil.RecordingExecutor) {
	t.Helper()

	reg, err := skill.NewRegistry(func(o *skill.Options) { o.DefaultSkill = "maintain_demand" })
	require.NoError(t, err)
	reg.MustRegister(skill.Skill{Name: "maintain_demand"}, skill.Skill{Name: "withdraw_resource"})

	store := state.NewInMemoryStore(nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		store.AddAgent(id, "farmer", map[string]any{"id": id})
	}

	exec := &testutil.RecordingExecutor{}

	b, err := broker.New(broker.Deps{
		Builder:   &state.ContextBuilder{Store: store},
		Proposer:  testutil.NewScriptedProposer(replies...),
		Validator: validation.NewPipeline([]validation.Rule{validation.SkillRule{Registry: reg}}),
		Skills:    reg,
		Executor:  exec,
	}, func(o *broker.Options) {
		o.Arbiter = arb
		o.Workers = 2
	})
	require.NoError(t, err)

	return store, b, exec
}

func TestRun(t *testing.T) {
	store, b, exec := newEngineFixture(t, nil, testutil.Decision("maintain_demand", nil))

	var (
		before []int
		after  []int
	)

	sink := audit.NewMemorySink()
	steps := 0

	e := New(b, WorldFunc(func(context.Context, int) error { steps++; return nil }), store, func(o *Options) {
		o.Sink = sink
		o.Hooks = Hooks{
			BeforePhase: func(_ context.Context, step int, agents []string) error {
				before = append(before, step)
				assert.Len(t, agents, 4)

				return nil
			},
			AfterPhase: func(_ context.Context, r *broker.PhaseResult) { after = append(after, r.Phase) },
		}
	})

	report, err := e.Run(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, steps)
	assert.Equal(t, []int{1, 2, 3}, before)
	assert.Equal(t, []int{1, 2, 3}, after)
	assert.Len(t, report.Phases, 3)
	assert.Equal(t, 12, report.Summary.Steps)
	assert.Equal(t, 3, report.Summary.Phases)
	assert.Equal(t, map[string]int{"APPROVED": 12}, report.Summary.Outcomes)
	assert.Len(t, exec.Actions(), 12)

	entries := sink.Entries()
	require.Len(t, entries, 12)
	assert.Equal(t, report.RunID, entries[0].Record.RunID)
	assert.Empty(t, e.ActiveRuns())
}

func TestRun_SeededShuffleIsReproducible(t *testing.T) {
	order := func(seed int64) [][]string {
		store, b, _ := newEngineFixture(t, nil, testutil.Decision("maintain_demand", nil))

		var got [][]string

		e := New(b, WorldFunc(func(context.Context, int) error { return nil }), store, func(o *Options) {
			o.ShuffleAgents = true
			o.Seed = seed
			o.Hooks.BeforePhase = func(_ context.Context, _ int, agents []string) error {
				got = append(got, agents)
				return nil
			}
		})

		_, err := e.Run(context.Background(), 4)
		require.NoError(t, err)

		return got
	}

	assert.Equal(t, order(7), order(7))
}

func TestRun_AnnualWorldWithSharedState(t *testing.T) {
	arb := arbiter.New(func(o *arbiter.Options) {
		o.Strategy = arbiter.ConflictAware{
			Detectors: []arbiter.Detector{arbiter.ResourceLimit{
				Resource: "water", Skills: []string{"withdraw_resource"}, Limit: 4, LimitKey: "water_slots",
			}},
			Resolver: arbiter.PriorityResolver{},
		}
	})

	store, b, _ := newEngineFixture(t, arb, testutil.Decision("withdraw_resource", nil))
	m := &market{store: store, slots: 1}

	e := New(b, FromAnnual(m, 2020), store)

	report, err := e.Run(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, []int{2020, 2021}, m.years)
	assert.Equal(t, 2021, store.Environment()["year"])

	for _, phase := range report.Phases {
		require.NotNil(t, phase.Report)
		assert.Len(t, phase.Report.Denied(), 3, "only one water slot per year")
	}

	assert.Equal(t, 6, report.Summary.Denied)
}

func TestRun_BeforePhaseErrorStops(t *testing.T) {
	store, b, exec := newEngineFixture(t, nil, testutil.Decision("maintain_demand", nil))

	e := New(b, WorldFunc(func(context.Context, int) error { return nil }), store, func(o *Options) {
		o.Hooks.BeforePhase = func(_ context.Context, step int, _ []string) error {
			if step == 2 {
				return errors.New("budget exhausted")
			}

			return nil
		}
	})

	report, err := e.Run(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget exhausted")
	assert.Len(t, report.Phases, 1)
	assert.Equal(t, 4, report.Summary.Steps)
	assert.Len(t, exec.Actions(), 4)
}

func TestRun_AgentErrorsReachHook(t *testing.T) {
	store, b, _ := newEngineFixture(t, nil, testutil.Decision("maintain_demand", nil))

	var failed []string

	pop := populationFunc(func() []string { return append(store.AgentIDs(), "ghost") })

	e := New(b, WorldFunc(func(context.Context, int) error { return nil }), pop, func(o *Options) {
		o.Hooks.OnAgentError = func(_ context.Context, _ int, agentID string, err error) {
			failed = append(failed, agentID)
			assert.ErrorIs(t, err, state.ErrUnknownAgent)
		}
	})

	report, err := e.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, failed)
	assert.Equal(t, 1, report.Summary.AgentFailures)
}

func TestCancel(t *testing.T) {
	store, b, _ := newEngineFixture(t, nil, testutil.Decision("maintain_demand", nil))

	var e *Engine

	e = New(b, WorldFunc(func(_ context.Context, step int) error {
		if step == 2 {
			runs := e.ActiveRuns()
			require.Len(t, runs, 1)
			require.NoError(t, e.Cancel(runs[0]))
		}

		return nil
	}), store)

	report, err := e.Run(context.Background(), 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Phases, 1)
	assert.ErrorIs(t, e.Cancel("nope"), ErrUnknownRun)
}

type populationFunc func() []string

func (f populationFunc) AgentIDs() []string { return f() }
