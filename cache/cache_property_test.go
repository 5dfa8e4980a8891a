package cache

import (
	"testing"

	"github.com/hupe1980/govmesh/core"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the fingerprint depends only on the hash material, not on map
// insertion order or the agent identity.
func TestFingerprintDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("equal contexts share a fingerprint", prop.ForAll(
		func(keys []string, values []string, agentA, agentB string) bool {
			forward := map[string]any{}
			backward := map[string]any{}

			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}

			for i := min(len(keys), len(values)) - 1; i >= 0; i-- {
				if _, seen := backward[keys[i]]; !seen {
					backward[keys[i]] = forward[keys[i]]
				}
			}

			a, errA := ComputeHash(core.DecisionContext{AgentID: agentA, AgentType: "t", AgentState: forward})
			b, errB := ComputeHash(core.DecisionContext{AgentID: agentB, AgentType: "t", AgentState: backward, StepID: 9})

			return errA == nil && errB == nil && a == b
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
