package arbiter

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
)

// ResourceLimit detects when more agents choose a resource-consuming skill
// than the resource allows. The limit is read from shared state under
// LimitKey when present, otherwise Limit is used. Negative limits count as 0.
type ResourceLimit struct {
	Resource string
	Skills   []string
	Limit    int
	LimitKey string
}

// Detect implements Detector.
func (r ResourceLimit) Detect(batch []ActionProposal, shared map[string]any) []ResourceConflict {
	limit := r.Limit

	if r.LimitKey != "" {
		if v, ok := asInt(shared[r.LimitKey]); ok {
			limit = v
		}
	}

	limit = max(limit, 0)

	var ids []string

	for _, p := range batch {
		if slices.Contains(r.Skills, p.SkillName) {
			ids = append(ids, p.AgentID)
		}
	}

	if len(ids) <= limit {
		return nil
	}

	return []ResourceConflict{{Resource: r.Resource, Limit: limit, AgentIDs: ids}}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// PriorityResolver grants a conflict's capacity by agent-type precedence
// (higher first), then by agent id. With TieBreakSeed set, agents of equal
// precedence are ordered by a seeded shuffle instead of by id.
type PriorityResolver struct {
	Precedence   map[string]int
	TieBreakSeed *int64
}

// Resolve implements Resolver.
func (r PriorityResolver) Resolve(c ResourceConflict, contenders []ActionProposal, _ map[string]any) []Decision {
	ordered := slices.Clone(contenders)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].AgentID < ordered[j].AgentID })

	if r.TieBreakSeed != nil {
		seed := uint64(*r.TieBreakSeed)
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return r.Precedence[ordered[i].AgentType] > r.Precedence[ordered[j].AgentType]
	})

	out := make([]Decision, len(ordered))

	for i, p := range ordered {
		if i < c.Limit {
			out[i] = Decision{AgentID: p.AgentID, Approved: true}
			continue
		}

		out[i] = Decision{
			AgentID: p.AgentID,
			Reason:  fmt.Sprintf("%s capacity %d exhausted by higher-priority agents", c.Resource, c.Limit),
		}
	}

	return out
}
