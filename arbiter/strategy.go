package arbiter

import (
	"context"
	"slices"
)

// Strategy decides which proposals of a batch may proceed. Proposals left
// without a Decision are treated as unresolved.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, batch []ActionProposal, shared map[string]any) ([]Decision, []ResourceConflict, error)
}

// Passthrough approves every proposal.
type Passthrough struct{}

// Name implements Strategy.
func (Passthrough) Name() string { return "passthrough" }

// Resolve implements Strategy.
func (Passthrough) Resolve(_ context.Context, batch []ActionProposal, _ map[string]any) ([]Decision, []ResourceConflict, error) {
	out := make([]Decision, len(batch))
	for i, p := range batch {
		out[i] = Decision{AgentID: p.AgentID, Approved: true}
	}

	return out, nil, nil
}

// Detector finds conflicts in a batch.
type Detector interface {
	Detect(batch []ActionProposal, shared map[string]any) []ResourceConflict
}

// Resolver decides a single conflict among its contenders.
type Resolver interface {
	Resolve(conflict ResourceConflict, contenders []ActionProposal, shared map[string]any) []Decision
}

// ConflictAware detects conflicts first and resolves only the conflicting
// proposals; everything else is approved.
type ConflictAware struct {
	Detectors []Detector
	Resolver  Resolver
}

// Name implements Strategy.
func (ConflictAware) Name() string { return "conflict_aware" }

// Resolve implements Strategy.
func (s ConflictAware) Resolve(_ context.Context, batch []ActionProposal, shared map[string]any) ([]Decision, []ResourceConflict, error) {
	var conflicts []ResourceConflict
	for _, d := range s.Detectors {
		conflicts = append(conflicts, d.Detect(batch, shared)...)
	}

	byAgent := make(map[string]ActionProposal, len(batch))
	for _, p := range batch {
		byAgent[p.AgentID] = p
	}

	inConflict := map[string]bool{}
	verdict := map[string]*Decision{}

	for _, c := range conflicts {
		contenders := make([]ActionProposal, 0, len(c.AgentIDs))
		for _, id := range c.AgentIDs {
			inConflict[id] = true
			contenders = append(contenders, byAgent[id])
		}

		if s.Resolver == nil {
			continue
		}

		for _, d := range s.Resolver.Resolve(c, contenders, shared) {
			if !slices.Contains(c.AgentIDs, d.AgentID) {
				continue
			}

			// A denial in any conflict wins over approvals in others.
			if prev, ok := verdict[d.AgentID]; ok && !prev.Approved {
				continue
			}

			verdict[d.AgentID] = &d
		}
	}

	var out []Decision

	for _, p := range batch {
		if !inConflict[p.AgentID] {
			out = append(out, Decision{AgentID: p.AgentID, Approved: true})
			continue
		}

		if d, ok := verdict[p.AgentID]; ok {
			out = append(out, *d)
		}
	}

	return out, conflicts, nil
}

// CustomFunc is the resolver signature accepted by Custom.
type CustomFunc func(ctx context.Context, batch []ActionProposal, shared map[string]any) ([]Decision, error)

// Custom delegates resolution to an injected function.
type Custom struct {
	Label string
	Fn    CustomFunc
}

// Name implements Strategy.
func (c Custom) Name() string {
	if c.Label == "" {
		return "custom"
	}

	return c.Label
}

// Resolve implements Strategy.
func (c Custom) Resolve(ctx context.Context, batch []ActionProposal, shared map[string]any) ([]Decision, []ResourceConflict, error) {
	d, err := c.Fn(ctx, batch, shared)
	return d, nil, err
}
