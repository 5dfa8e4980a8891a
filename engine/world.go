package engine

import (
	"context"
	"maps"
)

// World is the simulation substrate advanced once per step.
type World interface {
	AdvanceStep(ctx context.Context, step int) error
}

// WorldFunc adapts a function into a World.
type WorldFunc func(ctx context.Context, step int) error

// AdvanceStep implements World.
func (f WorldFunc) AdvanceStep(ctx context.Context, step int) error { return f(ctx, step) }

// SharedStater is an optional World capability: it supplies the shared state
// handed to the arbitration strategy of a step.
type SharedStater interface {
	SharedState(step int) map[string]any
}

// AnnualWorld is a world that advances in years.
type AnnualWorld interface {
	AdvanceYear(ctx context.Context, year int) error
}

// FromAnnual adapts a year-based world: step 1 is startYear. The shared-state
// capability of w is preserved.
func FromAnnual(w AnnualWorld, startYear int) World {
	a := annual{w: w, start: startYear}
	if s, ok := w.(SharedStater); ok {
		return annualShared{annual: a, s: s}
	}

	return a
}

type annual struct {
	w     AnnualWorld
	start int
}

func (a annual) AdvanceStep(ctx context.Context, step int) error {
	return a.w.AdvanceYear(ctx, a.start+step-1)
}

type annualShared struct {
	annual
	s SharedStater
}

func (a annualShared) SharedState(step int) map[string]any {
	return maps.Clone(a.s.SharedState(step))
}
