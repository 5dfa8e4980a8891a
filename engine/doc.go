// Package engine drives a governed simulation run.
//
// An Engine owns one broker, one World and one agent population. Run creates
// the run's audit.Collector, then for every step:
//
//  1. advances the world (World.AdvanceStep),
//  2. orders the population, optionally with a seeded shuffle,
//  3. calls Hooks.BeforePhase,
//  4. runs one broker phase (decide, barrier, arbitrate, commit),
//  5. reports per-agent failures to Hooks.OnAgentError and calls
//     Hooks.AfterPhase.
//
// The collector is flushed when the run ends, successfully or not, and its
// summary is part of the RunReport.
//
// # Worlds
//
// World has exactly one required method. Worlds that think in years are
// adapted once with FromAnnual. Optional capabilities (SharedStater) are
// detected when the engine is constructed, never per step.
//
// # Cancellation
//
// Every active run is registered under its run id; Cancel stops a run from
// another goroutine and the run returns context.Canceled.
package engine
