// Package arbiter implements phase-level coordination between agents.
//
// Proposals are submitted while a phase runs and resolved together once every
// agent has reported, so conflict detection always sees the complete batch.
// Resolution is delegated to a pluggable Strategy:
//
//   - Passthrough approves everything unmodified.
//   - ConflictAware runs Detectors (for example ResourceLimit) and hands each
//     detected conflict to a Resolver (for example PriorityResolver); proposals
//     outside any conflict are approved.
//   - Custom delegates to an injected function.
//
// Every Resolution carries a natural-language event statement which is
// broadcast on a Bus; a MemoryRelay subscribes to the bus and writes those
// statements into agent memory for the next step. Typed artifacts submitted
// during the phase are merged with the resolutions into a per-round Bundle,
// persisted to an ArtifactStore and analysed by non-gating cross-agent checks.
//
// A proposal the strategy leaves undecided is a ConflictUnresolved signal: its
// Resolution is not approved, carries Unresolved=true and is listed in
// PhaseReport.Unresolved rather than silently dropped. A strategy error leaves
// the whole batch unresolved.
package arbiter
