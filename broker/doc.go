// Package broker wires the governance components into the per-agent decision
// cycle and the per-phase coordination cycle.
//
// # Decision cycle
//
// Decide is the unit of work a worker runs for one agent-step:
//
//	context -> decision cache -> proposer + validation pipeline under the
//	retry controller -> outcome assembly -> cache write
//
// It never executes anything. Commit takes a Decision, dispatches exactly one
// action to the execution substrate and writes exactly one audit trace. Step
// runs Decide and Commit back to back for callers that do not coordinate
// agents.
//
// # Outcomes
//
//   - APPROVED: every rule passed without governance retries.
//   - RETRY_SUCCESS: every rule passed after one or more governance retries.
//   - REJECTED: the proposer's known choice stayed blocked; the fallback
//     skill executes instead.
//   - REJECTED_FALLBACK: the proposer never named a known skill; the
//     fallback skill executes instead.
//   - ABORTED: no proposal was ever parsed; a no-op action is dispatched.
//
// A missing fallback skill is a configuration error. It is logged and
// recorded on the trace, the action is still dispatched and the execution
// result is forced to success=false.
//
// # Phases
//
// RunPhase processes a batch of agents on a bounded worker pool. Every worker
// runs Decide; a worker that fails or panics is logged and excluded from the
// phase without affecting its siblings. Once every worker has returned, the
// approved decisions are submitted to the arbiter, denied decisions fall back
// to REJECTED with a coordination_denied verdict and all surviving decisions
// are committed sequentially in input order.
package broker
