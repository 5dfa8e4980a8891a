// Package core provides the foundational domain types and collaborator
// contracts used by govmesh. It defines the core abstractions for:
//
//   - Proposals (the parsed form of one proposer output for one agent-step)
//   - Verdicts (the result of one rule check against a proposal)
//   - Outcomes and ApprovedActions (the terminal state of a decision cycle)
//   - Decision contexts, cost ledgers and audit trace records
//   - External collaborators (proposer, context builder, execution substrate,
//     audit sink, skill registry, memory and artifact stores)
//
// The package intentionally keeps implementation concerns (validation, caching,
// retries, arbitration) out of scope, exposing small interfaces so every
// component can be swapped or faked in tests.
package core
