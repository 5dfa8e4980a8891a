// Package validation implements the ordered rule pipeline every proposal must
// pass before it may reach execution.
//
// A Pipeline runs a fixed, caller-supplied list of Rules against a proposal
// and a flattened validation context (agent state merged with environment
// state, environment winning on collision). It never short-circuits: a single
// pass yields the complete violation set, which retry prompts and audit
// records depend on.
//
// Built-in rules cover skill registry checks (existence, preconditions,
// output schema, composite conflicts), construct thresholds, CEL predicates,
// JSON Schema checks and plain Go predicates. Every verdict states whether its
// triggering condition is deterministic; the retry controller's early exit
// relies on that flag.
package validation
