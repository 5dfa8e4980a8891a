// Package state holds the mutable world a governed simulation acts on: per
// agent attributes, the shared environment and each agent's action log.
//
// ContextBuilder snapshots that world into a core.DecisionContext for the
// broker and Executor applies approved actions back onto it. Snapshots are
// copies; nothing handed out aliases the store's maps.
package state
