// Package artifact contains core.ArtifactStore implementations used to
// persist per-round artifact bundles. Artifacts are opaque byte blobs grouped
// by scope (one scope per simulation round, see arbiter.RoundScope).
//
// InMemoryStore suits tests and single-process runs; SQLiteStore keeps
// bundles across restarts for post-hoc analysis.
package artifact
