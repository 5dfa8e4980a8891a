// Package cache implements the decision cache: a fingerprint-keyed store of
// previously approved proposals that lets the broker skip the proposer for
// decision situations it has already resolved.
//
// Fingerprints are SHA-256 digests of the RFC 8785 canonical JSON form of a
// context's hash material, so logically equal contexts share a key regardless
// of map ordering. A hit is never trusted blindly: the cached proposal is
// re-validated against the current context and evicted when it no longer
// passes.
package cache
