package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/hupe1980/govmesh/core"
)

// ComputeHash returns the canonical fingerprint of a decision context.
func ComputeHash(dctx core.DecisionContext) (string, error) {
	raw, err := json.Marshal(dctx.HashMaterial())
	if err != nil {
		return "", fmt.Errorf("marshal hash material: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize hash material: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}
