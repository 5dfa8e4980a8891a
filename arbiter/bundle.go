package arbiter

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/govmesh/core"
)

// BundleArtifactID is the artifact id under which round bundles are stored.
const BundleArtifactID = "bundle.json"

// Bundle merges a round's artifacts and resolutions.
type Bundle struct {
	Round       int          `json:"round"`
	Artifacts   []Artifact   `json:"artifacts,omitempty"`
	Resolutions []Resolution `json:"resolutions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// RoundScope is the artifact scope for a round.
func RoundScope(round int) string { return fmt.Sprintf("round-%04d", round) }

// SaveBundle persists a bundle as JSON.
func SaveBundle(store core.ArtifactStore, b *Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	return store.Save(RoundScope(b.Round), BundleArtifactID, data)
}

// LoadBundle reads a persisted bundle.
func LoadBundle(store core.ArtifactStore, round int) (*Bundle, error) {
	data, err := store.Get(RoundScope(round), BundleArtifactID)
	if err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}

	return &b, nil
}

// CrossAgentValidator runs a post-hoc, non-gating check over a round bundle.
type CrossAgentValidator interface {
	Name() string
	Check(b *Bundle) []Finding
}

// EchoChamberCheck flags rounds in which a large share of agents converged on
// the same skill.
type EchoChamberCheck struct {
	// Threshold is the share of agents (0..1) that triggers a finding; default 0.8.
	Threshold float64
	// MinAgents is the smallest batch considered; default 3.
	MinAgents int
}

// Name implements CrossAgentValidator.
func (EchoChamberCheck) Name() string { return "echo_chamber" }

// Check implements CrossAgentValidator.
func (c EchoChamberCheck) Check(b *Bundle) []Finding {
	threshold, minAgents := c.Threshold, c.MinAgents
	if threshold <= 0 {
		threshold = 0.8
	}

	if minAgents <= 0 {
		minAgents = 3
	}

	if len(b.Resolutions) < minAgents {
		return nil
	}

	bySkill := map[string][]string{}
	for _, r := range b.Resolutions {
		bySkill[r.Original.SkillName] = append(bySkill[r.Original.SkillName], r.AgentID)
	}

	var findings []Finding

	for _, skill := range slices.Sorted(maps.Keys(bySkill)) {
		agents := bySkill[skill]

		share := float64(len(agents)) / float64(len(b.Resolutions))
		if share >= threshold {
			findings = append(findings, Finding{
				Check:    c.Name(),
				Severity: "warning",
				Message:  fmt.Sprintf("%.0f%% of agents chose %s", share*100, skill),
				AgentIDs: agents,
			})
		}
	}

	return findings
}

// DeadlockCheck flags rounds in which nothing was approved or a proposal was
// left unresolved.
type DeadlockCheck struct{}

// Name implements CrossAgentValidator.
func (DeadlockCheck) Name() string { return "deadlock" }

// Check implements CrossAgentValidator.
func (c DeadlockCheck) Check(b *Bundle) []Finding {
	if len(b.Resolutions) == 0 {
		return nil
	}

	var unresolved, denied []string

	for _, r := range b.Resolutions {
		if r.Unresolved {
			unresolved = append(unresolved, r.AgentID)
		}

		if !r.Approved {
			denied = append(denied, r.AgentID)
		}
	}

	var findings []Finding

	if len(unresolved) > 0 {
		findings = append(findings, Finding{
			Check: c.Name(), Severity: "error",
			Message:  fmt.Sprintf("%d proposal(s) left unresolved by the arbitration strategy", len(unresolved)),
			AgentIDs: unresolved,
		})
	}

	if len(denied) == len(b.Resolutions) {
		findings = append(findings, Finding{
			Check: c.Name(), Severity: "warning",
			Message:  "every proposal in the round was denied",
			AgentIDs: denied,
		})
	}

	return findings
}
