package validation

import (
	"fmt"
	"sync"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
)

// Registry maps rule ids to rules so pipelines can be assembled from
// configuration.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates a registry pre-populated with the given rules.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{rules: make(map[string]Rule)}
	for _, rule := range rules {
		r.rules[rule.ID()] = rule
	}

	return r
}

// Register adds or replaces a rule.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID()] = rule
}

// Get looks up a rule by id.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]

	return rule, ok
}

// Build assembles a pipeline from rule ids in order. Unknown references are
// reported as configuration errors and skipped rather than failing the build.
func (r *Registry) Build(ids []string, logger logging.Logger) (*Pipeline, []error) {
	logger = logging.OrNoOp(logger)

	var (
		rules []Rule
		errs  []error
	)

	for _, id := range ids {
		rule, ok := r.Get(id)
		if !ok {
			err := core.NewConfigurationError("validation", "unknown rule reference %q", id)
			logger.Error("Skipping unknown rule", "rule_id", id, "error", err.Error())
			errs = append(errs, err)

			continue
		}

		rules = append(rules, rule)
	}

	return NewPipeline(rules, func(o *PipelineOptions) { o.Logger = logger }), errs
}

// MustBuild is Build for static wiring in tests and examples.
func (r *Registry) MustBuild(ids ...string) *Pipeline {
	p, errs := r.Build(ids, nil)
	if len(errs) > 0 {
		panic(fmt.Sprintf("validation: %v", errs))
	}

	return p
}
