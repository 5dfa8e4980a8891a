package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/validation"
)

// Hit is a cached proposal that passed re-validation against the current context.
type Hit struct {
	Fingerprint string
	Proposal    *core.Proposal
	Verdicts    []core.Verdict
	Source      core.Outcome
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Writes        int64
}

// Options configures a DecisionCache.
type Options struct {
	Store  Store
	Logger logging.Logger
}

// DecisionCache wraps a Store with fingerprinting, hit re-validation and
// approved-only writes.
type DecisionCache struct {
	store     Store
	validator validation.Validator
	logger    logging.Logger

	hits, misses, invalidations, writes atomic.Int64
}

// New creates a decision cache. The validator re-checks every hit.
func New(validator validation.Validator, optFns ...func(o *Options)) *DecisionCache {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}

	return &DecisionCache{store: opts.Store, validator: validator, logger: logging.OrNoOp(opts.Logger)}
}

// Lookup fingerprints the context and returns a re-validated hit, if any. A
// cached proposal that no longer passes is evicted and reported as a miss.
// Store errors degrade to misses; only fingerprinting errors are returned.
func (c *DecisionCache) Lookup(ctx context.Context, dctx core.DecisionContext) (string, *Hit, error) {
	fp, err := ComputeHash(dctx)
	if err != nil {
		return "", nil, err
	}

	entry, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.logger.Warn("Cache read failed", "fingerprint", fp, "error", err.Error())
	}

	if err != nil || !ok || entry.Proposal == nil {
		c.misses.Add(1)
		return fp, nil, nil
	}

	prop := entry.Proposal.WithAgent(dctx.AgentID)
	verdicts := c.validator.Validate(ctx, prop, dctx)

	if !core.AllValid(verdicts) {
		c.invalidations.Add(1)
		c.misses.Add(1)

		c.logger.Info("Cached decision failed re-validation, evicting",
			"fingerprint", fp, "agent_id", dctx.AgentID,
			"rule_ids", core.NewBlockingRuleSet(verdicts).IDs())

		deleted, err := c.store.DeleteIf(ctx, fp, entry.CreatedAt)

		switch {
		case err != nil:
			c.logger.Warn("Cache eviction failed", "fingerprint", fp, "error", err.Error())
		case !deleted:
			c.logger.Debug("Cache entry replaced before eviction, keeping it", "fingerprint", fp)
		}

		return fp, nil, nil
	}

	c.hits.Add(1)

	return fp, &Hit{Fingerprint: fp, Proposal: prop, Verdicts: verdicts, Source: entry.Outcome}, nil
}

// Record stores a proposal under fingerprint. Only APPROVED and RETRY_SUCCESS
// outcomes are cached; anything else is ignored.
func (c *DecisionCache) Record(ctx context.Context, fingerprint string, dctx core.DecisionContext, p *core.Proposal, outcome core.Outcome) error {
	if fingerprint == "" || p == nil || !outcome.Approved() {
		return nil
	}

	err := c.store.Put(ctx, &Entry{
		Fingerprint: fingerprint,
		AgentType:   dctx.AgentType,
		Proposal:    p,
		Outcome:     outcome,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return err
	}

	c.writes.Add(1)

	return nil
}

// Invalidate removes a fingerprint.
func (c *DecisionCache) Invalidate(ctx context.Context, fingerprint string) error {
	c.invalidations.Add(1)
	return c.store.Delete(ctx, fingerprint)
}

// Stats returns a snapshot of the counters.
func (c *DecisionCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Writes:        c.writes.Load(),
	}
}

// Get returns the raw entry for a fingerprint without re-validation.
func (c *DecisionCache) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	return c.store.Get(ctx, fingerprint)
}

// Put stores an entry unconditionally.
func (c *DecisionCache) Put(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if err := c.store.Put(ctx, e); err != nil {
		return err
	}

	c.writes.Add(1)

	return nil
}
