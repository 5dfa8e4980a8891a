package audit

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the OpenTelemetry scope of every instrument.
const InstrumentationName = "github.com/hupe1980/govmesh/audit"

// ErrCollectorFlushed is returned for writes after Flush.
var ErrCollectorFlushed = errors.New("audit collector already flushed")

// PhaseStats summarises one closed phase.
type PhaseStats struct {
	Phase       int
	Agents      int
	Failures    int
	Resolutions int
	Denied      int
	Unresolved  int
	Findings    int
	Duration    time.Duration
}

// Summary is the in-process view of a run.
type Summary struct {
	RunID             string         `json:"run_id"`
	Steps             int            `json:"steps"`
	Outcomes          map[string]int `json:"outcomes"`
	CacheHits         int            `json:"cache_hits"`
	FormatFailures    int            `json:"format_failures"`
	GovernanceRetries int            `json:"governance_retries"`
	ProposerCalls     int            `json:"proposer_calls"`
	Tokens            int            `json:"tokens"`
	ExecutionFailures int            `json:"execution_failures"`
	Phases            int            `json:"phases"`
	AgentFailures     int            `json:"agent_failures"`
	Denied            int            `json:"denied"`
	Unresolved        int            `json:"unresolved"`
	Findings          int            `json:"findings"`
	SinkErrors        int            `json:"sink_errors"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at,omitzero"`
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	// Meter defaults to the global meter provider.
	Meter metric.Meter
	// Sink receives every trace after it is counted; nil keeps counts only.
	Sink   core.AuditSink
	Logger logging.Logger
}

// Collector is a per-run audit sink with metrics. It is safe for concurrent use.
type Collector struct {
	runID  string
	sink   core.AuditSink
	logger logging.Logger

	decisions     metric.Int64Counter
	retries       metric.Int64Counter
	proposerCalls metric.Int64Counter
	tokens        metric.Int64Counter
	cacheHits     metric.Int64Counter
	phases        metric.Int64Counter
	resolutions   metric.Int64Counter
	phaseDuration metric.Float64Histogram

	mu      sync.Mutex
	summary Summary
	flushed bool
}

var _ core.AuditSink = (*Collector)(nil)

// NewCollector creates the collector for one run.
func NewCollector(runID string, optFns ...func(o *CollectorOptions)) (*Collector, error) {
	opts := CollectorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Meter == nil {
		opts.Meter = otel.Meter(InstrumentationName)
	}

	c := &Collector{
		runID:  runID,
		sink:   opts.Sink,
		logger: logging.OrNoOp(opts.Logger),
		summary: Summary{
			RunID:     runID,
			Outcomes:  map[string]int{},
			StartedAt: time.Now(),
		},
	}

	m := opts.Meter

	var err error

	if c.decisions, err = m.Int64Counter("govmesh.decisions.total",
		metric.WithDescription("Agent-step decisions by outcome"), metric.WithUnit("{decision}")); err != nil {
		return nil, err
	}

	if c.retries, err = m.Int64Counter("govmesh.retries.total",
		metric.WithDescription("Retries by tier"), metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}

	if c.proposerCalls, err = m.Int64Counter("govmesh.proposer.calls.total",
		metric.WithDescription("Proposer invocations"), metric.WithUnit("{call}")); err != nil {
		return nil, err
	}

	if c.tokens, err = m.Int64Counter("govmesh.proposer.tokens.total",
		metric.WithDescription("Prompt plus completion tokens"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}

	if c.cacheHits, err = m.Int64Counter("govmesh.cache.hits.total",
		metric.WithDescription("Decisions served from the decision cache"), metric.WithUnit("{hit}")); err != nil {
		return nil, err
	}

	if c.phases, err = m.Int64Counter("govmesh.phases.total",
		metric.WithDescription("Closed phases"), metric.WithUnit("{phase}")); err != nil {
		return nil, err
	}

	if c.resolutions, err = m.Int64Counter("govmesh.arbiter.resolutions.total",
		metric.WithDescription("Arbitration resolutions by result"), metric.WithUnit("{resolution}")); err != nil {
		return nil, err
	}

	if c.phaseDuration, err = m.Float64Histogram("govmesh.phase.duration.seconds",
		metric.WithDescription("Wall time of a phase"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300)); err != nil {
		return nil, err
	}

	return c, nil
}

// RunID returns the run identifier stamped on every trace.
func (c *Collector) RunID() string { return c.runID }

// WriteTrace implements core.AuditSink: it counts the record and forwards it
// to the configured sink. Sink errors are counted and returned.
func (c *Collector) WriteTrace(ctx context.Context, agentType string, record core.TraceRecord, history []core.Attempt) error {
	c.mu.Lock()
	if c.flushed {
		c.mu.Unlock()
		return ErrCollectorFlushed
	}

	if record.RunID == "" {
		record.RunID = c.runID
	}

	s := &c.summary
	s.Steps++
	s.Outcomes[record.Outcome.String()]++
	s.FormatFailures += record.FormatFailures
	s.GovernanceRetries += record.GovernanceRetries
	s.ProposerCalls += record.Ledger.Calls
	s.Tokens += record.Ledger.TotalTokens()

	if record.CacheHit {
		s.CacheHits++
	}

	if record.Execution != nil && !record.Execution.Success {
		s.ExecutionFailures++
	}
	c.mu.Unlock()

	typeAttr := attribute.String("agent_type", agentType)

	c.decisions.Add(ctx, 1, metric.WithAttributes(typeAttr, attribute.String("outcome", record.Outcome.String())))

	if record.FormatFailures > 0 {
		c.retries.Add(ctx, int64(record.FormatFailures), metric.WithAttributes(attribute.String("tier", "format_repair")))
	}

	if record.GovernanceRetries > 0 {
		c.retries.Add(ctx, int64(record.GovernanceRetries), metric.WithAttributes(attribute.String("tier", "governance_retry")))
	}

	c.proposerCalls.Add(ctx, int64(record.Ledger.Calls), metric.WithAttributes(typeAttr))
	c.tokens.Add(ctx, int64(record.Ledger.TotalTokens()), metric.WithAttributes(typeAttr))

	if record.CacheHit {
		c.cacheHits.Add(ctx, 1, metric.WithAttributes(typeAttr))
	}

	if c.sink == nil {
		return nil
	}

	if err := c.sink.WriteTrace(ctx, agentType, record, history); err != nil {
		c.mu.Lock()
		c.summary.SinkErrors++
		c.mu.Unlock()

		c.logger.Warn("Audit sink write failed", "agent_id", record.AgentID, "step_id", record.StepID, "error", err.Error())

		return err
	}

	return nil
}

// RecordPhase counts a closed phase and its arbitration results.
func (c *Collector) RecordPhase(ctx context.Context, p PhaseStats) {
	c.mu.Lock()
	s := &c.summary
	s.Phases++
	s.AgentFailures += p.Failures
	s.Denied += p.Denied
	s.Unresolved += p.Unresolved
	s.Findings += p.Findings
	c.mu.Unlock()

	c.phases.Add(ctx, 1)
	c.phaseDuration.Record(ctx, p.Duration.Seconds())

	if approved := p.Resolutions - p.Denied; approved > 0 {
		c.resolutions.Add(ctx, int64(approved), metric.WithAttributes(attribute.String("result", "approved")))
	}

	if denied := p.Denied - p.Unresolved; denied > 0 {
		c.resolutions.Add(ctx, int64(denied), metric.WithAttributes(attribute.String("result", "denied")))
	}

	if p.Unresolved > 0 {
		c.resolutions.Add(ctx, int64(p.Unresolved), metric.WithAttributes(attribute.String("result", "unresolved")))
	}
}

// Summary returns a snapshot of the run so far.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.summary
	s.Outcomes = maps.Clone(c.summary.Outcomes)

	return s
}

// Flush ends the run: further writes fail, buffered sinks are flushed and the
// final summary is returned. Flushing twice returns the same summary.
func (c *Collector) Flush(_ context.Context) (Summary, error) {
	c.mu.Lock()
	if !c.flushed {
		c.flushed = true
		c.summary.FinishedAt = time.Now()
	}
	c.mu.Unlock()

	var err error
	if f, ok := c.sink.(Flusher); ok {
		err = f.Flush()
	}

	s := c.Summary()

	c.logger.Info("Run summary", "run_id", c.runID, "steps", s.Steps, "outcomes", s.Outcomes,
		"proposer_calls", s.ProposerCalls, "tokens", s.Tokens, "agent_failures", s.AgentFailures)

	return s, err
}
