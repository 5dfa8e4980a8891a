package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/govmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type failingSink struct{}

func (failingSink) WriteTrace(context.Context, string, core.TraceRecord, []core.Attempt) error {
	return errors.New("disk full")
}

func trace(agentID string, outcome core.Outcome) core.TraceRecord {
	return core.TraceRecord{
		ID:      core.NewID(),
		AgentID: agentID,
		Outcome: outcome,
		Ledger:  core.CostLedger{Calls: 2, PromptTokens: 20, CompletionTokens: 10},
	}
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)

			total := int64(0)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}

			return total
		}
	}

	return 0
}

func TestCollector_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sink := NewMemorySink()

	c, err := NewCollector("run-1", func(o *CollectorOptions) {
		o.Meter = provider.Meter(InstrumentationName)
		o.Sink = sink
	})
	require.NoError(t, err)

	ctx := context.Background()

	approved := trace("a", core.OutcomeApproved)
	approved.CacheHit = true

	rejected := trace("b", core.OutcomeRejected)
	rejected.GovernanceRetries = 1
	rejected.FormatFailures = 1
	rejected.Execution = &core.ExecutionResult{Success: false}

	require.NoError(t, c.WriteTrace(ctx, "farmer", approved, nil))
	require.NoError(t, c.WriteTrace(ctx, "farmer", rejected, []core.Attempt{{Index: 0}, {Index: 1}}))
	c.RecordPhase(ctx, PhaseStats{Phase: 1, Agents: 2, Resolutions: 2, Denied: 1})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumOf(t, rm, "govmesh.decisions.total"))
	assert.Equal(t, int64(2), sumOf(t, rm, "govmesh.retries.total"))
	assert.Equal(t, int64(4), sumOf(t, rm, "govmesh.proposer.calls.total"))
	assert.Equal(t, int64(60), sumOf(t, rm, "govmesh.proposer.tokens.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "govmesh.cache.hits.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "govmesh.phases.total"))
	assert.Equal(t, int64(2), sumOf(t, rm, "govmesh.arbiter.resolutions.total"))

	s, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 2, s.Steps)
	assert.Equal(t, map[string]int{"APPROVED": 1, "REJECTED": 1}, s.Outcomes)
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, 1, s.ExecutionFailures)
	assert.Equal(t, 1, s.Denied)
	assert.False(t, s.FinishedAt.IsZero())

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].Record.RunID, "run id is stamped")
	assert.Len(t, sink.ForAgent("b")[0].History, 2)

	assert.ErrorIs(t, c.WriteTrace(ctx, "farmer", approved, nil), ErrCollectorFlushed)
}

func TestCollector_SinkErrorsAreCounted(t *testing.T) {
	c, err := NewCollector("run", func(o *CollectorOptions) { o.Sink = failingSink{} })
	require.NoError(t, err)

	err = c.WriteTrace(context.Background(), "t", trace("a", core.OutcomeApproved), nil)
	require.Error(t, err)
	assert.Equal(t, 1, c.Summary().SinkErrors)
	assert.Equal(t, 1, c.Summary().Steps)
}

func TestJSONLSink(t *testing.T) {
	var buf bytes.Buffer

	s := NewJSONLSink(&buf)
	require.NoError(t, s.WriteTrace(context.Background(), "farmer", trace("a", core.OutcomeRetrySuccess), []core.Attempt{{Index: 0, Tier: "initial"}}))
	require.NoError(t, s.WriteTrace(context.Background(), "trader", trace("b", core.OutcomeAborted), nil))
	require.NoError(t, s.Flush())

	entries, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "farmer", entries[0].AgentType)
	assert.Equal(t, core.OutcomeRetrySuccess, entries[0].Record.Outcome)
	assert.Equal(t, "initial", entries[0].History[0].Tier)
	assert.Equal(t, core.OutcomeAborted, entries[1].Record.Outcome)
}

func TestOpenJSONLSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	for range 2 {
		s, err := OpenJSONLSink(path)
		require.NoError(t, err)
		require.NoError(t, s.WriteTrace(context.Background(), "t", trace("a", core.OutcomeApproved), nil))
		require.NoError(t, s.Flush())
		require.NoError(t, s.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	entries, err := ReadJSONL(f)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
