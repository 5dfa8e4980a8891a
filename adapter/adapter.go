package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/model"
	"golang.org/x/time/rate"
)

// Options configures an LLMAdapter.
type Options struct {
	// System is sent as the system instruction on every call.
	System string
	// Timeout bounds one model call; zero disables it.
	Timeout time.Duration
	// RequestsPerSecond limits call throughput across all workers; zero disables it.
	RequestsPerSecond float64
	Burst             int
	// DecisionKeys are the JSON keys searched for the chosen skill, in order.
	DecisionKeys []string
	// ReasoningKeys are top-level keys copied into the reasoning map (for
	// example construct ratings such as "threat_appraisal").
	ReasoningKeys []string
	// Skills enables the keyword layer and skill-name normalization.
	Skills []string
	// Aliases maps alternative labels to registered skill names.
	Aliases map[string]string
	Logger  logging.Logger
}

// LLMAdapter implements core.Proposer over a model.Model.
type LLMAdapter struct {
	model   model.Model
	limiter *rate.Limiter
	opts    Options
}

var _ core.Proposer = (*LLMAdapter)(nil)

// New creates an adapter.
func New(m model.Model, optFns ...func(o *Options)) *LLMAdapter {
	opts := Options{
		Timeout:      60 * time.Second,
		DecisionKeys: []string{"decision", "skill", "action", "choice"},
		Burst:        1,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	a := &LLMAdapter{model: m, opts: opts}
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		a.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return a
}

// Invoke implements core.Proposer.
func (a *LLMAdapter) Invoke(ctx context.Context, prompt string) (string, core.CallStats, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", core.CallStats{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)

		defer cancel()
	}

	start := time.Now()
	resp, err := a.model.Generate(ctx, model.Request{System: a.opts.System, Prompt: prompt})
	stats := core.CallStats{Latency: time.Since(start)}

	info := a.model.Info()

	if err == nil && resp.Usage != nil {
		stats.PromptTokens = resp.Usage.PromptTokens
		stats.CompletionTokens = resp.Usage.CompletionTokens
	}

	a.logCall(info, stats, err)

	if err != nil {
		return "", stats, err
	}

	return resp.Text, stats, nil
}

func (a *LLMAdapter) logCall(info model.Info, stats core.CallStats, err error) {
	tokens := stats.PromptTokens + stats.CompletionTokens

	if bl, ok := a.opts.Logger.(*logging.BrokerLogger); ok {
		bl.WithContext("model", info.Name).LogProposerCall(info.Provider, tokens, stats.Latency, err == nil, err)
		return
	}

	if err != nil {
		a.opts.Logger.Warn("Proposer call failed", "provider", info.Provider, "model", info.Name,
			"duration", stats.Latency, "error", err.Error())

		return
	}

	a.opts.Logger.Debug("Proposer call completed", "provider", info.Provider, "model", info.Name,
		"tokens", tokens, "duration", stats.Latency)
}

// FormatRetryPrompt implements core.Proposer.
func (a *LLMAdapter) FormatRetryPrompt(original string, reports []core.ViolationReport, maxReports int) string {
	return original + "\n\n" + RenderReports(reports, maxReports)
}
