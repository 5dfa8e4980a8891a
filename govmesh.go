// Package govmesh provides a high-level façade that wires a governance broker
// from a typed configuration. Most applications interact with this package by:
//  1. Loading a config.Config (config.Load or config.Default)
//  2. Creating a Mesh via New(), optionally injecting a proposer, model,
//     executor, extra rules or an arbitration strategy
//  3. Seeding agents into Mesh.Store and running steps through Mesh.Engine
//     (or single decisions through Mesh.Broker)
//
// Every collaborator not injected is built from configuration: in-memory
// stores by default, SQLite files, a JSON-lines audit log and a NATS bus when
// their paths or URLs are set. Close releases whatever New opened.
package govmesh

import (
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/govmesh/adapter"
	"github.com/hupe1980/govmesh/arbiter"
	"github.com/hupe1980/govmesh/artifact"
	"github.com/hupe1980/govmesh/audit"
	"github.com/hupe1980/govmesh/broker"
	"github.com/hupe1980/govmesh/cache"
	"github.com/hupe1980/govmesh/config"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/engine"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/memory"
	"github.com/hupe1980/govmesh/model"
	"github.com/hupe1980/govmesh/model/anthropic"
	"github.com/hupe1980/govmesh/model/openai"
	"github.com/hupe1980/govmesh/retry"
	"github.com/hupe1980/govmesh/skill"
	"github.com/hupe1980/govmesh/state"
	"github.com/hupe1980/govmesh/validation"
	"go.opentelemetry.io/otel/metric"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
)

// Options are the collaborators a Mesh does not build from configuration.
type Options struct {
	// Proposer replaces the model-backed adapter entirely.
	Proposer core.Proposer
	// Model replaces the provider selected by config.Proposer.
	Model model.Model
	// Executor defaults to a state.Executor over Store; register handlers on
	// Mesh.Executor when it is not replaced.
	Executor core.Executor
	Builder  core.ContextBuilder
	// Rules are appended after the skill registry and configured CEL rules.
	Rules []validation.Rule
	// Strategy replaces the configured arbitration strategy.
	Strategy   arbiter.Strategy
	Statements arbiter.StatementGenerator
	// Validators default to echo-chamber and deadlock checks.
	Validators []arbiter.CrossAgentValidator
	// Sink replaces the configured audit sink.
	Sink   core.AuditSink
	Meter  metric.Meter
	Logger logging.Logger
}

// Mesh is a fully wired governance broker and its supporting stores.
type Mesh struct {
	Config   config.Config
	Skills   *skill.Registry
	Rules    *validation.Registry
	Pipeline *validation.Pipeline
	Proposer core.Proposer
	Cache    *cache.DecisionCache
	Arbiter  *arbiter.Arbiter
	Broker   *broker.Broker
	Store    *state.InMemoryStore
	Memory   *memory.InMemoryStore
	// Executor is nil when Options.Executor replaced the default.
	Executor *state.Executor
	Sink     core.AuditSink

	opts    Options
	logger  logging.Logger
	closers []io.Closer
}

// New validates cfg and wires a Mesh. On error everything opened so far is
// closed again.
func New(cfg config.Config, optFns ...func(o *Options)) (_ *Mesh, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{Config: cfg, opts: opts, logger: opts.Logger}
	if m.logger == nil {
		m.logger = cfg.NewLogger().WithComponent("govmesh")
	}

	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	m.Store = state.NewInMemoryStore(nil)
	m.Memory = memory.NewInMemoryStore()

	if err := m.wireSkills(); err != nil {
		return nil, err
	}

	if err := m.wireRules(); err != nil {
		return nil, err
	}

	if err := m.wireProposer(); err != nil {
		return nil, err
	}

	if err := m.wireCache(); err != nil {
		return nil, err
	}

	if err := m.wireArbiter(); err != nil {
		return nil, err
	}

	if err := m.wireAudit(); err != nil {
		return nil, err
	}

	if err := m.wireBroker(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Mesh) wireSkills() error {
	reg, err := skill.NewRegistry(func(o *skill.Options) {
		o.DefaultSkill = m.Config.Skills.Default
		o.Logger = m.logger
	})
	if err != nil {
		return err
	}

	for _, s := range m.Config.Skills.Definitions {
		if err := reg.Register(s); err != nil {
			return err
		}
	}

	if err := reg.Validate(); err != nil {
		m.logger.Warn("Skill registry incomplete; rejected steps will fail execution", "error", err.Error())
	}

	m.Skills = reg

	return nil
}

func (m *Mesh) wireRules() error {
	ev, err := validation.NewCELEvaluator()
	if err != nil {
		return err
	}

	m.Rules = validation.NewRegistry(validation.SkillRule{Registry: m.Skills})
	ids := []string{validation.SkillRule{}.ID()}

	for _, r := range m.Config.Rules {
		if err := ev.Compile(r.Expr); err != nil {
			return core.NewConfigurationError("govmesh", "rule %q: %v", r.ID, err)
		}

		m.Rules.Register(validation.CELRule{
			RuleID:        r.ID,
			Expr:          r.Expr,
			Skills:        r.Skills,
			Deterministic: r.Deterministic,
			Message:       r.Message,
			Suggestion:    r.Suggestion,
			Evaluator:     ev,
		})
		ids = append(ids, r.ID)
	}

	for _, r := range m.opts.Rules {
		m.Rules.Register(r)
		ids = append(ids, r.ID())
	}

	pipeline, errs := m.Rules.Build(ids, m.logger)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	m.Pipeline = pipeline

	return nil
}

func (m *Mesh) wireProposer() error {
	if m.opts.Proposer != nil {
		m.Proposer = m.opts.Proposer
		return nil
	}

	mdl := m.opts.Model
	if mdl == nil {
		var err error
		if mdl, err = newModel(m.Config.Proposer); err != nil {
			return err
		}
	}

	pc := m.Config.Proposer

	m.Proposer = adapter.New(mdl, func(o *adapter.Options) {
		o.System = pc.System
		o.RequestsPerSecond = pc.RequestsPerSecond
		o.Skills = m.Skills.Names()
		o.Logger = m.logger
	})

	return nil
}

func newModel(pc config.Proposer) (model.Model, error) {
	switch pc.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if pc.Model != "" {
				o.Model = pc.Model
			}

			if pc.Temperature != nil {
				o.Temperature = *pc.Temperature
			}

			if pc.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(pc.MaxTokens)
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if pc.Model != "" {
				o.Model = anthropicsdk.Model(pc.Model)
			}

			if pc.Temperature != nil {
				o.Temperature = *pc.Temperature
			}

			if pc.MaxTokens > 0 {
				o.MaxTokens = int64(pc.MaxTokens)
			}
		}), nil
	case config.ProviderMock:
		return model.NewMockModel("mock"), nil
	default:
		return nil, core.NewConfigurationError("govmesh", "unsupported proposer provider %q", pc.Provider)
	}
}

func (m *Mesh) wireCache() error {
	if !m.Config.Cache.Enabled {
		return nil
	}

	var store cache.Store = cache.NewInMemoryStore()

	if m.Config.Cache.Path != "" {
		s, err := cache.OpenSQLiteStore(m.Config.Cache.Path)
		if err != nil {
			return fmt.Errorf("open decision cache: %w", err)
		}

		m.closers = append(m.closers, s)
		store = s
	}

	m.Cache = cache.New(m.Pipeline, func(o *cache.Options) {
		o.Store = store
		o.Logger = m.logger
	})

	return nil
}

func (m *Mesh) wireArbiter() error {
	ac := m.Config.Arbiter

	strategy := m.opts.Strategy
	if strategy == nil && ac.Strategy == config.StrategyConflictAware {
		detectors := make([]arbiter.Detector, 0, len(ac.Resources))
		for _, r := range ac.Resources {
			detectors = append(detectors, arbiter.ResourceLimit{
				Resource: r.Name, Skills: r.Skills, Limit: r.Limit, LimitKey: r.LimitKey,
			})
		}

		strategy = arbiter.ConflictAware{
			Detectors: detectors,
			Resolver:  arbiter.PriorityResolver{Precedence: ac.Precedence, TieBreakSeed: ac.TieBreakSeed},
		}
	}

	var bus arbiter.Bus = arbiter.NewInMemoryBus()

	if ac.NATSURL != "" {
		nb, err := arbiter.DialNATS(ac.NATSURL, func(o *arbiter.NATSOptions) { o.Logger = m.logger })
		if err != nil {
			return fmt.Errorf("connect resolution bus: %w", err)
		}

		bus = nb
	}

	m.closers = append(m.closers, bus)

	var artifacts core.ArtifactStore = artifact.NewInMemoryStore()

	if ac.ArtifactPath != "" {
		s, err := artifact.OpenSQLiteStore(ac.ArtifactPath)
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}

		m.closers = append(m.closers, s)
		artifacts = s
	}

	validators := m.opts.Validators
	if validators == nil {
		validators = []arbiter.CrossAgentValidator{arbiter.EchoChamberCheck{}, arbiter.DeadlockCheck{}}
	}

	m.Arbiter = arbiter.New(func(o *arbiter.Options) {
		if strategy != nil {
			o.Strategy = strategy
		}

		if m.opts.Statements != nil {
			o.Statements = m.opts.Statements
		}

		o.Bus = bus
		o.Artifacts = artifacts
		o.Validators = validators
		o.Logger = m.logger
	})

	relay := arbiter.NewMemoryRelay(m.Memory, m.Store.AgentIDs, m.logger)
	if _, err := relay.Attach(bus); err != nil {
		return fmt.Errorf("attach memory relay: %w", err)
	}

	return nil
}

func (m *Mesh) wireAudit() error {
	switch {
	case m.opts.Sink != nil:
		m.Sink = m.opts.Sink
	case m.Config.Audit.Path != "":
		s, err := audit.OpenJSONLSink(m.Config.Audit.Path)
		if err != nil {
			return err
		}

		m.closers = append(m.closers, s)
		m.Sink = s
	default:
		m.Sink = audit.NewMemorySink()
	}

	return nil
}

func (m *Mesh) wireBroker() error {
	builder := m.opts.Builder
	if builder == nil {
		builder = &state.ContextBuilder{Store: m.Store, Memory: m.Memory, Skills: m.Skills.Names()}
	}

	executor := m.opts.Executor
	if executor == nil {
		m.Executor = state.NewExecutor(m.Store, m.logger)
		executor = m.Executor
	}

	rc := m.Config.Retry

	b, err := broker.New(broker.Deps{
		Builder:   builder,
		Proposer:  m.Proposer,
		Validator: m.Pipeline,
		Skills:    m.Skills,
		Executor:  executor,
	}, func(o *broker.Options) {
		o.Retry = retry.Options{
			FormatRepairAttempts: rc.FormatRepairAttempts,
			MaxRetries:           rc.MaxRetries,
			MaxReports:           rc.MaxReports,
			RequiredReasoning:    m.Config.Proposer.RequiredReasoning,
			Logger:               m.logger,
		}
		o.Cache = m.Cache
		o.Arbiter = m.Arbiter
		o.Audit = m.Sink
		o.Workers = m.Config.Phase.Workers
		o.FallbackOnUnknown = m.Config.Skills.FallbackOnUnknown
		o.Logger = m.logger
	})
	if err != nil {
		return err
	}

	m.Broker = b

	return nil
}

// Engine creates a simulation engine over the mesh's broker and agent store.
func (m *Mesh) Engine(world engine.World, optFns ...func(o *engine.Options)) *engine.Engine {
	base := func(o *engine.Options) {
		o.ShuffleAgents = m.Config.Phase.ShuffleAgents
		o.Seed = m.Config.Phase.Seed
		o.Sink = m.Sink
		o.Meter = m.opts.Meter
		o.Logger = m.logger
	}

	return engine.New(m.Broker, world, m.Store, append([]func(o *engine.Options){base}, optFns...)...)
}

// Close releases files and connections opened by New, in reverse order.
func (m *Mesh) Close() error {
	var errs []error

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.closers = nil

	return errors.Join(errs...)
}
