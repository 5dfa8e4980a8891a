// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer BrokerLogger with contextual
// helpers (component, agent, step) and domain specific helpers for proposer
// calls, retries and phases.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string ("debug", "info", ...) into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface used across govmesh.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// BrokerLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. With* methods return cheap copies.
type BrokerLogger struct {
	logger    *slog.Logger
	level     LogLevel
	attrs     []slog.Attr
	component string
	agentID   string
	stepID    *int
}

// LoggerConfig configures construction of a BrokerLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a BrokerLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *BrokerLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}

	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &BrokerLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *BrokerLogger) clone() *BrokerLogger {
	nl := *l
	nl.attrs = append([]slog.Attr(nil), l.attrs...)

	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *BrokerLogger) WithContext(key string, value any) *BrokerLogger {
	nl := l.clone()
	nl.attrs = append(nl.attrs, slog.Any(key, value))

	return nl
}

// WithComponent sets the logical component (broker, retry, arbiter, ...).
func (l *BrokerLogger) WithComponent(c string) *BrokerLogger {
	nl := l.clone()
	nl.component = c

	return nl
}

// WithAgent attaches the agent and step identifiers.
func (l *BrokerLogger) WithAgent(agentID string, stepID int) *BrokerLogger {
	nl := l.clone()
	nl.agentID = agentID
	nl.stepID = &stepID

	return nl
}

func (l *BrokerLogger) buildAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+3+len(args)/2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}

	if l.agentID != "" {
		attrs = append(attrs, slog.String("agent_id", l.agentID))
	}

	if l.stepID != nil {
		attrs = append(attrs, slog.Int("step_id", *l.stepID))
	}

	attrs = append(attrs, l.attrs...)

	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}

		attrs = append(attrs, slog.Any(key, args[i+1]))
	}

	return attrs
}

func (l *BrokerLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}

	l.logger.LogAttrs(context.Background(), level, msg, l.buildAttrs(args)...)
}

// Debug logs at debug level. Args are alternating key/value pairs.
func (l *BrokerLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *BrokerLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *BrokerLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *BrokerLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// LogProposerCall records proposer latency, token usage and success.
func (l *BrokerLogger) LogProposerCall(provider string, tokens int, dur time.Duration, success bool, err error) {
	args := []any{"provider", provider, "token_count", tokens, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}

	if !success {
		l.Error("Proposer call failed", args...)
		return
	}

	l.Debug("Proposer call completed", args...)
}

// LogRetry records one retry decision.
func (l *BrokerLogger) LogRetry(tier string, attempt int, ruleIDs []string) {
	l.Info("Retrying proposal", "tier", tier, "attempt", attempt, "rule_ids", ruleIDs)
}

// LogPhase records aggregate phase metrics.
func (l *BrokerLogger) LogPhase(phase int, agents, failures int, dur time.Duration) {
	args := []any{"phase", phase, "agent_count", agents, "failure_count", failures, "duration", dur}
	if failures > 0 {
		l.Warn("Phase completed with failures", args...)
		return
	}

	l.Info("Phase completed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}

	return l
}

// ForAgent scopes l to one agent-step. A BrokerLogger uses WithAgent; any
// other logger gets agent_id and step_id appended to every call.
func ForAgent(l Logger, agentID string, stepID int) Logger {
	switch tl := OrNoOp(l).(type) {
	case *BrokerLogger:
		return tl.WithAgent(agentID, stepID)
	case NoOpLogger:
		return tl
	default:
		return agentLogger{Logger: tl, args: []any{"agent_id", agentID, "step_id", stepID}}
	}
}

type agentLogger struct {
	Logger
	args []any
}

func (a agentLogger) Debug(msg string, args ...any) { a.Logger.Debug(msg, append(args, a.args...)...) }

func (a agentLogger) Info(msg string, args ...any) { a.Logger.Info(msg, append(args, a.args...)...) }

func (a agentLogger) Warn(msg string, args ...any) { a.Logger.Warn(msg, append(args, a.args...)...) }

func (a agentLogger) Error(msg string, args ...any) { a.Logger.Error(msg, append(args, a.args...)...) }
