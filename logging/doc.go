// Package logging provides a minimal logging interface and adapters for govmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the broker, retry controller and arbiter use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - BrokerLogger with agent/step context and proposer/retry/phase helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	b, err := broker.New(deps, func(o *broker.Options) { o.Logger = logger })
//
// The interface stays minimal to avoid vendor lock-in while supporting
// structured logging where available.
package logging
