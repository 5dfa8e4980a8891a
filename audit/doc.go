// Package audit records what every agent-step decided and why.
//
// A Collector is created per run, counts outcomes, retries, proposer cost and
// arbitration results on OpenTelemetry instruments, forwards each trace to a
// core.AuditSink and is flushed once when the run ends. MemorySink keeps
// traces in process; JSONLSink appends them to a JSON-lines file.
package audit
