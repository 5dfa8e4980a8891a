// Package adapter turns a model.Model into a core.Proposer.
//
// The LLMAdapter rate-limits and times out calls, records token usage, and
// parses free-form completions into proposals through successive layers:
// the whole reply as JSON, a fenced code block, the first embedded JSON
// object, and finally a keyword scan for a known skill name. The layer that
// succeeded is recorded on the proposal together with any parse warnings.
package adapter
