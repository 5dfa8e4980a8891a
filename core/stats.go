package core

import "time"

// CallStats is the cost of a single proposer invocation.
type CallStats struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`
}

// CostLedger accumulates the cost of every proposer call made for one logical
// step, across format repairs and governance retries.
type CostLedger struct {
	Calls            int           `json:"calls"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`
}

// Add records one call.
func (l *CostLedger) Add(s CallStats) {
	l.Calls++
	l.PromptTokens += s.PromptTokens
	l.CompletionTokens += s.CompletionTokens
	l.Latency += s.Latency
}

// TotalTokens returns prompt plus completion tokens.
func (l CostLedger) TotalTokens() int { return l.PromptTokens + l.CompletionTokens }
