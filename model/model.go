package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Request captures the normalized model input produced by a proposer adapter.
type Request struct {
	System string `json:"system,omitempty"` // Instructions for the model
	Prompt string `json:"prompt"`           // User-turn prompt text
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion returned by a model.
type Response struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface required by proposer adapters to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Canned responses keyed by prompt take precedence; otherwise queued
// responses are returned in order and the last one repeats.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []string
	next      int
	calls     int
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends completions returned in order for prompts without a canned response.
func (m *MockModel) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Prompt == "" {
		return nil, fmt.Errorf("no prompt provided")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++

	text, ok := m.responses[req.Prompt]
	if !ok {
		switch {
		case len(m.queue) == 0:
			text = fmt.Sprintf("Mock response to: %s", req.Prompt)
		case m.next < len(m.queue):
			text = m.queue[m.next]
			m.next++
		default:
			text = m.queue[len(m.queue)-1]
		}
	}

	promptTokens := len(strings.Fields(req.System + " " + req.Prompt))
	completionTokens := len(strings.Fields(text))

	return &Response{
		ID:           fmt.Sprintf("mock-%d", idx),
		Text:         text,
		FinishReason: "stop",
		Usage: &TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
