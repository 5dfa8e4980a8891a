package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestMockModel_CannedAndQueued(t *testing.T) {
	m := NewMockModel("mock-1")
	m.AddResponse("fixed", `{"skill":"a"}`)
	m.Enqueue("first", "second")

	ctx := context.Background()

	resp, err := m.Generate(ctx, Request{Prompt: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, `{"skill":"a"}`, resp.Text)

	resp, err = m.Generate(ctx, Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	resp, err = m.Generate(ctx, Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Text)
	assert.Equal(t, 3, m.Calls())
	require.NotNil(t, resp.Usage)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestMockModel_Errors(t *testing.T) {
	m := NewMockModel("mock-1")

	_, err := m.Generate(context.Background(), Request{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "mock", m.Info().Provider)
}
