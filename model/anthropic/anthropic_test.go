package anthropic

import (
	"testing"

	"github.com/hupe1980/govmesh/model"
	"github.com/stretchr/testify/assert"
)

var _ model.Model = (*Model)(nil)

func TestNewModel_Options(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.MaxTokens = 256
	})

	assert.Equal(t, "anthropic", m.Info().Provider)

	params := m.buildParams(model.Request{System: "rules", Prompt: "decide"})
	assert.Equal(t, int64(256), params.MaxTokens)
	assert.Len(t, params.Messages, 1)
	assert.Len(t, params.System, 1)

	params = m.buildParams(model.Request{Prompt: "decide"})
	assert.Empty(t, params.System)
}
