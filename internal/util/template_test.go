package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`{{upper .name}} took {{pct .share}} of {{default "water" .resource}}`,
		map[string]any{"name": "farm_1", "share": 12.5})
	require.NoError(t, err)
	assert.Equal(t, "FARM_1 took 12.5% of water", out)

	out, err = RenderTemplate(`{{join ", " .agents}}`, map[string]any{"agents": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a, b", out)

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}
