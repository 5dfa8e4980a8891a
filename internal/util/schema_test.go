package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type demandParams struct {
	MagnitudePct float64  `json:"magnitude_pct" minimum:"0" maximum:"30" description:"Demand change"`
	Crop         string   `json:"crop,omitempty" enum:"corn, wheat"`
	Note         *string  `json:"note"`
	Ignored      string   `json:"-"`
	Tags         []string `json:"tags,omitempty"`
	hidden       int
}

func TestCreateSchema(t *testing.T) {
	s := CreateSchema(demandParams{})

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 4)

	mag := props["magnitude_pct"].(map[string]any)
	assert.Equal(t, "number", mag["type"])
	assert.Equal(t, 0.0, mag["minimum"])
	assert.Equal(t, 30.0, mag["maximum"])
	assert.Equal(t, "Demand change", mag["description"])

	crop := props["crop"].(map[string]any)
	assert.Equal(t, []string{"corn", "wheat"}, crop["enum"])

	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
	assert.Equal(t, []string{"magnitude_pct"}, s["required"])

	assert.Equal(t, "object", CreateSchema(42)["type"])
	assert.Equal(t, "object", CreateSchema(nil)["type"])
}
