package caster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lap struct {
	Driver string  `json:"driver"`
	TimeMs float64 `json:"timeMs"`
}

func TestJSONChannelCaster(t *testing.T) {
	c := JSONChannelCaster[lap]{}
	v, err := c.From([]byte(`{"driver":"d1","timeMs":92000,"extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, lap{Driver: "d1", TimeMs: 92000}, v)

	data, err := c.To(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"driver":"d1","timeMs":92000}`, string(data))
}

func TestJSONChannelCasterStrict(t *testing.T) {
	_, err := JSONChannelCaster[lap]{Strict: true}.From([]byte(`{"driver":"d1","extra":1}`))
	assert.Error(t, err)

	_, err = JSONChannelCaster[lap]{}.From([]byte(`{"driver":`))
	assert.Error(t, err)
}

func TestRecast(t *testing.T) {
	v, err := Recast[lap](map[string]any{"driver": "d2", "timeMs": 91000.5})
	require.NoError(t, err)
	assert.Equal(t, lap{Driver: "d2", TimeMs: 91000.5}, v)

	_, err = Recast[lap](map[string]any{"timeMs": "slow"})
	assert.Error(t, err)
}
