package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONAxes(t *testing.T) {
	in := `{"lr": [1e-4, 1e-5], "crf": [true, false], "weight_decay": [null, 1e-7]}`
	axes, err := ParseJSONAxes(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-4, 1e-5}, axes.LR)
	assert.Equal(t, []bool{true, false}, axes.CRF)
	require.Len(t, axes.WeightDecay, 2)
	assert.Nil(t, axes.WeightDecay[0])
	assert.Equal(t, 1e-7, *axes.WeightDecay[1])
}

func TestParseJSONAxesMalformed(t *testing.T) {
	_, err := ParseJSONAxes(strings.NewReader(`{"lr": "not-a-list"}`))
	assert.Error(t, err)
}

func TestParseYAMLAxes(t *testing.T) {
	in := `
lr:
  - 1.0e-4
  - 1.0e-5
crf:
  - true
random_seed:
  - 42
  - 7
`
	axes, err := ParseYAMLAxes(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-4, 1e-5}, axes.LR)
	assert.Equal(t, []bool{true}, axes.CRF)
	assert.Equal(t, []int{42, 7}, axes.RandomSeed)
}

func TestParseYAMLAxesMalformed(t *testing.T) {
	_, err := ParseYAMLAxes(strings.NewReader("lr: {broken"))
	assert.Error(t, err)
}
