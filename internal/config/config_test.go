package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cfg := &Config{DataDir: "data", Metric: "micro/f1"}
	assert.NoError(t, cfg.Validate())

	cfg.Metric = "macro/f1"
	assert.NoError(t, cfg.Validate())

	cfg.Metric = "accuracy"
	assert.Error(t, cfg.Validate())

	cfg = &Config{Metric: "micro/f1"}
	assert.Error(t, cfg.Validate(), "missing data dir")
}

func TestTrackingEnabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.TrackingEnabled())
	cfg.TrackingURI = "http://localhost:5000"
	assert.True(t, cfg.TrackingEnabled())
}

func TestMergeDynamicRoundTrip(t *testing.T) {
	static := Static{
		DataSplit: "train",
		Model:     "linear",
		BatchSize: 32,
		Epoch:     10,
		MaxLength: 128,
	}
	dyn := Dynamic{
		LR:                        1e-4,
		CRF:                       true,
		RandomSeed:                7,
		WeightDecay:               Float(1e-7),
		GradientAccumulationSteps: 4,
	}

	merged := Merge(static, dyn)
	assert.Equal(t, "train", merged.DataSplit)
	assert.Equal(t, 10, merged.Epoch)
	assert.True(t, EqualJSON(dyn, merged.Dynamic()))
}

func TestEqualJSON(t *testing.T) {
	a := Training{LR: 1e-4, WeightDecay: Float(0.1)}
	b := Training{LR: 1e-4, WeightDecay: Float(0.1)}
	assert.True(t, EqualJSON(a, b), "distinct pointers to equal values")

	b.WeightDecay = nil
	assert.False(t, EqualJSON(a, b), "nil and non-nil differ")

	b.WeightDecay = Float(0.2)
	assert.False(t, EqualJSON(a, b))
}

func TestTrainingSaveLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := Training{
		DataSplit:                 "train",
		Model:                     "linear",
		CRF:                       true,
		MaxLength:                 64,
		Epoch:                     5,
		BatchSize:                 16,
		LR:                        1e-5,
		RandomSeed:                1,
		GradientAccumulationSteps: 2,
		MaxGradNorm:               Float(10),
	}
	path := filepath.Join(dir, TrainingFile)
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadTraining(path)
	require.NoError(t, err)
	assert.True(t, EqualJSON(cfg, loaded))
	assert.Nil(t, loaded.WeightDecay)
	require.NotNil(t, loaded.MaxGradNorm)
	assert.Equal(t, 10.0, *loaded.MaxGradNorm)
}

func TestWriteJSONCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "out.json")
	require.NoError(t, WriteJSON(path, map[string]int{"x": 1}))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, 1, got["x"])

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive")
}

func TestReadJSONMissingFile(t *testing.T) {
	var got map[string]int
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.Error(t, err)
}
