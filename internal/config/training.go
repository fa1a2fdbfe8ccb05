package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File names persisted inside checkpoint and search directories.
const (
	TrainingFile           = "trainer_config.json"
	AdditionalTrainingFile = "trainer_config.additional_training.json"
	StaticFile             = "config_static.json"
	DynamicFile            = "config_dynamic.json"
	EvalFile               = "config_eval.json"
)

// Training holds the full hyperparameter set of one checkpoint directory.
// It is written once when the directory is created and must not change across
// a resume, except through the additional-training override file which only
// raises the epoch count.
type Training struct {
	DataSplit                 string   `json:"data_split"`
	Model                     string   `json:"model"`
	CRF                       bool     `json:"crf"`
	MaxLength                 int      `json:"max_length"`
	Epoch                     int      `json:"epoch"`
	BatchSize                 int      `json:"batch_size"`
	LR                        float64  `json:"lr"`
	RandomSeed                int      `json:"random_seed"`
	GradientAccumulationSteps int      `json:"gradient_accumulation_steps"`
	WeightDecay               *float64 `json:"weight_decay"`
	LRWarmupStepRatio         *float64 `json:"lr_warmup_step_ratio"`
	MaxGradNorm               *float64 `json:"max_grad_norm"`
}

// Static holds the hyperparameters shared by every configuration in a search.
type Static struct {
	DataSplit string `json:"data_split"`
	Model     string `json:"model"`
	BatchSize int    `json:"batch_size"`
	Epoch     int    `json:"epoch"`
	MaxLength int    `json:"max_length"`
}

// Dynamic is one point of the grid-search Cartesian product.
type Dynamic struct {
	LR                        float64  `json:"lr"`
	CRF                       bool     `json:"crf"`
	RandomSeed                int      `json:"random_seed"`
	WeightDecay               *float64 `json:"weight_decay"`
	LRWarmupStepRatio         *float64 `json:"lr_warmup_step_ratio"`
	MaxGradNorm               *float64 `json:"max_grad_norm"`
	GradientAccumulationSteps int      `json:"gradient_accumulation_steps"`
}

// Eval describes how checkpoints are scored during a search.
type Eval struct {
	MaxLengthEval int    `json:"max_length_eval"`
	Metric        string `json:"metric"`
	DataSplit     string `json:"data_split"`
}

// Merge combines the shared and the per-configuration hyperparameters into a
// complete training config.
func Merge(s Static, d Dynamic) Training {
	return Training{
		DataSplit:                 s.DataSplit,
		Model:                     s.Model,
		CRF:                       d.CRF,
		MaxLength:                 s.MaxLength,
		Epoch:                     s.Epoch,
		BatchSize:                 s.BatchSize,
		LR:                        d.LR,
		RandomSeed:                d.RandomSeed,
		GradientAccumulationSteps: d.GradientAccumulationSteps,
		WeightDecay:               d.WeightDecay,
		LRWarmupStepRatio:         d.LRWarmupStepRatio,
		MaxGradNorm:               d.MaxGradNorm,
	}
}

// Dynamic extracts the grid axes values back out of a training config.
func (t Training) Dynamic() Dynamic {
	return Dynamic{
		LR:                        t.LR,
		CRF:                       t.CRF,
		RandomSeed:                t.RandomSeed,
		WeightDecay:               t.WeightDecay,
		LRWarmupStepRatio:         t.LRWarmupStepRatio,
		MaxGradNorm:               t.MaxGradNorm,
		GradientAccumulationSteps: t.GradientAccumulationSteps,
	}
}

func LoadTraining(path string) (Training, error) {
	var t Training
	if err := ReadJSON(path, &t); err != nil {
		return Training{}, err
	}
	return t, nil
}

func (t Training) Save(path string) error {
	return WriteJSON(path, t)
}

// EqualJSON compares two values through their canonical JSON encoding. This is
// the equality used for all persisted-config sanity checks: a mismatch against
// a previously written config is fatal, never reconciled.
func EqualJSON(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ReadJSON decodes a JSON file into v.
func ReadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, creating parent directories and going
// through a rename so readers never observe a partial file.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Float is a convenience for the nullable hyperparameter fields.
func Float(v float64) *float64 {
	return &v
}
