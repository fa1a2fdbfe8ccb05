// Package model provides the token-classification model consumed by the
// trainer and the grid searcher. The orchestration layers only depend on the
// NER interface; LinearTagger is the built-in implementation, a feature-hashed
// linear tagger with an optional linear-chain CRF output layer.
package model

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/sayakyi/nergrid/internal/dataset"
	"github.com/sayakyi/nergrid/internal/optimize"
)

const weightsFile = "weights.gob"

// DefaultHashDim is the feature hashing space per label.
const DefaultHashDim = 1 << 16

// NER is the model contract the trainer and searcher are written against:
// mode switches, a batched loader with feature caching, a loss entry point
// that accumulates gradients, parameter access for the optimizer, and
// save/evaluate entry points.
type NER interface {
	TrainMode()
	EvalMode()
	UsesCRF() bool
	Loader(split *dataset.Split, opts LoaderOptions) (*Loader, error)
	EncodeToLoss(b *Batch) (float64, error)
	NamedParameters() []*optimize.Parameter
	Save(dir string) error
	Evaluate(split *dataset.Split, opts EvalOptions) (map[string]float64, error)
}

// Spec identifies a model architecture. Name is either a feature-template
// identifier for a fresh model or, transiently, the checkpoint it was loaded
// from.
type Spec struct {
	Name      string `json:"model"`
	MaxLength int    `json:"max_length"`
	CRF       bool   `json:"crf"`
	HashDim   int    `json:"hash_dim"`
}

type LinearTagger struct {
	spec    Spec
	labels  []string
	labelID map[string]int

	emission *optimize.Parameter
	bias     *optimize.Parameter
	trans    *optimize.Parameter // [nLabels x nLabels], CRF only
	start    *optimize.Parameter // CRF only
	end      *optimize.Parameter // CRF only

	training bool
}

// Open resolves a model reference the way checkpoints are resumed: when ref
// is a directory holding saved weights it is loaded (the stored CRF flag
// wins), otherwise a fresh model named ref is initialized over the given
// label set.
func Open(ref string, maxLength int, crf bool, labels []string, rng *rand.Rand) (*LinearTagger, error) {
	if st, err := os.Stat(ref); err == nil && st.IsDir() {
		return Load(ref, maxLength)
	}
	return New(Spec{Name: ref, MaxLength: maxLength, CRF: crf, HashDim: DefaultHashDim}, labels, rng)
}

// New initializes a fresh tagger. Weights start near zero; the rng keeps
// initialization reproducible for a given seed.
func New(spec Spec, labels []string, rng *rand.Rand) (*LinearTagger, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("model needs a non-empty label set")
	}
	if spec.HashDim <= 0 {
		spec.HashDim = DefaultHashDim
	}
	t := &LinearTagger{spec: spec, labels: labels, labelID: make(map[string]int, len(labels))}
	for i, l := range labels {
		t.labelID[l] = i
	}
	n := len(labels)
	t.emission = optimize.NewParameter("emission.weight", spec.HashDim*n)
	t.bias = optimize.NewParameter("emission.bias", n)
	if spec.CRF {
		t.trans = optimize.NewParameter("crf.transition.weight", n*n)
		t.start = optimize.NewParameter("crf.start.weight", n)
		t.end = optimize.NewParameter("crf.end.weight", n)
		if rng != nil {
			for i := range t.trans.Value {
				t.trans.Value[i] = rng.NormFloat64() * 1e-2
			}
		}
	}
	return t, nil
}

type savedModel struct {
	Spec     Spec
	Labels   []string
	Emission []float64
	Bias     []float64
	Trans    []float64
	Start    []float64
	End      []float64
}

// Load restores a tagger from a snapshot directory. maxLength overrides the
// stored value when positive, mirroring the separate evaluation length.
func Load(dir string, maxLength int) (*LinearTagger, error) {
	f, err := os.Open(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open model snapshot %s: %w", dir, err)
	}
	defer f.Close()
	var sm savedModel
	if err := gob.NewDecoder(f).Decode(&sm); err != nil {
		return nil, fmt.Errorf("failed to decode model snapshot %s: %w", dir, err)
	}
	if maxLength > 0 {
		sm.Spec.MaxLength = maxLength
	}
	t, err := New(sm.Spec, sm.Labels, nil)
	if err != nil {
		return nil, err
	}
	copy(t.emission.Value, sm.Emission)
	copy(t.bias.Value, sm.Bias)
	if t.spec.CRF {
		copy(t.trans.Value, sm.Trans)
		copy(t.start.Value, sm.Start)
		copy(t.end.Value, sm.End)
	}
	return t, nil
}

// Save writes the model snapshot into dir.
func (t *LinearTagger) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	sm := savedModel{
		Spec:     t.spec,
		Labels:   t.labels,
		Emission: t.emission.Value,
		Bias:     t.bias.Value,
	}
	if t.spec.CRF {
		sm.Trans = t.trans.Value
		sm.Start = t.start.Value
		sm.End = t.end.Value
	}
	tmp := filepath.Join(dir, weightsFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(sm); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode model snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, weightsFile))
}

func (t *LinearTagger) TrainMode()    { t.training = true }
func (t *LinearTagger) EvalMode()     { t.training = false }
func (t *LinearTagger) UsesCRF() bool { return t.spec.CRF }

func (t *LinearTagger) Labels() []string { return t.labels }

// NamedParameters exposes every trainable tensor. Names carry the bias/norm
// markers the optimizer grouping keys on.
func (t *LinearTagger) NamedParameters() []*optimize.Parameter {
	params := []*optimize.Parameter{t.emission, t.bias}
	if t.spec.CRF {
		params = append(params, t.trans, t.start, t.end)
	}
	return params
}

func (t *LinearTagger) numLabels() int { return len(t.labels) }
