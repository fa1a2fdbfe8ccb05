package model

import (
	"fmt"

	"github.com/sayakyi/nergrid/internal/dataset"
)

type EvalOptions struct {
	BatchSize int
	// CacheFeatureFile reuses encoded features across evaluation runs.
	CacheFeatureFile string
	// CachePredictionFile, when set, receives the predicted tag sequences.
	CachePredictionFile string
}

// Evaluate decodes the split and returns the metric map used for ranking
// (micro/macro F1 plus per-type F1). Gold sequences are truncated to the
// model's max length so both sides stay aligned.
func (t *LinearTagger) Evaluate(split *dataset.Split, opts EvalOptions) (map[string]float64, error) {
	t.EvalMode()
	enc, err := t.encodeSplit(split, opts.CacheFeatureFile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", split.Name, err)
	}

	gold := make([][]string, split.Len())
	pred := make([][]string, split.Len())
	for i, feats := range enc.Features {
		gold[i] = split.Labels[i][:len(feats)]
		if len(feats) == 0 {
			pred[i] = nil
			continue
		}
		path := t.decode(feats)
		tags := make([]string, len(path))
		for j, y := range path {
			tags[j] = t.labels[y]
		}
		pred[i] = tags
	}

	if opts.CachePredictionFile != "" {
		if err := writePredictions(opts.CachePredictionFile, pred); err != nil {
			return nil, fmt.Errorf("failed to write predictions: %w", err)
		}
	}
	return spanF1(gold, pred), nil
}
