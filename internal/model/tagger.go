package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// emissions computes the per-token label scores for one encoded sentence.
func (t *LinearTagger) emissions(feats [][]uint32) [][]float64 {
	n := t.numLabels()
	out := make([][]float64, len(feats))
	for i, fs := range feats {
		row := make([]float64, n)
		copy(row, t.bias.Value)
		for _, f := range fs {
			base := int(f) * n
			for y := 0; y < n; y++ {
				row[y] += t.emission.Value[base+y]
			}
		}
		out[i] = row
	}
	return out
}

// addEmissionGrad accumulates g into the weights feeding token i's scores.
func (t *LinearTagger) addEmissionGrad(feats []uint32, g []float64) {
	n := t.numLabels()
	for y, gv := range g {
		if gv == 0 {
			continue
		}
		t.bias.Grad[y] += gv
	}
	for _, f := range feats {
		base := int(f) * n
		for y, gv := range g {
			if gv == 0 {
				continue
			}
			t.emission.Grad[base+y] += gv
		}
	}
}

// EncodeToLoss runs the forward pass over one batch, accumulates gradients on
// the parameters and returns the mean negative log-likelihood per token.
// Gradients add up across calls; the trainer zeroes them at optimizer-step
// boundaries to implement gradient accumulation.
func (t *LinearTagger) EncodeToLoss(b *Batch) (float64, error) {
	if !t.training {
		return 0, fmt.Errorf("model is not in train mode")
	}
	total := 0
	for s := range b.Features {
		if usable(b.Labels[s]) {
			total += len(b.Features[s])
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("batch has no usable labeled tokens")
	}
	scale := 1.0 / float64(total)

	loss := 0.0
	for s := range b.Features {
		feats, labels := b.Features[s], b.Labels[s]
		if !usable(labels) || len(feats) == 0 {
			continue
		}
		emit := t.emissions(feats)
		if t.spec.CRF {
			loss += t.crfLossGrad(feats, emit, labels, scale)
		} else {
			loss += t.softmaxLossGrad(feats, emit, labels, scale)
		}
	}
	return loss / float64(total), nil
}

func usable(labels []int) bool {
	for _, l := range labels {
		if l < 0 {
			return false
		}
	}
	return len(labels) > 0
}

func (t *LinearTagger) softmaxLossGrad(feats [][]uint32, emit [][]float64, labels []int, scale float64) float64 {
	loss := 0.0
	g := make([]float64, t.numLabels())
	for i, row := range emit {
		lse := logSumExp(row)
		loss += lse - row[labels[i]]
		for y := range row {
			g[y] = math.Exp(row[y]-lse) * scale
		}
		g[labels[i]] -= scale
		t.addEmissionGrad(feats[i], g)
	}
	return loss
}

// Predict decodes one sentence into label strings.
func (t *LinearTagger) Predict(tokens []string) []string {
	feats := encodeTokens(tokens, t.spec.MaxLength, t.spec.HashDim)
	if len(feats) == 0 {
		return nil
	}
	emit := t.emissions(feats)
	var path []int
	if t.spec.CRF {
		path = t.viterbi(emit)
	} else {
		path = make([]int, len(emit))
		for i, row := range emit {
			path[i] = argmax(row)
		}
	}
	out := make([]string, len(path))
	for i, y := range path {
		out[i] = t.labels[y]
	}
	return out
}

func (t *LinearTagger) decode(feats [][]uint32) []int {
	emit := t.emissions(feats)
	if t.spec.CRF {
		return t.viterbi(emit)
	}
	path := make([]int, len(emit))
	for i, row := range emit {
		path[i] = argmax(row)
	}
	return path
}

func argmax(row []float64) int {
	best, bestV := 0, math.Inf(-1)
	for y, v := range row {
		if v > bestV {
			best, bestV = y, v
		}
	}
	return best
}

func logSumExp(row []float64) float64 {
	m := math.Inf(-1)
	for _, v := range row {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}

func writePredictions(path string, preds [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create prediction directory: %w", err)
	}
	data, err := json.MarshalIndent(preds, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
