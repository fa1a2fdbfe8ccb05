package search

import (
	"sort"
	"strconv"

	"github.com/sayakyi/nergrid/internal/config"
)

// Axes are the grid-search candidate lists. A nil entry in a nullable axis
// means "no constraint" (e.g. no weight decay). Axes are normalized to
// deduplicated, descending lists with nil sorted first, so the Cartesian
// product is identical across re-runs.
type Axes struct {
	LR                        []float64  `json:"lr" yaml:"lr"`
	CRF                       []bool     `json:"crf" yaml:"crf"`
	RandomSeed                []int      `json:"random_seed" yaml:"random_seed"`
	WeightDecay               []*float64 `json:"weight_decay" yaml:"weight_decay"`
	LRWarmupStepRatio         []*float64 `json:"lr_warmup_step_ratio" yaml:"lr_warmup_step_ratio"`
	MaxGradNorm               []*float64 `json:"max_grad_norm" yaml:"max_grad_norm"`
	GradientAccumulationSteps []int      `json:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps"`
}

// Normalize fills empty axes with their single-point defaults and sorts every
// axis into its canonical order.
func (a Axes) Normalize() Axes {
	if len(a.LR) == 0 {
		a.LR = []float64{1e-4}
	}
	if len(a.CRF) == 0 {
		a.CRF = []bool{true}
	}
	if len(a.RandomSeed) == 0 {
		a.RandomSeed = []int{0}
	}
	if len(a.WeightDecay) == 0 {
		a.WeightDecay = []*float64{nil}
	}
	if len(a.LRWarmupStepRatio) == 0 {
		a.LRWarmupStepRatio = []*float64{nil}
	}
	if len(a.MaxGradNorm) == 0 {
		a.MaxGradNorm = []*float64{nil}
	}
	if len(a.GradientAccumulationSteps) == 0 {
		a.GradientAccumulationSteps = []int{1}
	}
	a.LR = normFloats(a.LR)
	a.CRF = normBools(a.CRF)
	a.RandomSeed = normInts(a.RandomSeed)
	a.WeightDecay = normNullable(a.WeightDecay)
	a.LRWarmupStepRatio = normNullable(a.LRWarmupStepRatio)
	a.MaxGradNorm = normNullable(a.MaxGradNorm)
	a.GradientAccumulationSteps = normInts(a.GradientAccumulationSteps)
	return a
}

// Size is the number of grid points.
func (a Axes) Size() int {
	return len(a.LR) * len(a.CRF) * len(a.RandomSeed) * len(a.WeightDecay) *
		len(a.LRWarmupStepRatio) * len(a.MaxGradNorm) * len(a.GradientAccumulationSteps)
}

// Product enumerates the Cartesian product in a fixed axis order so repeated
// runs see the same sequence of configurations.
func (a Axes) Product() []config.Dynamic {
	out := make([]config.Dynamic, 0, a.Size())
	for _, lr := range a.LR {
		for _, crf := range a.CRF {
			for _, seed := range a.RandomSeed {
				for _, wd := range a.WeightDecay {
					for _, warmup := range a.LRWarmupStepRatio {
						for _, mgn := range a.MaxGradNorm {
							for _, accum := range a.GradientAccumulationSteps {
								out = append(out, config.Dynamic{
									LR:                        lr,
									CRF:                       crf,
									RandomSeed:                seed,
									WeightDecay:               wd,
									LRWarmupStepRatio:         warmup,
									MaxGradNorm:               mgn,
									GradientAccumulationSteps: accum,
								})
							}
						}
					}
				}
			}
		}
	}
	return out
}

func normFloats(vals []float64) []float64 {
	out := dedup(vals, func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) })
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

func normInts(vals []int) []int {
	out := dedup(vals, strconv.Itoa)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func normBools(vals []bool) []bool {
	out := dedup(vals, strconv.FormatBool)
	sort.Slice(out, func(i, j int) bool { return out[i] && !out[j] })
	return out
}

func normNullable(vals []*float64) []*float64 {
	out := dedup(vals, func(v *float64) string {
		if v == nil {
			return "nil"
		}
		return strconv.FormatFloat(*v, 'g', -1, 64)
	})
	sort.Slice(out, func(i, j int) bool {
		// nil sorts first, then descending
		if out[i] == nil {
			return out[j] != nil
		}
		if out[j] == nil {
			return false
		}
		return *out[i] > *out[j]
	})
	return out
}

func dedup[T any](vals []T, key func(T) string) []T {
	seen := make(map[string]bool, len(vals))
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
