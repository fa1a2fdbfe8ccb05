package optimize

import (
	"fmt"
	"math"
)

// Parameter is a named flat tensor with its accumulated gradient.
type Parameter struct {
	Name  string
	Value []float64
	Grad  []float64
}

func NewParameter(name string, size int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Group is one parameter group with its own weight-decay factor.
type Group struct {
	Params      []*Parameter
	WeightDecay float64
}

// AdamW implements Adam with decoupled weight decay over parameter groups.
type AdamW struct {
	groups []Group
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64

	m    [][]float64
	v    [][]float64
	step int
}

func NewAdamW(groups []Group, lr float64) *AdamW {
	o := &AdamW{
		groups: groups,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
	}
	for _, g := range groups {
		for _, p := range g.Params {
			o.m = append(o.m, make([]float64, len(p.Value)))
			o.v = append(o.v, make([]float64, len(p.Value)))
		}
	}
	return o
}

func (o *AdamW) LR() float64      { return o.lr }
func (o *AdamW) SetLR(lr float64) { o.lr = lr }

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	bc1 := 1.0 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1.0 - math.Pow(o.beta2, float64(o.step))

	i := 0
	for _, g := range o.groups {
		for _, p := range g.Params {
			m, v := o.m[i], o.v[i]
			i++
			for j, grad := range p.Grad {
				m[j] = o.beta1*m[j] + (1-o.beta1)*grad
				v[j] = o.beta2*v[j] + (1-o.beta2)*grad*grad
				mHat := m[j] / bc1
				vHat := v[j] / bc2
				p.Value[j] -= o.lr * (mHat/(math.Sqrt(vHat)+o.eps) + g.WeightDecay*p.Value[j])
			}
		}
	}
}

// ZeroGrad clears accumulated gradients on every parameter.
func (o *AdamW) ZeroGrad() {
	for _, g := range o.groups {
		for _, p := range g.Params {
			for j := range p.Grad {
				p.Grad[j] = 0
			}
		}
	}
}

// ClipGradNorm scales gradients so their global L2 norm does not exceed max.
// Returns the norm before clipping.
func ClipGradNorm(params []*Parameter, max float64) float64 {
	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	total = math.Sqrt(total)
	if total <= max || total == 0 {
		return total
	}
	scale := max / total
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
	return total
}

// State is the serializable optimizer state, saved alongside every model
// snapshot and reloaded on resume.
type State struct {
	Step int
	M    [][]float64
	V    [][]float64
}

func (o *AdamW) StateDict() State {
	return State{Step: o.step, M: o.m, V: o.v}
}

func (o *AdamW) LoadStateDict(s State) error {
	if len(s.M) != len(o.m) || len(s.V) != len(o.v) {
		return fmt.Errorf("optimizer state has %d moment slots, expected %d", len(s.M), len(o.m))
	}
	for i := range o.m {
		if len(s.M[i]) != len(o.m[i]) {
			return fmt.Errorf("optimizer state slot %d has %d elements, expected %d", i, len(s.M[i]), len(o.m[i]))
		}
	}
	o.step = s.Step
	o.m = s.M
	o.v = s.V
	return nil
}
