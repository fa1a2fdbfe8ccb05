package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepMovesAgainstGradient(t *testing.T) {
	p := NewParameter("w", 2)
	p.Grad[0] = 1
	p.Grad[1] = -1
	o := NewAdamW([]Group{{Params: []*Parameter{p}}}, 1e-2)

	o.Step()
	assert.Less(t, p.Value[0], 0.0)
	assert.Greater(t, p.Value[1], 0.0)
}

func TestDecoupledWeightDecay(t *testing.T) {
	// With a zero gradient the Adam update is zero, so only decay moves the
	// parameter.
	p := NewParameter("w", 1)
	p.Value[0] = 1
	o := NewAdamW([]Group{{Params: []*Parameter{p}, WeightDecay: 0.1}}, 1e-2)

	o.Step()
	assert.InDelta(t, 1-1e-2*0.1, p.Value[0], 1e-12)
}

func TestZeroGrad(t *testing.T) {
	p := NewParameter("w", 3)
	for i := range p.Grad {
		p.Grad[i] = float64(i + 1)
	}
	o := NewAdamW([]Group{{Params: []*Parameter{p}}}, 1e-2)

	o.ZeroGrad()
	assert.Equal(t, []float64{0, 0, 0}, p.Grad)
}

func TestClipGradNorm(t *testing.T) {
	p := NewParameter("w", 2)
	p.Grad[0] = 3
	p.Grad[1] = 4

	norm := ClipGradNorm([]*Parameter{p}, 1)
	assert.InDelta(t, 5, norm, 1e-12)
	assert.InDelta(t, 3.0/5, p.Grad[0], 1e-12)
	assert.InDelta(t, 4.0/5, p.Grad[1], 1e-12)

	clipped := math.Hypot(p.Grad[0], p.Grad[1])
	assert.InDelta(t, 1, clipped, 1e-12)
}

func TestClipGradNormBelowMax(t *testing.T) {
	p := NewParameter("w", 1)
	p.Grad[0] = 0.5

	norm := ClipGradNorm([]*Parameter{p}, 1)
	assert.InDelta(t, 0.5, norm, 1e-12)
	assert.InDelta(t, 0.5, p.Grad[0], 1e-12, "gradient untouched below the cap")
}

func TestStateDictRoundTrip(t *testing.T) {
	build := func() (*AdamW, *Parameter) {
		p := NewParameter("w", 2)
		return NewAdamW([]Group{{Params: []*Parameter{p}}}, 1e-2), p
	}

	a, pa := build()
	pa.Grad[0], pa.Grad[1] = 1, 2
	a.Step()
	a.Step()

	b, _ := build()
	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, a.StateDict(), b.StateDict())
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	p := NewParameter("w", 2)
	o := NewAdamW([]Group{{Params: []*Parameter{p}}}, 1e-2)

	err := o.LoadStateDict(State{M: [][]float64{{0}, {0}}, V: [][]float64{{0}, {0}}})
	assert.Error(t, err, "wrong slot count")

	err = o.LoadStateDict(State{M: [][]float64{{0}}, V: [][]float64{{0}}})
	assert.Error(t, err, "wrong slot size")
}

func TestLinearSchedule(t *testing.T) {
	p := NewParameter("w", 1)
	o := NewAdamW([]Group{{Params: []*Parameter{p}}}, 1.0)
	s := NewLinearSchedule(o, 2, 10)

	s.Step()
	assert.InDelta(t, 0.5, o.LR(), 1e-12, "half way through warmup")
	s.Step()
	assert.InDelta(t, 1.0, o.LR(), 1e-12, "warmup done")

	for i := 0; i < 8; i++ {
		s.Step()
	}
	assert.InDelta(t, 0, o.LR(), 1e-12, "decayed to zero at the final step")
}

func TestLinearScheduleStateRoundTrip(t *testing.T) {
	p := NewParameter("w", 1)
	o := NewAdamW([]Group{{Params: []*Parameter{p}}}, 1.0)
	s := NewLinearSchedule(o, 2, 10)
	for i := 0; i < 5; i++ {
		s.Step()
	}
	lr := o.LR()

	o2 := NewAdamW([]Group{{Params: []*Parameter{NewParameter("w", 1)}}}, 1.0)
	s2 := NewLinearSchedule(o2, 2, 10)
	s2.LoadStateDict(s.StateDict())
	assert.InDelta(t, lr, o2.LR(), 1e-12)
}
