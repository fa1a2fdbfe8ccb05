package model

import "math"

// Linear-chain CRF over the emission scores. Training uses the exact
// negative log-likelihood: forward recursion for the partition function,
// forward-backward marginals for the gradient.

func (t *LinearTagger) transAt(from, to int) float64 {
	return t.trans.Value[from*t.numLabels()+to]
}

// forward fills alpha[t][y] = log sum of all path scores ending at (t, y).
func (t *LinearTagger) forward(emit [][]float64) [][]float64 {
	n := t.numLabels()
	alpha := make([][]float64, len(emit))
	alpha[0] = make([]float64, n)
	for y := 0; y < n; y++ {
		alpha[0][y] = t.start.Value[y] + emit[0][y]
	}
	buf := make([]float64, n)
	for i := 1; i < len(emit); i++ {
		alpha[i] = make([]float64, n)
		for y := 0; y < n; y++ {
			for yp := 0; yp < n; yp++ {
				buf[yp] = alpha[i-1][yp] + t.transAt(yp, y)
			}
			alpha[i][y] = logSumExp(buf) + emit[i][y]
		}
	}
	return alpha
}

// backward fills beta[t][y] = log sum of all path scores from (t, y) to the end.
func (t *LinearTagger) backward(emit [][]float64) [][]float64 {
	n := t.numLabels()
	last := len(emit) - 1
	beta := make([][]float64, len(emit))
	beta[last] = make([]float64, n)
	copy(beta[last], t.end.Value)
	buf := make([]float64, n)
	for i := last - 1; i >= 0; i-- {
		beta[i] = make([]float64, n)
		for y := 0; y < n; y++ {
			for yn := 0; yn < n; yn++ {
				buf[yn] = t.transAt(y, yn) + emit[i+1][yn] + beta[i+1][yn]
			}
			beta[i][y] = logSumExp(buf)
		}
	}
	return beta
}

func (t *LinearTagger) goldScore(emit [][]float64, labels []int) float64 {
	score := t.start.Value[labels[0]] + emit[0][labels[0]]
	for i := 1; i < len(labels); i++ {
		score += t.transAt(labels[i-1], labels[i]) + emit[i][labels[i]]
	}
	return score + t.end.Value[labels[len(labels)-1]]
}

// crfLossGrad accumulates the scaled NLL gradient for one sentence and
// returns its unscaled negative log-likelihood.
func (t *LinearTagger) crfLossGrad(feats [][]uint32, emit [][]float64, labels []int, scale float64) float64 {
	n := t.numLabels()
	last := len(emit) - 1
	alpha := t.forward(emit)
	beta := t.backward(emit)

	final := make([]float64, n)
	for y := 0; y < n; y++ {
		final[y] = alpha[last][y] + t.end.Value[y]
	}
	logZ := logSumExp(final)
	nll := logZ - t.goldScore(emit, labels)

	// Unary marginals drive the emission, start and end gradients.
	g := make([]float64, n)
	for i := range emit {
		for y := 0; y < n; y++ {
			g[y] = math.Exp(alpha[i][y]+beta[i][y]-logZ) * scale
		}
		g[labels[i]] -= scale
		t.addEmissionGrad(feats[i], g)
		if i == 0 {
			for y := 0; y < n; y++ {
				t.start.Grad[y] += g[y]
			}
		}
		if i == last {
			for y := 0; y < n; y++ {
				t.end.Grad[y] += g[y]
			}
		}
	}

	// Pairwise marginals drive the transition gradient.
	for i := 0; i < last; i++ {
		for yp := 0; yp < n; yp++ {
			for y := 0; y < n; y++ {
				p := math.Exp(alpha[i][yp] + t.transAt(yp, y) + emit[i+1][y] + beta[i+1][y] - logZ)
				t.trans.Grad[yp*n+y] += p * scale
			}
		}
		t.trans.Grad[labels[i]*n+labels[i+1]] -= scale
	}
	return nll
}

// viterbi returns the highest-scoring label path.
func (t *LinearTagger) viterbi(emit [][]float64) []int {
	n := t.numLabels()
	score := make([]float64, n)
	for y := 0; y < n; y++ {
		score[y] = t.start.Value[y] + emit[0][y]
	}
	back := make([][]int, len(emit))
	next := make([]float64, n)
	for i := 1; i < len(emit); i++ {
		back[i] = make([]int, n)
		for y := 0; y < n; y++ {
			bestP, bestV := 0, math.Inf(-1)
			for yp := 0; yp < n; yp++ {
				v := score[yp] + t.transAt(yp, y)
				if v > bestV {
					bestP, bestV = yp, v
				}
			}
			back[i][y] = bestP
			next[y] = bestV + emit[i][y]
		}
		score, next = next, score
	}
	last := len(emit) - 1
	bestY, bestV := 0, math.Inf(-1)
	for y := 0; y < n; y++ {
		if v := score[y] + t.end.Value[y]; v > bestV {
			bestY, bestV = y, v
		}
	}
	path := make([]int, len(emit))
	path[last] = bestY
	for i := last; i > 0; i-- {
		path[i-1] = back[i][path[i]]
	}
	return path
}
