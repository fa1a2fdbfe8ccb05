package model

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sayakyi/nergrid/internal/dataset"
	"github.com/sayakyi/nergrid/internal/optimize"
)

func testSplit() *dataset.Split {
	return &dataset.Split{
		Name: "train",
		Tokens: [][]string{
			{"John", "Smith", "lives", "in", "London"},
			{"EU", "rejects", "German", "call"},
			{"Peter", "visited", "Paris"},
			{"the", "cat", "sat"},
		},
		Labels: [][]string{
			{"B-PER", "I-PER", "O", "O", "B-LOC"},
			{"B-ORG", "O", "B-MISC", "O"},
			{"B-PER", "O", "B-LOC"},
			{"O", "O", "O"},
		},
	}
}

func newTestTagger(t *testing.T, crf bool) *LinearTagger {
	t.Helper()
	split := testSplit()
	rng := rand.New(rand.NewSource(42))
	m, err := New(Spec{Name: "linear", MaxLength: 16, CRF: crf, HashDim: 1 << 10}, split.LabelSet(), rng)
	require.NoError(t, err)
	return m
}

func TestNewRequiresLabels(t *testing.T) {
	_, err := New(Spec{Name: "linear", MaxLength: 16}, nil, nil)
	assert.Error(t, err)
}

func TestEncodeToLossRequiresTrainMode(t *testing.T) {
	m := newTestTagger(t, false)
	loader, err := m.Loader(testSplit(), LoaderOptions{BatchSize: 4})
	require.NoError(t, err)

	_, err = m.EncodeToLoss(loader.Epoch()[0])
	assert.Error(t, err)
}

func TestTrainingReducesLoss(t *testing.T) {
	for _, crf := range []bool{false, true} {
		name := "softmax"
		if crf {
			name = "crf"
		}
		t.Run(name, func(t *testing.T) {
			m := newTestTagger(t, crf)
			m.TrainMode()
			loader, err := m.Loader(testSplit(), LoaderOptions{BatchSize: 4})
			require.NoError(t, err)
			batch := loader.Epoch()[0]

			opt := optimize.NewAdamW([]optimize.Group{{Params: m.NamedParameters()}}, 0.05)
			first, err := m.EncodeToLoss(batch)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(first))
			assert.Greater(t, first, 0.0)
			opt.Step()
			opt.ZeroGrad()

			last := first
			for i := 0; i < 50; i++ {
				last, err = m.EncodeToLoss(batch)
				require.NoError(t, err)
				opt.Step()
				opt.ZeroGrad()
			}
			assert.Less(t, last, first)
		})
	}
}

func TestEncodeToLossSkipsUnknownLabels(t *testing.T) {
	m := newTestTagger(t, false)
	m.TrainMode()

	unknown := &dataset.Split{
		Name:   "odd",
		Tokens: [][]string{{"x", "y"}},
		Labels: [][]string{{"B-UNSEEN", "I-UNSEEN"}},
	}
	loader, err := m.Loader(unknown, LoaderOptions{BatchSize: 1})
	require.NoError(t, err)

	_, err = m.EncodeToLoss(loader.Epoch()[0])
	assert.Error(t, err, "a batch with no usable tokens cannot produce a loss")
}

func TestPredict(t *testing.T) {
	m := newTestTagger(t, true)
	tags := m.Predict([]string{"John", "lives", "here"})
	require.Len(t, tags, 3)
	labels := map[string]bool{}
	for _, l := range m.Labels() {
		labels[l] = true
	}
	for _, tag := range tags {
		assert.True(t, labels[tag], "prediction %q outside the label set", tag)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, crf := range []bool{false, true} {
		m := newTestTagger(t, crf)
		for _, p := range m.NamedParameters() {
			for i := range p.Value {
				p.Value[i] = float64(i%7) * 0.1
			}
		}
		dir := t.TempDir()
		require.NoError(t, m.Save(dir))

		loaded, err := Load(dir, 0)
		require.NoError(t, err)
		assert.Equal(t, crf, loaded.UsesCRF())
		assert.Equal(t, m.Labels(), loaded.Labels())

		orig := m.NamedParameters()
		got := loaded.NamedParameters()
		require.Equal(t, len(orig), len(got))
		for i := range orig {
			assert.Equal(t, orig[i].Name, got[i].Name)
			assert.Equal(t, orig[i].Value, got[i].Value)
		}

		tokens := []string{"John", "lives", "in", "London"}
		assert.Equal(t, m.Predict(tokens), loaded.Predict(tokens))
	}
}

func TestOpen(t *testing.T) {
	m := newTestTagger(t, false)
	dir := t.TempDir()
	require.NoError(t, m.Save(dir))

	loaded, err := Open(dir, 32, true, nil, nil)
	require.NoError(t, err)
	assert.False(t, loaded.UsesCRF(), "the stored CRF flag wins over the argument")

	fresh, err := Open("linear", 32, true, []string{"B-X", "O"}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.True(t, fresh.UsesCRF())
}

func TestLoaderBatching(t *testing.T) {
	m := newTestTagger(t, false)
	split := testSplit() // 4 sentences

	loader, err := m.Loader(split, LoaderOptions{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, loader.Len())
	assert.Equal(t, 2, loader.StepsPerEpoch())
	batches := loader.Epoch()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Features, 3)
	assert.Len(t, batches[1].Features, 1)

	loader, err = m.Loader(split, LoaderOptions{BatchSize: 3, DropLast: true})
	require.NoError(t, err)
	assert.Equal(t, 1, loader.StepsPerEpoch())
	assert.Len(t, loader.Epoch(), 1)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	m := newTestTagger(t, false)
	split := testSplit()

	order := func(seed int64) [][]int {
		loader, err := m.Loader(split, LoaderOptions{
			BatchSize: 2, Shuffle: true, Rng: rand.New(rand.NewSource(seed)),
		})
		require.NoError(t, err)
		var got [][]int
		for _, b := range loader.Epoch() {
			for _, l := range b.Labels {
				got = append(got, l)
			}
		}
		return got
	}

	assert.Equal(t, order(7), order(7), "same seed, same epoch order")
}

func TestLoaderCache(t *testing.T) {
	m := newTestTagger(t, false)
	split := testSplit()
	cache := filepath.Join(t.TempDir(), "encoded", "linear.16.false.train.pkl")

	_, err := m.Loader(split, LoaderOptions{BatchSize: 2, CacheFile: cache})
	require.NoError(t, err)
	_, err = os.Stat(cache)
	require.NoError(t, err, "feature cache written")

	// A second loader restores from the cache; identical batches come back.
	fresh := newTestTagger(t, false)
	a, err := m.Loader(split, LoaderOptions{BatchSize: 2, CacheFile: cache})
	require.NoError(t, err)
	b, err := fresh.Loader(split, LoaderOptions{BatchSize: 2, CacheFile: cache})
	require.NoError(t, err)
	assert.Equal(t, a.Epoch(), b.Epoch())
}

func TestEvaluate(t *testing.T) {
	m := newTestTagger(t, false)
	dir := t.TempDir()
	pred := filepath.Join(dir, "eval", "prediction.valid.json")

	result, err := m.Evaluate(testSplit(), EvalOptions{BatchSize: 2, CachePredictionFile: pred})
	require.NoError(t, err)
	for _, key := range []string{"micro/f1", "micro/precision", "micro/recall", "macro/f1"} {
		v, ok := result[key]
		require.True(t, ok, "missing %s", key)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	_, err = os.Stat(pred)
	assert.NoError(t, err, "prediction dump written")
}

func TestEvaluateTruncatesToMaxLength(t *testing.T) {
	split := &dataset.Split{
		Name:   "long",
		Tokens: [][]string{{"a", "b", "c", "d", "e"}},
		Labels: [][]string{{"O", "O", "O", "O", "B-LOC"}},
	}
	m, err := New(Spec{Name: "linear", MaxLength: 3, HashDim: 1 << 10}, split.LabelSet(), nil)
	require.NoError(t, err)

	result, err := m.Evaluate(split, EvalOptions{BatchSize: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, result["micro/recall"], 1e-12, "the only gold span lies beyond the cutoff")
}
