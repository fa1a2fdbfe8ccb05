package checkpoint

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sayakyi/nergrid/internal/logging"
	"github.com/sayakyi/nergrid/internal/optimize"
)

func testSnapshot() *OptimizerSnapshot {
	return &OptimizerSnapshot{
		Optimizer: optimize.State{Step: 3, M: [][]float64{{0.1, 0.2}}, V: [][]float64{{0.3, 0.4}}},
		Scheduler: &optimize.ScheduleState{Step: 3},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), logging.Discard())
}

// saveEpoch materializes a complete epoch: a model snapshot directory plus the
// optimizer snapshot that marks it resumable.
func saveEpoch(t *testing.T, s *Store, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.EpochDir(n), 0o755))
	require.NoError(t, s.SaveOptimizer(n, testSnapshot()))
}

func TestLatestEpochEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 0, s.LatestEpoch())
}

func TestLatestEpochRequiresOptimizer(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.EpochDir(2), 0o755))
	assert.Equal(t, 0, s.LatestEpoch(), "a model snapshot alone is not resumable")

	require.NoError(t, s.SaveOptimizer(2, testSnapshot()))
	assert.Equal(t, 2, s.LatestEpoch())
}

func TestSaveOptimizerPrunesPrevious(t *testing.T) {
	s := newTestStore(t)
	saveEpoch(t, s, 1)
	saveEpoch(t, s, 2)

	_, err := os.Stat(s.OptimizerPath(1))
	assert.True(t, os.IsNotExist(err), "superseded optimizer snapshot removed")
	_, err = os.Stat(s.OptimizerPath(2))
	assert.NoError(t, err)

	// Model snapshots are never pruned.
	assert.True(t, s.HasModel(1))
	assert.True(t, s.HasModel(2))
	assert.Equal(t, 2, s.LatestEpoch())
}

func TestLatestEpochFallsBackToLowerComplete(t *testing.T) {
	s := newTestStore(t)
	saveEpoch(t, s, 1)
	saveEpoch(t, s, 2)
	// Simulate a crash that lost the newest optimizer snapshot. Epoch 1's was
	// already pruned, so nothing is resumable anymore.
	require.NoError(t, os.Remove(s.OptimizerPath(2)))
	assert.Equal(t, 0, s.LatestEpoch())
}

func TestLatestEpochScanFallback(t *testing.T) {
	s := newTestStore(t)
	saveEpoch(t, s, 1)
	saveEpoch(t, s, 3)
	require.NoError(t, os.Remove(filepath.Join(s.Dir, manifestFile)))

	assert.Equal(t, 3, s.LatestEpoch(), "directory scan recovers without a manifest")
}

func TestModelEpochsSorted(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []int{3, 1, 10, 2} {
		require.NoError(t, os.MkdirAll(s.EpochDir(n), 0o755))
	}
	// Unrelated entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir, "eval"), 0o755))

	assert.Equal(t, []int{1, 2, 3, 10}, s.ModelEpochs())
}

func TestLoadOptimizerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	saveEpoch(t, s, 1)

	snap, err := s.LoadOptimizer(1)
	require.NoError(t, err)
	assert.Equal(t, testSnapshot(), snap)
}

func TestLoadOptimizerMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadOptimizer(5)
	assert.Error(t, err)
}

func TestRandomToken(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tok := RandomToken(rng, 6, nil)
	assert.Len(t, tok, 6)
	for _, c := range tok {
		assert.True(t, c >= 'a' && c <= 'z')
	}

	exclude := map[string]bool{tok: true}
	rng = rand.New(rand.NewSource(1))
	other := RandomToken(rng, 6, exclude)
	assert.NotEqual(t, tok, other, "excluded token is redrawn")
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTree(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}
