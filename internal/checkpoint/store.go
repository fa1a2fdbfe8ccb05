// Package checkpoint owns the on-disk layout of one training run:
// per-epoch model snapshots, the single most-recent optimizer snapshot and a
// manifest of completed epochs. An epoch only counts as resumable when both
// its model and optimizer artifacts exist; the optimizer file is written last
// and is therefore the gating artifact after a crash.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/optimize"
)

const (
	epochPrefix   = "epoch_"
	optimizersDir = "optimizers"
	manifestFile  = "manifest.json"
)

// OptimizerSnapshot is the optimizer (and optional scheduler) state saved
// next to every model snapshot.
type OptimizerSnapshot struct {
	Optimizer optimize.State
	Scheduler *optimize.ScheduleState
}

type manifest struct {
	Completed []int `json:"completed"`
}

type Store struct {
	Dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{Dir: dir, log: log}
}

func (s *Store) EpochDir(n int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%d", epochPrefix, n))
}

func (s *Store) OptimizerPath(n int) string {
	return filepath.Join(s.Dir, optimizersDir, fmt.Sprintf("optimizer.%d.pt", n))
}

func (s *Store) ConfigPath(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.Dir, manifestFile)
}

// HasModel reports whether the model snapshot for epoch n exists, regardless
// of the optimizer state. Phase skipping in the searcher keys on this.
func (s *Store) HasModel(n int) bool {
	st, err := os.Stat(s.EpochDir(n))
	return err == nil && st.IsDir()
}

func (s *Store) hasOptimizer(n int) bool {
	_, err := os.Stat(s.OptimizerPath(n))
	return err == nil
}

// LatestEpoch returns the highest epoch with both a model snapshot and an
// optimizer snapshot, or 0 when nothing is resumable. The manifest is
// consulted first; a missing or stale manifest falls back to a directory
// scan. Unreadable candidates are logged and skipped, falling back to the
// next lower complete epoch.
func (s *Store) LatestEpoch() int {
	candidates := s.completedFromManifest()
	if candidates == nil {
		candidates = s.scanEpochs()
	}
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))
	for _, e := range candidates {
		if !s.HasModel(e) || !s.hasOptimizer(e) {
			s.log.Warn("incomplete checkpoint skipped", "dir", s.Dir, "epoch", e)
			continue
		}
		return e
	}
	return 0
}

func (s *Store) completedFromManifest() []int {
	var m manifest
	if err := config.ReadJSON(s.manifestPath(), &m); err != nil {
		return nil
	}
	return m.Completed
}

// scanEpochs lists every epoch_<n> directory, complete or not.
func (s *Store) scanEpochs() []int {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil
	}
	var epochs []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), epochPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), epochPrefix))
		if err != nil {
			s.log.Warn("unrecognized snapshot directory skipped", "name", e.Name())
			continue
		}
		epochs = append(epochs, n)
	}
	return epochs
}

// ModelEpochs returns the sorted list of epochs holding a model snapshot.
func (s *Store) ModelEpochs() []int {
	epochs := s.scanEpochs()
	sort.Ints(epochs)
	return epochs
}

// SaveOptimizer persists the optimizer snapshot for epoch n, records n as
// complete in the manifest and drops the now superseded snapshot for n-1.
// Model snapshots are never pruned.
func (s *Store) SaveOptimizer(n int, snap *OptimizerSnapshot) error {
	path := s.OptimizerPath(n)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create optimizer directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode optimizer snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	if err := s.markComplete(n); err != nil {
		return err
	}

	if prev := s.OptimizerPath(n - 1); n > 1 && s.hasOptimizer(n-1) {
		if err := os.Remove(prev); err != nil {
			s.log.Warn("failed to remove superseded optimizer snapshot", "path", prev, "error", err)
		}
	}
	return nil
}

func (s *Store) markComplete(n int) error {
	m := manifest{Completed: s.completedFromManifest()}
	for _, e := range m.Completed {
		if e == n {
			return nil
		}
	}
	m.Completed = append(m.Completed, n)
	sort.Ints(m.Completed)
	return config.WriteJSON(s.manifestPath(), m)
}

// LoadOptimizer restores the snapshot for epoch n. Callers should drop the
// returned value as soon as its state is handed to the optimizer.
func (s *Store) LoadOptimizer(n int) (*OptimizerSnapshot, error) {
	f, err := os.Open(s.OptimizerPath(n))
	if err != nil {
		return nil, fmt.Errorf("failed to open optimizer snapshot for epoch %d: %w", n, err)
	}
	defer f.Close()
	var snap OptimizerSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode optimizer snapshot for epoch %d: %w", n, err)
	}
	return &snap, nil
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomToken draws a lowercase token of the given length that is not in
// exclude. Checkpoint directories are named model_<token> so re-runs can
// match them back to their dynamic config.
func RandomToken(rng *rand.Rand, length int, exclude map[string]bool) string {
	for {
		b := make([]byte, length)
		for i := range b {
			b[i] = tokenAlphabet[rng.Intn(len(tokenAlphabet))]
		}
		tok := string(b)
		if !exclude[tok] {
			return tok
		}
	}
}

// CopyTree recursively copies src into dst, used to materialize best_model.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
