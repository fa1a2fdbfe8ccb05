// Package search drives the three-phase hyperparameter grid search:
// partial-train and rank every grid point, fully train the top candidates,
// then extend the winner epoch by epoch while it keeps improving. Every phase
// is re-runnable; completed work is detected on disk and skipped.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sayakyi/nergrid/internal/checkpoint"
	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/logging"
	"github.com/sayakyi/nergrid/internal/model"
	"github.com/sayakyi/nergrid/internal/trainer"
)

// ErrAmbiguousCheckpoint is returned when more than one existing checkpoint
// directory matches the same dynamic config, which means the search root is
// corrupted and no resume target can be chosen safely.
var ErrAmbiguousCheckpoint = errors.New("multiple checkpoints match the same dynamic config")

const (
	bestModelDir    = "best_model"
	modelDirPrefix  = "model_"
	modelTokenChars = 6
)

// Tracker publishes search progress to an experiment-tracking server.
// Publishing is best effort; failures never abort a search.
type Tracker interface {
	StartRun(ctx context.Context, name string) (string, error)
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetric(ctx context.Context, runID, key string, value float64, step int64) error
	EndRun(ctx context.Context, runID string, ok bool) error
}

type Options struct {
	Static config.Static
	Eval   config.Eval
	Axes   Axes
	// EpochPartial is how far phase 1 trains each grid point.
	EpochPartial int
	// NMaxConfig is how many top configurations advance to phase 2.
	NMaxConfig    int
	BatchSizeEval int
	Deps          trainer.Deps
	Tracker       Tracker
	Logger        *slog.Logger
}

type Searcher struct {
	root          string
	static        config.Static
	eval          config.Eval
	axes          Axes
	grid          []config.Dynamic
	epochPartial  int
	nMaxConfig    int
	batchSizeEval int
	deps          trainer.Deps
	tracker       Tracker
	log           *slog.Logger
	rng           *rand.Rand
}

func New(root string, opts Options) (*Searcher, error) {
	if root == "" {
		return nil, fmt.Errorf("search checkpoint root is required")
	}
	if opts.Static.Epoch <= 0 {
		return nil, fmt.Errorf("epoch must be positive, got %d", opts.Static.Epoch)
	}
	if opts.EpochPartial <= 0 || opts.EpochPartial > opts.Static.Epoch {
		return nil, fmt.Errorf("epoch_partial must be in [1, %d], got %d", opts.Static.Epoch, opts.EpochPartial)
	}
	if opts.NMaxConfig <= 0 {
		return nil, fmt.Errorf("n_max_config must be positive, got %d", opts.NMaxConfig)
	}
	if opts.Eval.DataSplit == "" {
		return nil, fmt.Errorf("evaluation data split is required")
	}
	if opts.Eval.Metric == "" {
		opts.Eval.Metric = "micro/f1"
	}
	if opts.Eval.MaxLengthEval <= 0 {
		opts.Eval.MaxLengthEval = opts.Static.MaxLength
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	axes := opts.Axes.Normalize()
	return &Searcher{
		root:          root,
		static:        opts.Static,
		eval:          opts.Eval,
		axes:          axes,
		grid:          axes.Product(),
		epochPartial:  opts.EpochPartial,
		nMaxConfig:    opts.NMaxConfig,
		batchSizeEval: opts.BatchSizeEval,
		deps:          opts.Deps,
		tracker:       opts.Tracker,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run executes the three phases end to end. Re-running after a crash resumes
// at the first incomplete unit of work; any disagreement with previously
// persisted configs is fatal.
func (s *Searcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create search root: %w", err)
	}
	if err := s.checkAndWriteConfigs(); err != nil {
		return err
	}
	s.log.Info("initialize grid searcher", "configs", len(s.grid), "root", s.root)

	runID := s.startTracking(ctx)
	err := s.run(ctx, runID)
	s.endTracking(ctx, runID, err == nil)
	return err
}

func (s *Searcher) run(ctx context.Context, runID string) error {
	dirs, err := s.resolveCheckpoints()
	if err != nil {
		return err
	}

	ranking, err := s.phasePartial(dirs)
	if err != nil {
		return err
	}
	s.publishBest(ctx, runID, "phase1", ranking)

	if s.epochPartial == s.static.Epoch {
		s.log.Info("no 2nd phase as epoch_partial equals epoch")
		return nil
	}

	ranking, err = s.phaseFull(ranking)
	if err != nil {
		return err
	}
	s.publishBest(ctx, runID, "phase2", ranking)

	best := ranking[0]
	bestDir := filepath.Dir(best.Checkpoint)
	bestEpoch, err := epochOf(best.Checkpoint)
	if err != nil {
		return err
	}
	cfg, err := config.LoadTraining(filepath.Join(bestDir, config.TrainingFile))
	if err != nil {
		return fmt.Errorf("failed to load winner config: %w", err)
	}

	bestCkpt := best.Checkpoint
	if bestEpoch == s.static.Epoch {
		bestCkpt, cfg, err = s.phaseExtend(ctx, runID, bestDir, bestEpoch, best.Score, cfg)
		if err != nil {
			return err
		}
	} else {
		s.log.Info("skip 3rd phase, winner is below the epoch budget", "epoch", bestEpoch)
	}

	if err := checkpoint.CopyTree(bestCkpt, filepath.Join(s.root, bestModelDir)); err != nil {
		return fmt.Errorf("failed to copy best model: %w", err)
	}
	if err := cfg.Save(filepath.Join(s.root, bestModelDir, config.TrainingFile)); err != nil {
		return err
	}
	s.log.Info("grid search complete", "best_model", bestCkpt)
	return nil
}

// checkAndWriteConfigs verifies the freshly computed static, dynamic and eval
// configs against any previously persisted ones, then (re)writes them. A
// mismatch aborts the run rather than silently mixing incompatible searches.
func (s *Searcher) checkAndWriteConfigs() error {
	if err := checkPersisted(filepath.Join(s.root, config.StaticFile), s.static, &config.Static{}); err != nil {
		return err
	}
	if err := checkPersisted(filepath.Join(s.root, config.DynamicFile), s.axes, &Axes{}); err != nil {
		return err
	}
	if err := checkPersisted(filepath.Join(s.root, config.EvalFile), s.eval, &config.Eval{}); err != nil {
		return err
	}
	if err := config.WriteJSON(filepath.Join(s.root, config.StaticFile), s.static); err != nil {
		return err
	}
	if err := config.WriteJSON(filepath.Join(s.root, config.DynamicFile), s.axes); err != nil {
		return err
	}
	return config.WriteJSON(filepath.Join(s.root, config.EvalFile), s.eval)
}

func checkPersisted(path string, current, persisted any) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := config.ReadJSON(path, persisted); err != nil {
		return err
	}
	if !config.EqualJSON(persisted, current) {
		return fmt.Errorf("%s: %w", path, trainer.ErrConfigMismatch)
	}
	return nil
}

// resolveCheckpoints maps every grid point onto its checkpoint directory:
// the unique existing directory whose persisted dynamic config matches, or a
// freshly named one.
func (s *Searcher) resolveCheckpoints() ([]string, error) {
	existing := make(map[string]config.Dynamic)
	usedTokens := make(map[string]bool)
	globbed, err := filepath.Glob(filepath.Join(s.root, modelDirPrefix+"*", config.TrainingFile))
	if err != nil {
		return nil, err
	}
	for _, cfgPath := range globbed {
		dir := filepath.Dir(cfgPath)
		tcfg, err := config.LoadTraining(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint config %s: %w", cfgPath, err)
		}
		existing[dir] = tcfg.Dynamic()
		usedTokens[strings.TrimPrefix(filepath.Base(dir), modelDirPrefix)] = true
	}

	dirs := make([]string, 0, len(s.grid))
	for _, dyn := range s.grid {
		var matches []string
		for dir, ex := range existing {
			if config.EqualJSON(ex, dyn) {
				matches = append(matches, dir)
			}
		}
		sort.Strings(matches)
		switch len(matches) {
		case 1:
			dirs = append(dirs, matches[0])
		case 0:
			tok := checkpoint.RandomToken(s.rng, modelTokenChars, usedTokens)
			usedTokens[tok] = true
			dirs = append(dirs, filepath.Join(s.root, modelDirPrefix+tok))
		default:
			return nil, fmt.Errorf("%w: %v", ErrAmbiguousCheckpoint, matches)
		}
	}
	return dirs, nil
}

// phasePartial trains every grid point to the partial epoch budget and ranks
// the resulting snapshots.
func (s *Searcher) phasePartial(dirs []string) (Ranking, error) {
	for i, dir := range dirs {
		s.log.Info("1st run", "config", i+1, "of", len(dirs), "checkpoint", dir)
		store := checkpoint.NewStore(dir, s.log)
		if store.HasModel(s.epochPartial) {
			continue
		}
		tcfg := config.Merge(s.static, s.grid[i])
		tr, err := trainer.New(dir, trainer.Fresh{Config: tcfg}, s.trainerDeps(dir))
		if err != nil {
			return nil, fmt.Errorf("1st run config %d: %w", i+1, err)
		}
		if err := tr.Train(trainer.TrainOptions{EpochSave: 1, EpochPartial: s.epochPartial}); err != nil {
			return nil, fmt.Errorf("1st run config %d: %w", i+1, err)
		}
	}

	ranking := make(Ranking, 0, len(dirs))
	for i, dir := range dirs {
		s.log.Info("1st run eval", "config", i+1, "of", len(dirs))
		epochDir := checkpoint.NewStore(dir, s.log).EpochDir(s.epochPartial)
		_, score, err := s.EvalSingleModel(epochDir)
		if err != nil {
			return nil, fmt.Errorf("1st run eval %s: %w", epochDir, err)
		}
		ranking = append(ranking, Entry{Checkpoint: epochDir, Score: score})
	}
	ranking.Sort()
	if err := config.WriteJSON(filepath.Join(s.root, MetricFirstFile), ranking); err != nil {
		return nil, err
	}
	s.logRanking("1st run results", ranking)
	return ranking, nil
}

// phaseFull trains the top configurations to the full epoch budget and ranks
// every saved epoch snapshot across them.
func (s *Searcher) phaseFull(first Ranking) (Ranking, error) {
	top := first.Top(s.nMaxConfig)
	modelDirs := make([]string, 0, len(top))
	for i, entry := range top {
		dir := filepath.Dir(entry.Checkpoint)
		s.log.Info("2nd run", "config", i+1, "of", len(top), "metric", entry.Score)
		modelDirs = append(modelDirs, dir)
		store := checkpoint.NewStore(dir, s.log)
		if store.HasModel(s.static.Epoch) {
			continue
		}
		tr, err := trainer.New(dir, trainer.Resume{}, s.trainerDeps(dir))
		if err != nil {
			return nil, fmt.Errorf("2nd run %s: %w", dir, err)
		}
		if err := tr.Train(trainer.TrainOptions{EpochSave: 1}); err != nil {
			return nil, fmt.Errorf("2nd run %s: %w", dir, err)
		}
	}

	var ranking Ranking
	for i, dir := range modelDirs {
		s.log.Info("2nd run eval", "config", i+1, "of", len(modelDirs))
		store := checkpoint.NewStore(dir, s.log)
		for _, e := range store.ModelEpochs() {
			epochDir := store.EpochDir(e)
			_, score, err := s.EvalSingleModel(epochDir)
			if err != nil {
				return nil, fmt.Errorf("2nd run eval %s: %w", epochDir, err)
			}
			ranking = append(ranking, Entry{Checkpoint: epochDir, Score: score})
		}
	}
	if len(ranking) == 0 {
		return nil, fmt.Errorf("2nd run produced no evaluable checkpoints")
	}
	ranking.Sort()
	if err := config.WriteJSON(filepath.Join(s.root, MetricSecondFile), ranking); err != nil {
		return nil, err
	}
	s.logRanking("2nd run results", ranking)
	return ranking, nil
}

// phaseExtend keeps training the winner one epoch at a time through the
// additional-training override file, stopping at the first epoch that does
// not strictly improve on the running best. The prior epoch is the final
// selection.
func (s *Searcher) phaseExtend(ctx context.Context, runID, bestDir string, epoch int, bestScore float64, cfg config.Training) (string, config.Training, error) {
	s.log.Info("3rd run", "target", bestDir, "metric", bestScore)
	store := checkpoint.NewStore(bestDir, s.log)
	record := []EpochEntry{{Epoch: epoch, Score: bestScore}}
	for {
		epoch++
		s.log.Info("3rd run train", "epoch", epoch)
		cfg.Epoch = epoch
		if err := config.WriteJSON(filepath.Join(bestDir, config.AdditionalTrainingFile), cfg); err != nil {
			return "", cfg, err
		}
		if !store.HasModel(epoch) {
			tr, err := trainer.New(bestDir, trainer.Resume{ConfigFile: config.AdditionalTrainingFile}, s.trainerDeps(bestDir))
			if err != nil {
				return "", cfg, fmt.Errorf("3rd run epoch %d: %w", epoch, err)
			}
			if err := tr.Train(trainer.TrainOptions{EpochSave: 1}); err != nil {
				return "", cfg, fmt.Errorf("3rd run epoch %d: %w", epoch, err)
			}
		}
		s.log.Info("3rd run eval", "epoch", epoch)
		_, score, err := s.EvalSingleModel(store.EpochDir(epoch))
		if err != nil {
			return "", cfg, fmt.Errorf("3rd run eval epoch %d: %w", epoch, err)
		}
		record = append(record, EpochEntry{Epoch: epoch, Score: score})
		s.publishMetric(ctx, runID, "phase3/"+s.eval.Metric, score, int64(epoch))
		// Ties do not count as improvement: the extension only continues on a
		// strictly better metric.
		if score <= bestScore {
			s.log.Info("finish 3rd phase, no improvement", "epoch", epoch, "metric", score, "best", bestScore)
			break
		}
		s.log.Info("3rd phase improved the best model", "from", bestScore, "to", score)
		bestScore = score
	}
	if err := config.WriteJSON(filepath.Join(s.root, MetricThirdFile), record); err != nil {
		return "", cfg, err
	}
	cfg.Epoch = epoch - 1
	return store.EpochDir(epoch - 1), cfg, nil
}

// EvalSingleModel evaluates one epoch snapshot on the configured split. The
// per-checkpoint metric cache makes repeated evaluation idempotent: a cached
// split entry is returned without touching the model.
func (s *Searcher) EvalSingleModel(epochDir string) (map[string]map[string]float64, float64, error) {
	metricPath := filepath.Join(epochDir, "eval", "metric.json")
	metric := make(map[string]map[string]float64)
	if _, err := os.Stat(metricPath); err == nil {
		if err := config.ReadJSON(metricPath, &metric); err != nil {
			return nil, 0, err
		}
	}
	split := s.eval.DataSplit
	if cached, ok := metric[split]; ok {
		score, ok := cached[s.eval.Metric]
		if !ok {
			return nil, 0, fmt.Errorf("cached metric for %s lacks %s", epochDir, s.eval.Metric)
		}
		return metric, score, nil
	}

	m, err := s.deps.NewModel(epochDir, s.eval.MaxLengthEval, false, nil, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load checkpoint %s: %w", epochDir, err)
	}
	ds, err := s.deps.LoadSplit(split)
	if err != nil {
		return nil, 0, err
	}
	cacheFile := filepath.Join(s.deps.CacheDir, "encoded",
		fmt.Sprintf("%s.%d.%v.%s.pkl", s.static.Model, s.eval.MaxLengthEval, m.UsesCRF(), split))
	result, err := m.Evaluate(ds, model.EvalOptions{
		BatchSize:           s.batchSizeEval,
		CacheFeatureFile:    cacheFile,
		CachePredictionFile: filepath.Join(epochDir, "eval", "prediction."+split+".json"),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("evaluation failed for %s: %w", epochDir, err)
	}
	score, ok := result[s.eval.Metric]
	if !ok {
		return nil, 0, fmt.Errorf("evaluation of %s did not produce %s", epochDir, s.eval.Metric)
	}
	metric[split] = result
	if err := config.WriteJSON(metricPath, metric); err != nil {
		return nil, 0, err
	}
	return metric, score, nil
}

// trainerDeps gives each spawned trainer its own training.log inside its
// checkpoint directory, keeping per-configuration noise out of the search log.
func (s *Searcher) trainerDeps(dir string) trainer.Deps {
	deps := s.deps
	deps.Logger = logging.New(filepath.Join(dir, "training.log"))
	return deps
}

func (s *Searcher) logRanking(msg string, ranking Ranking) {
	for i, e := range ranking {
		s.log.Info(msg, "rank", i, "metric", e.Score, "model", e.Checkpoint)
	}
}

func epochOf(epochDir string) (int, error) {
	base := filepath.Base(epochDir)
	n, err := strconv.Atoi(strings.TrimPrefix(base, "epoch_"))
	if err != nil {
		return 0, fmt.Errorf("not an epoch snapshot path: %s", epochDir)
	}
	return n, nil
}
