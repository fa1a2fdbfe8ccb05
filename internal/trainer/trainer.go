// Package trainer owns one model/optimizer/scheduler lifecycle over a
// checkpoint directory: it resumes from the latest complete epoch or
// initializes fresh, then runs the epoch loop with gradient accumulation,
// clipping and periodic checkpointing.
package trainer

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/sayakyi/nergrid/internal/checkpoint"
	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/dataset"
	"github.com/sayakyi/nergrid/internal/model"
	"github.com/sayakyi/nergrid/internal/optimize"
)

// ErrTrainingComplete is returned when the resumed epoch already equals the
// configured epoch count.
var ErrTrainingComplete = errors.New("model training is over")

// ErrConfigMismatch is returned when a supplied config disagrees with the one
// persisted in the checkpoint directory. Persisted configs are never
// reconciled silently.
var ErrConfigMismatch = errors.New("config mismatch with persisted config")

// logInterval is the number of mini-batches between running-loss log lines.
const logInterval = 50

// Source selects how a Trainer obtains its configuration: a fresh config for
// a new (or matching) directory, or a resume from whatever the directory
// already persists.
type Source interface {
	isSource()
}

// Fresh carries a full training config. If the directory already holds a
// config it must match exactly.
type Fresh struct {
	Config config.Training
}

func (Fresh) isSource() {}

// Resume trains from the config persisted in the directory. ConfigFile
// defaults to trainer_config.json; the additional-training override file is
// the only sanctioned way to extend the epoch budget of a finished run.
type Resume struct {
	ConfigFile string
}

func (Resume) isSource() {}

// Deps are the external collaborators: the model constructor, the dataset
// loader and the feature cache location. Tests substitute fakes here.
type Deps struct {
	NewModel  func(ref string, maxLength int, crf bool, labels []string, rng *rand.Rand) (model.NER, error)
	LoadSplit func(name string) (*dataset.Split, error)
	CacheDir  string
	Logger    *slog.Logger
}

// DefaultDeps wires the built-in tagger and the on-disk dataset loader.
func DefaultDeps(dataDir, cacheDir string, logger *slog.Logger) Deps {
	return Deps{
		NewModel: func(ref string, maxLength int, crf bool, labels []string, rng *rand.Rand) (model.NER, error) {
			return model.Open(ref, maxLength, crf, labels, rng)
		},
		LoadSplit: func(name string) (*dataset.Split, error) {
			return dataset.Load(dataDir, name)
		},
		CacheDir: cacheDir,
		Logger:   logger,
	}
}

type Trainer struct {
	store *checkpoint.Store
	cfg   config.Training
	deps  Deps
	log   *slog.Logger

	model         model.NER
	split         *dataset.Split
	rng           *rand.Rand
	currentEpoch  int
	stepsPerEpoch int

	opt   *optimize.AdamW
	sched *optimize.LinearSchedule
}

type TrainOptions struct {
	// EpochSave writes a full checkpoint every EpochSave epochs (0 = only at
	// the end of the run).
	EpochSave int
	// EpochPartial stops the loop after that many epochs without completing
	// the configured budget, for rank-and-compare training.
	EpochPartial int
}

// New scans dir for the highest complete epoch and builds a Trainer resuming
// from it, or a fresh one when nothing is resumable. It fails with
// ErrTrainingComplete when the resumed epoch already equals the configured
// epoch count.
func New(dir string, src Source, deps Deps) (*Trainer, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	store := checkpoint.NewStore(dir, log)
	current := store.LatestEpoch()

	cfg, err := resolveConfig(dir, src, current)
	if err != nil {
		return nil, err
	}
	if current >= cfg.Epoch {
		return nil, fmt.Errorf("checkpoint %s is at epoch %d of %d: %w", dir, current, cfg.Epoch, ErrTrainingComplete)
	}

	// Seeding is per-Trainer state so several trainers in one process cannot
	// cross-contaminate each other.
	rng := rand.New(rand.NewSource(int64(cfg.RandomSeed)))

	split, err := deps.LoadSplit(cfg.DataSplit)
	if err != nil {
		return nil, fmt.Errorf("failed to load training split: %w", err)
	}

	ref := cfg.Model
	if current > 0 {
		ref = store.EpochDir(current)
		log.Info("resuming from checkpoint", "path", ref, "epoch", current)
	}
	m, err := deps.NewModel(ref, cfg.MaxLength, cfg.CRF, split.LabelSet(), rng)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	t := &Trainer{
		store:         store,
		cfg:           cfg,
		deps:          deps,
		log:           log,
		model:         m,
		split:         split,
		rng:           rng,
		currentEpoch:  current,
		stepsPerEpoch: split.Len() / cfg.BatchSize / cfg.GradientAccumulationSteps,
	}
	t.logHyperparameters()
	return t, nil
}

func resolveConfig(dir string, src Source, current int) (config.Training, error) {
	switch s := src.(type) {
	case Resume:
		name := s.ConfigFile
		if name == "" {
			name = config.TrainingFile
		}
		cfg, err := config.LoadTraining(filepath.Join(dir, name))
		if err != nil {
			return config.Training{}, fmt.Errorf("failed to load persisted config: %w", err)
		}
		return cfg, nil
	case Fresh:
		path := filepath.Join(dir, config.TrainingFile)
		if _, err := os.Stat(path); err == nil {
			persisted, err := config.LoadTraining(path)
			if err != nil {
				return config.Training{}, fmt.Errorf("failed to load persisted config: %w", err)
			}
			if !config.EqualJSON(persisted, s.Config) {
				return config.Training{}, fmt.Errorf("checkpoint %s: %w", dir, ErrConfigMismatch)
			}
			return persisted, nil
		}
		if current > 0 {
			return config.Training{}, fmt.Errorf("checkpoint %s has epochs but no config file", dir)
		}
		if err := s.Config.Save(path); err != nil {
			return config.Training{}, fmt.Errorf("failed to persist config: %w", err)
		}
		return s.Config, nil
	default:
		return config.Training{}, fmt.Errorf("unknown trainer source %T", src)
	}
}

func (t *Trainer) logHyperparameters() {
	t.log.Info("hyperparameters",
		"data_split", t.cfg.DataSplit,
		"model", t.cfg.Model,
		"crf", t.cfg.CRF,
		"max_length", t.cfg.MaxLength,
		"epoch", t.cfg.Epoch,
		"batch_size", t.cfg.BatchSize,
		"lr", t.cfg.LR,
		"random_seed", t.cfg.RandomSeed,
		"gradient_accumulation_steps", t.cfg.GradientAccumulationSteps,
		"weight_decay", floatOrNil(t.cfg.WeightDecay),
		"lr_warmup_step_ratio", floatOrNil(t.cfg.LRWarmupStepRatio),
		"max_grad_norm", floatOrNil(t.cfg.MaxGradNorm),
	)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// CurrentEpoch is the number of completed epochs the trainer resumed at.
func (t *Trainer) CurrentEpoch() int { return t.currentEpoch }

// Config returns the resolved training configuration.
func (t *Trainer) Config() config.Training { return t.cfg }

// Store exposes the underlying checkpoint store.
func (t *Trainer) Store() *checkpoint.Store { return t.store }

// Partition splits parameters into the weight-decay group and the exempt
// group; bias and normalization parameters never decay.
func Partition(params []*optimize.Parameter) (decay, noDecay []*optimize.Parameter) {
	for _, p := range params {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, "bias") || strings.Contains(name, "norm") {
			noDecay = append(noDecay, p)
		} else {
			decay = append(decay, p)
		}
	}
	return decay, noDecay
}

func (t *Trainer) setupOptimizer() error {
	params := t.model.NamedParameters()
	var groups []optimize.Group
	if t.cfg.WeightDecay != nil && *t.cfg.WeightDecay != 0 {
		decay, noDecay := Partition(params)
		groups = []optimize.Group{
			{Params: decay, WeightDecay: *t.cfg.WeightDecay},
			{Params: noDecay, WeightDecay: 0},
		}
	} else {
		groups = []optimize.Group{{Params: params}}
	}
	t.opt = optimize.NewAdamW(groups, t.cfg.LR)

	if t.cfg.LRWarmupStepRatio != nil {
		total := t.stepsPerEpoch * t.cfg.Epoch
		warmup := int(float64(total) * *t.cfg.LRWarmupStepRatio)
		t.sched = optimize.NewLinearSchedule(t.opt, warmup, total)
	}

	if t.currentEpoch > 0 {
		snap, err := t.store.LoadOptimizer(t.currentEpoch)
		if err != nil {
			return fmt.Errorf("failed to resume optimizer state: %w", err)
		}
		t.log.Info("loaded optimizer state", "epoch", t.currentEpoch)
		if err := t.opt.LoadStateDict(snap.Optimizer); err != nil {
			return err
		}
		if t.sched != nil && snap.Scheduler != nil {
			t.sched.LoadStateDict(*snap.Scheduler)
		}
		// Drop the snapshot eagerly; the moment slices were handed over.
		snap.Optimizer = optimize.State{}
	}
	return nil
}

// Train runs epochs from the resumed epoch to the configured total, writing
// an unconditional checkpoint when the loop ends.
func (t *Trainer) Train(opts TrainOptions) error {
	if t.currentEpoch >= t.cfg.Epoch {
		return fmt.Errorf("checkpoint %s: %w", t.store.Dir, ErrTrainingComplete)
	}
	t.model.TrainMode()
	if err := t.setupOptimizer(); err != nil {
		return err
	}

	cache := filepath.Join(t.deps.CacheDir, "encoded",
		fmt.Sprintf("%s.%d.%v.%s.pkl", t.cfg.Model, t.cfg.MaxLength, t.cfg.CRF, t.cfg.DataSplit))
	loader, err := t.model.Loader(t.split, model.LoaderOptions{
		BatchSize: t.cfg.BatchSize,
		Shuffle:   true,
		DropLast:  true,
		CacheFile: cache,
		Rng:       t.rng,
	})
	if err != nil {
		return fmt.Errorf("failed to build data loader: %w", err)
	}

	t.log.Info("start model training", "steps_per_epoch", t.stepsPerEpoch)
	last := t.currentEpoch
	for e := t.currentEpoch; e < t.cfg.Epoch; e++ {
		if err := t.trainEpoch(e, loader); err != nil {
			return err
		}
		last = e
		if opts.EpochSave > 0 && (e+1)%opts.EpochSave == 0 {
			if err := t.save(e); err != nil {
				return err
			}
		}
		if opts.EpochPartial > 0 && e+1 == opts.EpochPartial {
			break
		}
	}
	if err := t.save(last); err != nil {
		return err
	}
	t.log.Info("complete training", "checkpoint_dir", t.store.Dir)
	return nil
}

func (t *Trainer) trainEpoch(e int, loader *model.Loader) error {
	t.opt.ZeroGrad()
	var losses []float64
	for n, b := range loader.Epoch() {
		loss, err := t.model.EncodeToLoss(b)
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", e, n, err)
		}
		if t.cfg.MaxGradNorm != nil {
			optimize.ClipGradNorm(t.model.NamedParameters(), *t.cfg.MaxGradNorm)
		}
		losses = append(losses, loss)
		if (n+1)%t.cfg.GradientAccumulationSteps != 0 {
			continue
		}
		t.opt.Step()
		if t.sched != nil {
			t.sched.Step()
		}
		t.opt.ZeroGrad()
		if len(losses)%logInterval == 0 {
			t.log.Info("training step", "global_step", len(losses), "loss", mean(losses), "lr", t.opt.LR())
		}
	}
	t.opt.ZeroGrad()
	t.log.Info("epoch done", "epoch", e, "of", t.cfg.Epoch, "avg_loss", mean(losses), "lr", t.opt.LR())
	return nil
}

// save writes the checkpoint for completed epoch e as epoch e+1: model
// snapshot first, then the optimizer snapshot which marks the epoch complete.
func (t *Trainer) save(e int) error {
	dir := t.store.EpochDir(e + 1)
	t.log.Info("model saving", "path", dir)
	if err := t.model.Save(dir); err != nil {
		return fmt.Errorf("failed to save model snapshot: %w", err)
	}
	snap := &checkpoint.OptimizerSnapshot{Optimizer: t.opt.StateDict()}
	if t.sched != nil {
		st := t.sched.StateDict()
		snap.Scheduler = &st
	}
	if err := t.store.SaveOptimizer(e+1, snap); err != nil {
		return fmt.Errorf("failed to save optimizer snapshot: %w", err)
	}
	t.currentEpoch = e + 1
	return nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
