package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/logging"
	"github.com/sayakyi/nergrid/internal/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a single checkpoint directory",
	Long: `Train one NER model lifecycle in a checkpoint directory.
A directory holding a complete epoch is resumed from its latest snapshot;
an empty directory is initialized with the given hyperparameters.`,
	Example: `  # Fresh training run
  nergrid train --checkpoint-dir ckpt/run1 --data-split train --epoch 10

  # Resume with the persisted config
  nergrid train --checkpoint-dir ckpt/run1 --resume`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("checkpoint-dir", "", "Checkpoint directory (required)")
	trainCmd.Flags().Bool("resume", false, "Use the config persisted in the checkpoint directory")
	trainCmd.Flags().String("config-file", "", "Alternative persisted config file name (implies --resume)")
	trainCmd.Flags().String("data-split", "train", "Training data split")
	trainCmd.Flags().String("model", "linear", "Model identifier")
	trainCmd.Flags().Bool("crf", false, "Use a CRF output layer")
	trainCmd.Flags().Int("max-length", 128, "Maximum sequence length")
	trainCmd.Flags().Int("epoch", 10, "Total epoch count")
	trainCmd.Flags().Int("batch-size", 128, "Mini-batch size")
	trainCmd.Flags().Float64("lr", 1e-4, "Learning rate")
	trainCmd.Flags().Int("random-seed", 42, "Random seed")
	trainCmd.Flags().Int("gradient-accumulation-steps", 4, "Mini-batches per optimizer step")
	trainCmd.Flags().Float64("weight-decay", 1e-7, "Weight decay (0 disables)")
	trainCmd.Flags().Float64("lr-warmup-step-ratio", 0, "Warmup ratio of total steps (unset disables the scheduler)")
	trainCmd.Flags().Float64("max-grad-norm", 0, "Gradient clipping threshold (unset disables clipping)")
	trainCmd.Flags().Int("epoch-save", 0, "Checkpoint every N epochs (0 = only at the end)")
	trainCmd.Flags().Int("epoch-partial", 0, "Stop after N epochs without completing the budget")
	trainCmd.MarkFlagRequired("checkpoint-dir")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	dir, _ := cmd.Flags().GetString("checkpoint-dir")
	resume, _ := cmd.Flags().GetBool("resume")
	configFile, _ := cmd.Flags().GetString("config-file")
	epochSave, _ := cmd.Flags().GetInt("epoch-save")
	epochPartial, _ := cmd.Flags().GetInt("epoch-partial")

	logger := logging.New(filepath.Join(dir, "training.log"))
	deps := trainer.DefaultDeps(cfg.DataDir, cfg.CacheDir, logger)

	var src trainer.Source
	if resume || configFile != "" {
		src = trainer.Resume{ConfigFile: configFile}
	} else {
		src = trainer.Fresh{Config: trainingConfigFromFlags(cmd)}
	}

	tr, err := trainer.New(dir, src, deps)
	if err != nil {
		return fmt.Errorf("failed to initialize trainer: %w", err)
	}
	if err := tr.Train(trainer.TrainOptions{EpochSave: epochSave, EpochPartial: epochPartial}); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	fmt.Printf("Training complete: %s (epoch %d)\n", dir, tr.CurrentEpoch())
	return nil
}

func trainingConfigFromFlags(cmd *cobra.Command) config.Training {
	dataSplit, _ := cmd.Flags().GetString("data-split")
	modelName, _ := cmd.Flags().GetString("model")
	crf, _ := cmd.Flags().GetBool("crf")
	maxLength, _ := cmd.Flags().GetInt("max-length")
	epoch, _ := cmd.Flags().GetInt("epoch")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	lr, _ := cmd.Flags().GetFloat64("lr")
	seed, _ := cmd.Flags().GetInt("random-seed")
	accum, _ := cmd.Flags().GetInt("gradient-accumulation-steps")

	return config.Training{
		DataSplit:                 dataSplit,
		Model:                     modelName,
		CRF:                       crf,
		MaxLength:                 maxLength,
		Epoch:                     epoch,
		BatchSize:                 batchSize,
		LR:                        lr,
		RandomSeed:                seed,
		GradientAccumulationSteps: accum,
		WeightDecay:               optionalFloat(cmd, "weight-decay"),
		LRWarmupStepRatio:         optionalFloat(cmd, "lr-warmup-step-ratio"),
		MaxGradNorm:               optionalFloat(cmd, "max-grad-norm"),
	}
}

// optionalFloat maps a float flag onto the nullable hyperparameter fields:
// zero means "no constraint".
func optionalFloat(cmd *cobra.Command, name string) *float64 {
	v, _ := cmd.Flags().GetFloat64(name)
	if v == 0 {
		return nil
	}
	return config.Float(v)
}
