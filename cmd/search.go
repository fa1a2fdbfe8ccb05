package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/logging"
	"github.com/sayakyi/nergrid/internal/parser"
	"github.com/sayakyi/nergrid/internal/search"
	"github.com/sayakyi/nergrid/internal/tracking"
	"github.com/sayakyi/nergrid/internal/trainer"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run the three-phase hyperparameter grid search",
	Long: `Run the grid search over the axes given in the config file:
partially train and rank every configuration, fully train the best ones,
then extend the winner epoch by epoch while the metric keeps improving.
Re-running in the same checkpoint directory resumes where it stopped.`,
	Example: `  nergrid search --checkpoint-dir ckpt/search1 --config axes.yaml \
    --data-split train --data-dev valid --epoch 10 --epoch-partial 3`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().String("checkpoint-dir", "", "Search root directory (required)")
	searchCmd.Flags().String("config", "", "Search axes file, JSON or YAML (required)")
	searchCmd.Flags().String("data-split", "train", "Training data split")
	searchCmd.Flags().String("data-dev", "valid", "Evaluation data split for ranking")
	searchCmd.Flags().String("model", "linear", "Model identifier")
	searchCmd.Flags().Int("epoch", 10, "Total epoch budget")
	searchCmd.Flags().Int("epoch-partial", 1, "Epochs trained in the first phase")
	searchCmd.Flags().Int("n-max-config", 5, "Configurations advancing to the second phase")
	searchCmd.Flags().Int("max-length", 128, "Maximum sequence length for training")
	searchCmd.Flags().Int("max-length-eval", 0, "Maximum sequence length for evaluation (0 = same as --max-length)")
	searchCmd.Flags().Int("batch-size", 128, "Training mini-batch size")
	searchCmd.Flags().Int("batch-size-eval", 256, "Evaluation mini-batch size")
	searchCmd.MarkFlagRequired("checkpoint-dir")
	searchCmd.MarkFlagRequired("config")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	root, _ := cmd.Flags().GetString("checkpoint-dir")
	axesFile, _ := cmd.Flags().GetString("config")
	dataSplit, _ := cmd.Flags().GetString("data-split")
	dataDev, _ := cmd.Flags().GetString("data-dev")
	modelName, _ := cmd.Flags().GetString("model")
	epoch, _ := cmd.Flags().GetInt("epoch")
	epochPartial, _ := cmd.Flags().GetInt("epoch-partial")
	nMaxConfig, _ := cmd.Flags().GetInt("n-max-config")
	maxLength, _ := cmd.Flags().GetInt("max-length")
	maxLengthEval, _ := cmd.Flags().GetInt("max-length-eval")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	batchSizeEval, _ := cmd.Flags().GetInt("batch-size-eval")

	axes, err := loadAxes(axesFile)
	if err != nil {
		return err
	}

	logger := logging.New(filepath.Join(root, "grid_search.log"))
	opts := search.Options{
		Static: config.Static{
			DataSplit: dataSplit,
			Model:     modelName,
			BatchSize: batchSize,
			Epoch:     epoch,
			MaxLength: maxLength,
		},
		Eval: config.Eval{
			MaxLengthEval: maxLengthEval,
			Metric:        cfg.Metric,
			DataSplit:     dataDev,
		},
		Axes:          *axes,
		EpochPartial:  epochPartial,
		NMaxConfig:    nMaxConfig,
		BatchSizeEval: batchSizeEval,
		Deps:          trainer.DefaultDeps(cfg.DataDir, cfg.CacheDir, logger),
		Logger:        logger,
	}

	if cfg.TrackingEnabled() {
		client, err := tracking.NewClient(cfg)
		if err != nil {
			return fmt.Errorf("failed to set up tracking: %w", err)
		}
		opts.Tracker = client
	}

	searcher, err := search.New(root, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize grid search: %w", err)
	}
	if err := searcher.Run(cmd.Context()); err != nil {
		return fmt.Errorf("grid search failed: %w", err)
	}

	fmt.Printf("Grid search complete: %s\n", filepath.Join(root, "best_model"))
	return nil
}

func loadAxes(path string) (*search.Axes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search axes file: %w", err)
	}
	defer f.Close()

	switch filepath.Ext(path) {
	case ".json":
		return parser.ParseJSONAxes(f)
	case ".yaml", ".yml":
		return parser.ParseYAMLAxes(f)
	default:
		return nil, fmt.Errorf("unsupported search axes format: %s (use .json, .yaml or .yml)", path)
	}
}
