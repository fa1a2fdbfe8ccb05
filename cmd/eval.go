package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sayakyi/nergrid/internal/config"
	"github.com/sayakyi/nergrid/internal/dataset"
	"github.com/sayakyi/nergrid/internal/model"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a saved model snapshot on a data split",
	Long: `Load a saved epoch snapshot and score it on a data split, printing
entity-level precision, recall and F1. Predictions are written next to the
snapshot under eval/.`,
	Example: `  nergrid eval --model-dir ckpt/run1/epoch_10 --data-split test`,
	RunE:    runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().String("model-dir", "", "Saved snapshot directory (required)")
	evalCmd.Flags().String("data-split", "test", "Data split to evaluate on")
	evalCmd.Flags().Int("max-length", 128, "Maximum sequence length")
	evalCmd.Flags().Int("batch-size", 256, "Evaluation mini-batch size")
	evalCmd.MarkFlagRequired("model-dir")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	dir, _ := cmd.Flags().GetString("model-dir")
	split, _ := cmd.Flags().GetString("data-split")
	maxLength, _ := cmd.Flags().GetInt("max-length")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	m, err := model.Open(dir, maxLength, false, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to load model from %s: %w", dir, err)
	}
	ds, err := dataset.Load(cfg.DataDir, split)
	if err != nil {
		return fmt.Errorf("failed to load data split %s: %w", split, err)
	}

	result, err := m.Evaluate(ds, model.EvalOptions{
		BatchSize:           batchSize,
		CachePredictionFile: filepath.Join(dir, "eval", "prediction."+split+".json"),
	})
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
