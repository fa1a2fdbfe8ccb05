package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "nergrid",
	Short: "NER training and grid-search tool",
	Long: `A command line tool for training token-classification (NER) models.
Supports checkpoint-resumable training and a three-phase hyperparameter
grid search with optional MLflow result tracking.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding dataset splits (overrides NERGRID_DATA_DIR)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Directory for encoded-feature caches (overrides NERGRID_CACHE_DIR)")
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI (overrides NERGRID_TRACKING_URI)")
	rootCmd.PersistentFlags().String("experiment-id", "", "Tracking experiment ID (overrides NERGRID_EXPERIMENT_ID)")
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("NERGRID")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("cache_dir", "cache")
	viper.SetDefault("metric", "micro/f1")
}
