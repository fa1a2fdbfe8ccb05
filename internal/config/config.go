package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Valid ranking metrics
var validMetrics = map[string]bool{
	"micro/f1": true,
	"macro/f1": true,
}

type Config struct {
	DataDir      string
	CacheDir     string
	Metric       string
	TrackingURI  string
	ExperimentID string
}

func New() *Config {
	return &Config{
		DataDir:      viper.GetString("data_dir"),
		CacheDir:     viper.GetString("cache_dir"),
		Metric:       viper.GetString("metric"),
		TrackingURI:  viper.GetString("tracking_uri"),
		ExperimentID: viper.GetString("experiment_id"),
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if !validMetrics[c.Metric] {
		return fmt.Errorf("invalid metric: %s (valid: micro/f1, macro/f1)", c.Metric)
	}
	return nil
}

// TrackingEnabled reports whether search results should be published to an
// MLflow tracking server.
func (c *Config) TrackingEnabled() bool {
	return c.TrackingURI != ""
}
