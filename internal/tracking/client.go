// Package tracking publishes grid-search results to an MLflow tracking
// server through the Databricks SDK, which speaks the MLflow REST API for
// both Databricks-hosted and self-hosted servers.
package tracking

import (
	"fmt"
	"strings"

	"github.com/databricks/databricks-sdk-go"

	"github.com/sayakyi/nergrid/internal/config"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

type Client struct {
	client       *databricks.WorkspaceClient
	experimentID string
}

func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.TrackingURI == "" {
		return nil, fmt.Errorf("tracking URI is required")
	}
	if cfg.ExperimentID == "" {
		return nil, fmt.Errorf("experiment ID is required when tracking is enabled")
	}

	dbConfig := &databricks.Config{Host: cfg.TrackingURI}
	if !isDatabricksURI(cfg.TrackingURI) {
		// Regular MLflow servers ignore authentication; the SDK still wants a
		// token to consider itself configured.
		dbConfig.Token = "dummy-token-for-regular-mlflow"
	}

	client, err := databricks.NewWorkspaceClient(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	return &Client{client: client, experimentID: cfg.ExperimentID}, nil
}

func isDatabricksURI(uri string) bool {
	if uri == "databricks" || strings.HasPrefix(uri, "databricks://") {
		return true
	}
	host := strings.TrimPrefix(uri, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}
