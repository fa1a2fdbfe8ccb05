package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sayakyi/nergrid/internal/config"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(&config.Config{})
	assert.Error(t, err, "tracking URI required")

	_, err = NewClient(&config.Config{TrackingURI: "http://localhost:5000"})
	assert.Error(t, err, "experiment ID required")
}

func TestIsDatabricksURI(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{"databricks", true},
		{"databricks://profile", true},
		{"https://dbc-123.cloud.databricks.com", true},
		{"https://adb-123.azuredatabricks.net/path", true},
		{"https://ws.gcp.databricks.com", true},
		{"http://localhost:5000", false},
		{"https://mlflow.example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isDatabricksURI(tt.uri), tt.uri)
	}
}
