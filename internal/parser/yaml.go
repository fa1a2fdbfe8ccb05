package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/sayakyi/nergrid/internal/search"
)

func ParseYAMLAxes(reader io.Reader) (*search.Axes, error) {
	var axes search.Axes
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&axes); err != nil {
		return nil, fmt.Errorf("failed to parse YAML search axes: %w", err)
	}

	return &axes, nil
}
