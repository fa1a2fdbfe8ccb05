package parser

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sayakyi/nergrid/internal/search"
)

func ParseJSONAxes(reader io.Reader) (*search.Axes, error) {
	var axes search.Axes
	decoder := json.NewDecoder(reader)

	if err := decoder.Decode(&axes); err != nil {
		return nil, fmt.Errorf("failed to parse JSON search axes: %w", err)
	}

	return &axes, nil
}
