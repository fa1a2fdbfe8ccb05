package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Split is one named dataset split with aligned token and tag sequences.
type Split struct {
	Name   string
	Tokens [][]string
	Labels [][]string
}

func (s *Split) Len() int {
	return len(s.Tokens)
}

// Load reads a split from <dataDir>/<name>.txt. The file is CoNLL style: one
// "token<sep>tag" pair per line, sentences separated by blank lines. A name
// containing "+" loads and concatenates several splits.
func Load(dataDir, name string) (*Split, error) {
	if strings.Contains(name, "+") {
		parts := strings.Split(name, "+")
		splits := make([]*Split, 0, len(parts))
		for _, p := range parts {
			s, err := Load(dataDir, p)
			if err != nil {
				return nil, err
			}
			splits = append(splits, s)
		}
		return Concat(name, splits...), nil
	}

	path := filepath.Join(dataDir, name+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data split %s: %w", name, err)
	}
	defer f.Close()

	split := &Split{Name: name}
	var tokens, labels []string
	flush := func() {
		if len(tokens) > 0 {
			split.Tokens = append(split.Tokens, tokens)
			split.Labels = append(split.Labels, labels)
			tokens, labels = nil, nil
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			flush()
			continue
		}
		if strings.HasPrefix(text, "-DOCSTART-") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed line %d in %s: %q", line, path, text)
		}
		tokens = append(tokens, fields[0])
		labels = append(labels, fields[len(fields)-1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data split %s: %w", name, err)
	}
	flush()

	if split.Len() == 0 {
		return nil, fmt.Errorf("data split %s is empty", name)
	}
	return split, nil
}

// Concat merges splits into one, preserving sentence order.
func Concat(name string, splits ...*Split) *Split {
	out := &Split{Name: name}
	for _, s := range splits {
		out.Tokens = append(out.Tokens, s.Tokens...)
		out.Labels = append(out.Labels, s.Labels...)
	}
	return out
}

// LabelSet returns the sorted set of tags seen in the split. Sorting keeps the
// label index deterministic across runs with the same data.
func (s *Split) LabelSet() []string {
	seen := make(map[string]bool)
	for _, sent := range s.Labels {
		for _, l := range sent {
			seen[l] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
