package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSplit(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, "train", `-DOCSTART- O

John B-PER
Smith I-PER
lives O
in O
London B-LOC

EU B-ORG
rejects O
`)

	s, err := Load(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, "train", s.Name)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"John", "Smith", "lives", "in", "London"}, s.Tokens[0])
	assert.Equal(t, []string{"B-PER", "I-PER", "O", "O", "B-LOC"}, s.Labels[0])
	assert.Equal(t, []string{"EU", "rejects"}, s.Tokens[1])
}

func TestLoadExtraColumns(t *testing.T) {
	dir := t.TempDir()
	// CoNLL-2003 carries POS and chunk columns; the tag is always the last one.
	writeSplit(t, dir, "train", "EU NNP I-NP B-ORG\nrejects VBZ I-VP O\n")

	s, err := Load(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, []string{"B-ORG", "O"}, s.Labels[0])
}

func TestLoadMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, "train", "John B-PER\nonlyonetoken\n")

	_, err := Load(dir, "train")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "malformed line 2")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), "train")
	assert.Error(t, err)
}

func TestLoadEmptySplit(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, "train", "\n\n")
	_, err := Load(dir, "train")
	assert.Error(t, err)
}

func TestLoadConcat(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, "train", "a B-X\n")
	writeSplit(t, dir, "valid", "b O\n\nc B-Y\n")

	s, err := Load(dir, "train+valid")
	require.NoError(t, err)
	assert.Equal(t, "train+valid", s.Name)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a"}, s.Tokens[0])
	assert.Equal(t, []string{"c"}, s.Tokens[2])
}

func TestLabelSet(t *testing.T) {
	s := &Split{
		Tokens: [][]string{{"a", "b"}, {"c"}},
		Labels: [][]string{{"B-PER", "O"}, {"B-LOC"}},
	}
	assert.Equal(t, []string{"B-LOC", "B-PER", "O"}, s.LabelSet())
}
