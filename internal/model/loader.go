package model

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/sayakyi/nergrid/internal/dataset"
)

// Batch is a group of encoded sentences. Labels hold the gold label index per
// token, -1 for tags unknown to the model.
type Batch struct {
	Features [][][]uint32
	Labels   [][]int
}

type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	// CacheFile persists the encoded features so repeated runs skip encoding.
	CacheFile string
	Rng       *rand.Rand
}

// Loader serves shuffled mini-batches over an encoded split, re-batching on
// every epoch.
type Loader struct {
	features [][][]uint32
	labels   [][]int
	opts     LoaderOptions
}

type encodedSplit struct {
	Features [][][]uint32
	Labels   [][]int
}

// Loader encodes the split (or restores it from the feature cache) and
// returns a batched loader over it.
func (t *LinearTagger) Loader(split *dataset.Split, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	enc, err := t.encodeSplit(split, opts.CacheFile)
	if err != nil {
		return nil, err
	}
	return &Loader{features: enc.Features, labels: enc.Labels, opts: opts}, nil
}

func (t *LinearTagger) encodeSplit(split *dataset.Split, cacheFile string) (*encodedSplit, error) {
	if cacheFile != "" {
		if enc, err := readEncodedCache(cacheFile); err == nil {
			if len(enc.Features) == len(split.Tokens) {
				return enc, nil
			}
		}
	}
	enc := &encodedSplit{
		Features: make([][][]uint32, split.Len()),
		Labels:   make([][]int, split.Len()),
	}
	for i, tokens := range split.Tokens {
		enc.Features[i] = encodeTokens(tokens, t.spec.MaxLength, t.spec.HashDim)
		n := len(enc.Features[i])
		enc.Labels[i] = make([]int, n)
		for j := 0; j < n; j++ {
			id, ok := t.labelID[split.Labels[i][j]]
			if !ok {
				id = -1
			}
			enc.Labels[i][j] = id
		}
	}
	if cacheFile != "" {
		if err := writeEncodedCache(cacheFile, enc); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

func readEncodedCache(path string) (*encodedSplit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var enc encodedSplit
	if err := gob.NewDecoder(f).Decode(&enc); err != nil {
		return nil, fmt.Errorf("failed to decode feature cache %s: %w", path, err)
	}
	return &enc, nil
}

func writeEncodedCache(path string, enc *encodedSplit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(enc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write feature cache %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *Loader) Len() int { return len(l.features) }

// StepsPerEpoch is the number of mini-batches one epoch yields.
func (l *Loader) StepsPerEpoch() int {
	n := len(l.features) / l.opts.BatchSize
	if !l.opts.DropLast && len(l.features)%l.opts.BatchSize != 0 {
		n++
	}
	return n
}

// Epoch returns the mini-batches for one pass, freshly shuffled when the
// loader was built with Shuffle.
func (l *Loader) Epoch() []*Batch {
	order := make([]int, len(l.features))
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle && l.opts.Rng != nil {
		l.opts.Rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	var batches []*Batch
	for at := 0; at < len(order); at += l.opts.BatchSize {
		hi := at + l.opts.BatchSize
		if hi > len(order) {
			if l.opts.DropLast {
				break
			}
			hi = len(order)
		}
		b := &Batch{
			Features: make([][][]uint32, 0, hi-at),
			Labels:   make([][]int, 0, hi-at),
		}
		for _, ix := range order[at:hi] {
			b.Features = append(b.Features, l.features[ix])
			b.Labels = append(b.Labels, l.labels[ix])
		}
		batches = append(batches, b)
	}
	return batches
}
