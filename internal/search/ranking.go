package search

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Ranked metric files persisted per phase.
const (
	MetricFirstFile  = "metric.1st.json"
	MetricSecondFile = "metric.2nd.json"
	MetricThirdFile  = "metric.3rd.json"
)

// Entry is one ranked (checkpoint, score) pair, serialized as a two-element
// array to keep the on-disk metric files a plain sortable list.
type Entry struct {
	Checkpoint string
	Score      float64
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Checkpoint, e.Score})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Checkpoint); err != nil {
		return fmt.Errorf("ranked entry checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Score); err != nil {
		return fmt.Errorf("ranked entry score: %w", err)
	}
	return nil
}

type Ranking []Entry

// Sort orders entries descending by score. The sort is stable so ties keep
// their enumeration order and repeated runs persist identical files.
func (r Ranking) Sort() {
	sort.SliceStable(r, func(i, j int) bool { return r[i].Score > r[j].Score })
}

// Top returns the best n entries (or all of them when fewer exist).
func (r Ranking) Top(n int) Ranking {
	if n > len(r) {
		n = len(r)
	}
	return r[:n]
}

// EpochEntry is one (epoch, score) pair of the phase-3 extension record.
type EpochEntry struct {
	Epoch int
	Score float64
}

func (e EpochEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Epoch, e.Score})
}

func (e *EpochEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Epoch); err != nil {
		return fmt.Errorf("epoch entry epoch: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Score); err != nil {
		return fmt.Errorf("epoch entry score: %w", err)
	}
	return nil
}
