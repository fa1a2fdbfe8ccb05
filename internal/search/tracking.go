package search

import (
	"context"
	"fmt"
	"path/filepath"
)

// Tracking is optional and best effort: a tracking failure is logged and the
// search carries on, since hours of training should never die on a metrics
// push.

func (s *Searcher) startTracking(ctx context.Context) string {
	if s.tracker == nil {
		return ""
	}
	runID, err := s.tracker.StartRun(ctx, "grid-search-"+filepath.Base(s.root))
	if err != nil {
		s.log.Warn("failed to start tracking run", "error", err)
		return ""
	}
	params := map[string]string{
		"data_split":      s.static.DataSplit,
		"model":           s.static.Model,
		"batch_size":      fmt.Sprint(s.static.BatchSize),
		"epoch":           fmt.Sprint(s.static.Epoch),
		"max_length":      fmt.Sprint(s.static.MaxLength),
		"epoch_partial":   fmt.Sprint(s.epochPartial),
		"n_max_config":    fmt.Sprint(s.nMaxConfig),
		"eval_data_split": s.eval.DataSplit,
		"eval_metric":     s.eval.Metric,
		"grid_size":       fmt.Sprint(len(s.grid)),
	}
	if err := s.tracker.LogParams(ctx, runID, params); err != nil {
		s.log.Warn("failed to log tracking params", "error", err)
	}
	return runID
}

func (s *Searcher) publishBest(ctx context.Context, runID, phase string, ranking Ranking) {
	if len(ranking) == 0 {
		return
	}
	s.publishMetric(ctx, runID, phase+"/"+s.eval.Metric, ranking[0].Score, 0)
}

func (s *Searcher) publishMetric(ctx context.Context, runID, key string, value float64, step int64) {
	if s.tracker == nil || runID == "" {
		return
	}
	if err := s.tracker.LogMetric(ctx, runID, key, value, step); err != nil {
		s.log.Warn("failed to log tracking metric", "key", key, "error", err)
	}
}

func (s *Searcher) endTracking(ctx context.Context, runID string, ok bool) {
	if s.tracker == nil || runID == "" {
		return
	}
	if err := s.tracker.EndRun(ctx, runID, ok); err != nil {
		s.log.Warn("failed to end tracking run", "error", err)
	}
}
