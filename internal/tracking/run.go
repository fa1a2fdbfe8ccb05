package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
)

// StartRun creates a new tracking run and returns its ID.
func (c *Client) StartRun(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = "run-" + time.Now().Format("2006-01-02-15-04-05")
	}
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: c.experimentID,
		RunName:      name,
		StartTime:    time.Now().UnixMilli(),
		Tags: []ml.RunTag{
			{Key: "mlflow.runName", Value: name},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return resp.Run.Info.RunId, nil
}

// EndRun marks the run finished or failed.
func (c *Client) EndRun(ctx context.Context, runID string, ok bool) error {
	status := ml.UpdateRunStatusFinished
	if !ok {
		status = ml.UpdateRunStatusFailed
	}
	_, err := c.client.Experiments.UpdateRun(ctx, ml.UpdateRun{
		RunId:   runID,
		Status:  status,
		EndTime: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// LogParams logs every key/value pair as a run parameter.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	for key, value := range params {
		err := c.client.Experiments.LogParam(ctx, ml.LogParam{
			RunId: runID,
			Key:   key,
			Value: value,
		})
		if err != nil {
			return fmt.Errorf("failed to log parameter %s: %w", key, err)
		}
	}
	return nil
}

// LogMetric logs one metric value at the given step.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	err := c.client.Experiments.LogMetric(ctx, ml.LogMetric{
		RunId:     runID,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
		Step:      step,
	})
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}
