package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/declarant/pkg/types"
)

// ProgressFunc reports cumulative progress after each finished chunk.
type ProgressFunc func(processed, total int)

// Orchestrator fans a list of items out to the classification client in
// fixed-size chunks. Items within a chunk run concurrently; chunks run
// strictly in order. A single item's failure never aborts the batch.
type Orchestrator struct {
	Client Classifier
	Logger *slog.Logger
}

// Run classifies every item and returns a BatchRun whose Results slice is
// index-aligned with items. The only error it returns is a malformed call:
// non-empty items with chunkSize < 1.
func (o *Orchestrator) Run(ctx context.Context, items []types.Item, chunkSize int, onProgress ProgressFunc) (*types.BatchRun, error) {
	run := &types.BatchRun{ID: uuid.NewString()}
	if len(items) == 0 {
		run.Results = []types.Result{}
		run.Stats = computeStats(run.Results)
		return run, nil
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	total := len(items)
	results := make([]types.Result, total)
	itemErrs := make([]error, total)

	chunks := (total + chunkSize - 1) / chunkSize
	o.log().Info("batch started", "run_id", run.ID, "items", total, "chunks", chunks, "chunk_size", chunkSize)

	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for idx := start; idx < end; idx++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx], itemErrs[idx] = o.Client.Classify(ctx, items[idx])
			}(idx)
		}
		wg.Wait()

		for idx := start; idx < end; idx++ {
			if err := itemErrs[idx]; err != nil {
				results[idx] = types.Result{
					HSCode:      types.SentinelHSCode,
					Confidence:  0,
					Description: "Ошибка обработки",
					Reasoning:   fmt.Sprintf("Исключение: %v", err),
				}
				run.Errors = append(run.Errors, fmt.Sprintf("Ошибка обработки элемента %d: %v", idx+1, err))
				o.log().Warn("item classification failed", "run_id", run.ID, "item", idx+1, "error", err)
			}
		}

		o.reportProgress(onProgress, end, total)
	}

	run.Results = results
	run.Stats = computeStats(results)
	o.log().Info("batch finished", "run_id", run.ID,
		"successful", run.Stats.Successful, "high_confidence", run.Stats.HighConfidence,
		"errors", len(run.Errors))
	return run, nil
}

// reportProgress never lets a panicking callback kill the batch.
func (o *Orchestrator) reportProgress(fn ProgressFunc, processed, total int) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log().Warn("progress callback panicked", "panic", r)
		}
	}()
	if processed > total {
		processed = total
	}
	fn(processed, total)
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func computeStats(results []types.Result) types.BatchStats {
	stats := types.BatchStats{TotalItems: len(results)}
	sum := 0
	for _, r := range results {
		if r.Confidence > 0 {
			stats.Successful++
			sum += r.Confidence
		}
		if r.Confidence >= types.HighConfidenceThreshold {
			stats.HighConfidence++
		}
	}
	if stats.Successful > 0 {
		stats.AverageConfidence = float64(sum) / float64(stats.Successful)
	}
	return stats
}
