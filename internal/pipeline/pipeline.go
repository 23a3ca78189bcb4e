package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/declarant/internal/classify"
	"github.com/yourorg/declarant/internal/config"
	"github.com/yourorg/declarant/internal/ingest"
	"github.com/yourorg/declarant/internal/store"
	"github.com/yourorg/declarant/pkg/types"
)

// Processor runs one upload end to end: session bookkeeping, batch
// classification, tier statistics and persistence.
type Processor struct {
	Store  store.Store
	Client classify.Classifier
	Config config.ProcessingConfig
	Logger *slog.Logger
}

// Outcome is the result of one processing run.
type Outcome struct {
	Session *types.Session  `json:"session"`
	Run     *types.BatchRun `json:"run"`
}

// Process classifies every prepared row of table and persists the results.
// The session is created up front with status "processing"; any failure after
// that point marks it failed rather than leaving it dangling.
func (p *Processor) Process(ctx context.Context, filename string, table *ingest.Table, mapping ingest.Mapping, onProgress classify.ProgressFunc) (*Outcome, error) {
	start := time.Now()

	sess, err := p.Store.CreateSession(filename, len(table.Rows))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log := p.log().With("session_id", sess.ID, "filename", filename)

	items, err := ingest.PrepareItems(table, mapping)
	if err != nil {
		p.markFailed(sess.ID)
		return nil, fmt.Errorf("prepare items: %w", err)
	}
	log.Info("items prepared", "rows", len(table.Rows), "items", len(items))

	orch := &classify.Orchestrator{Client: p.Client, Logger: p.Logger}
	run, err := orch.Run(ctx, items, p.Config.ChunkSize, func(processed, total int) {
		if upErr := p.Store.UpdateSession(sess.ID, types.SessionUpdate{ProcessedItems: &processed}); upErr != nil {
			log.Warn("progress update failed", "error", upErr)
		}
		if onProgress != nil {
			onProgress(processed, total)
		}
	})
	if err != nil {
		p.markFailed(sess.ID)
		return nil, err
	}

	high, medium, low := p.tierCounts(run.Results)
	elapsed := time.Since(start).Seconds()

	rows := make([]types.StoredResult, 0, len(items))
	for i, item := range items {
		res := run.Results[i]
		rows = append(rows, types.StoredResult{
			RowIndex:            item.RowIndex,
			ProductName:         item.ProductName,
			OriginalDescription: res.Description,
			Category:            item.Extra[ingest.RoleCategory],
			Brand:               item.Extra[ingest.RoleBrand],
			AdditionalInfo:      item.Extra[ingest.RoleAdditionalInfo],
			HSCode:              res.HSCode,
			Confidence:          res.Confidence,
			Reasoning:           res.Reasoning,
			Alternatives:        res.Alternatives,
			UserStatus:          types.StatusPending,
		})
	}
	if err := p.Store.SaveResults(sess.ID, rows); err != nil {
		p.markFailed(sess.ID)
		return nil, fmt.Errorf("save results: %w", err)
	}

	processed := len(run.Results)
	completed := types.SessionCompleted
	if err := p.Store.UpdateSession(sess.ID, types.SessionUpdate{
		ProcessedItems:    &processed,
		HighConfidence:    &high,
		MediumConfidence:  &medium,
		LowConfidence:     &low,
		ProcessingSeconds: &elapsed,
		Status:            &completed,
	}); err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	final, err := p.Store.GetSession(sess.ID)
	if err != nil {
		return nil, err
	}
	log.Info("processing completed", "run_id", run.ID, "items", processed,
		"high", high, "medium", medium, "low", low, "seconds", elapsed)
	return &Outcome{Session: final, Run: run}, nil
}

// tierCounts buckets results by the configured thresholds. A zero high
// threshold means the processor was built without config and both fall back;
// an explicit medium floor of 0 is honored and yields no low tier.
func (p *Processor) tierCounts(results []types.Result) (high, medium, low int) {
	highAt := p.Config.HighConfidence
	mediumAt := p.Config.MediumConfidence
	if highAt == 0 {
		highAt = types.HighConfidenceThreshold
		if mediumAt == 0 {
			mediumAt = types.MediumConfidenceThreshold
		}
	}
	for _, r := range results {
		switch {
		case r.Confidence >= highAt:
			high++
		case r.Confidence >= mediumAt:
			medium++
		default:
			low++
		}
	}
	return high, medium, low
}

func (p *Processor) markFailed(sessionID int64) {
	failed := types.SessionFailed
	if err := p.Store.UpdateSession(sessionID, types.SessionUpdate{Status: &failed}); err != nil {
		p.log().Error("mark session failed", "session_id", sessionID, "error", err)
	}
}

func (p *Processor) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
