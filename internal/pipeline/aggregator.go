package pipeline

import (
	"time"

	"dsm-tiler/internal/model"
)

// Aggregator tallies tile results as they arrive.
type Aggregator struct {
	summary model.RunSummary
	results []model.TileResult
}

func NewAggregator(runID string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		summary: model.RunSummary{
			RunID:     runID,
			StartedAt: startedAt.UTC().Format(time.RFC3339),
			Failures:  []model.FailureDetail{},
		},
	}
}

func (a *Aggregator) Add(r model.TileResult) {
	a.results = append(a.results, r)
	a.summary.TotalTiles++
	a.summary.Warnings += len(r.Warnings)
	if r.Resumed {
		a.summary.Resumed++
	}
	if r.Success {
		a.summary.SuccessCount++
		return
	}
	a.summary.FailedCount++
	a.summary.Failures = append(a.summary.Failures, model.FailureDetail{
		TileID:          r.TileID,
		PartialFileName: r.DerivedFileName,
		Stage:           r.Stage,
		Reason:          r.FailureReason,
		Detail:          r.FailureDetail,
	})
}

func (a *Aggregator) Results() []model.TileResult {
	return a.results
}

func (a *Aggregator) Summary(finishedAt time.Time) model.RunSummary {
	s := a.summary
	s.FinishedAt = finishedAt.UTC().Format(time.RFC3339)
	s.Failures = append([]model.FailureDetail{}, a.summary.Failures...)
	return s
}
