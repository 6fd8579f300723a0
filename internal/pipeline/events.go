package pipeline

import "dsm-tiler/internal/model"

type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventBatchStarted  EventKind = "batch_started"
	EventTileStage     EventKind = "tile_stage"
	EventTileFinished  EventKind = "tile_finished"
	EventBatchFinished EventKind = "batch_finished"
	EventRunFinished   EventKind = "run_finished"
)

type Event struct {
	Kind   EventKind
	RunID  string
	Batch  string
	TileID string
	// Index is the 1-based catalog position of the tile; Total is the tile count
	// of the whole run.
	Index   int
	Total   int
	Timing  model.StageTiming
	Result  *model.TileResult
	Summary *model.RunSummary
}

// Observer receives pipeline events. Stage events may arrive from download
// goroutines, so implementations must be safe for concurrent use.
type Observer func(Event)
