package tile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
)

func WriteMarker(p Paths, m model.CompletionMarker) error {
	if err := runstore.WriteJSON(p.Marker, m); err != nil {
		return fmt.Errorf("%w: %w", ErrMarkerWrite, err)
	}
	return nil
}

func ReadMarker(p Paths) (model.CompletionMarker, error) {
	var m model.CompletionMarker
	if err := runstore.ReadJSON(p.Marker, &m); err != nil {
		return model.CompletionMarker{}, err
	}
	return m, nil
}

// RemoveMarker deletes the completion marker. It reports whether one existed.
func RemoveMarker(p Paths) (bool, error) {
	err := os.Remove(p.Marker)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrWorkdir, err)
	}
}

func HasMarker(p Paths) bool {
	return runstore.FileExists(p.Marker)
}

// IsComplete reports whether the tile already carries a completion marker.
func IsComplete(task model.TileTask) bool {
	return HasMarker(PathsFor(task.WorkingDir))
}

// ResumeResult synthesizes the result of an already completed tile without
// touching the network or the engine.
func ResumeResult(task model.TileTask, suffix string) model.TileResult {
	if suffix == "" {
		suffix = DefaultOutputSuffix
	}
	res := model.TileResult{
		TileID:  task.ID,
		Success: true,
		Stage:   model.StateCompleted,
		Resumed: true,
	}
	if name, err := ExpectedDerivedName(task.SourceRef, suffix); err == nil {
		res.DerivedFileName = name
	} else if m, err := ReadMarker(PathsFor(task.WorkingDir)); err == nil {
		res.DerivedFileName = m.DerivedFileName
	}
	return res
}
