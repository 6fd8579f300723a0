package tile

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrUnsupportedFormat = errors.New("tile: unsupported source format")
	ErrNoCanonicalOutput = errors.New("tile: no canonical output")
	ErrMarkerWrite       = errors.New("tile: completion marker write failed")
	ErrWorkdir           = errors.New("tile: working directory unavailable")
)

// DerivationWarning records one canonical file whose raster could not be produced.
// It never fails the tile.
type DerivationWarning struct {
	Canonical string
	Err       error
}

func (w *DerivationWarning) Error() string {
	return fmt.Sprintf("derivation warning: %s: %v", filepath.Base(w.Canonical), w.Err)
}

func (w *DerivationWarning) Unwrap() error {
	return w.Err
}
