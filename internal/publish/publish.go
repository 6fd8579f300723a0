package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const rasterContentType = "image/tiff"

// Publisher copies finished rasters to durable storage.
type Publisher interface {
	Name() string
	Put(ctx context.Context, key, localPath string) error
	Close() error
}

// Key builds the object key for one derived file of a tile.
func Key(prefix, tileDir, file string) string {
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, tileDir, filepath.Base(file))
	return path.Join(parts...)
}

// Tile uploads each derived file of a completed tile and returns the keys written.
func Tile(ctx context.Context, pub Publisher, prefix, tileDir, derivedDir string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := Key(prefix, tileDir, f)
		if err := pub.Put(ctx, key, filepath.Join(derivedDir, filepath.Base(f))); err != nil {
			return keys, fmt.Errorf("publish %s to %s: %w", f, pub.Name(), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
