package batch

import (
	"fmt"
	"path/filepath"
	"strings"

	"dsm-tiler/internal/model"
)

const DefaultPrefix = "batch"

type Options struct {
	// Size is the number of tiles per batch. Size <= 0 disables batching: the
	// whole catalog becomes one batch rooted directly at Root.
	Size   int
	Prefix string
	Root   string
}

// Partition splits tiles into consecutive batches in catalog order and assigns
// every tile a working directory under exactly one batch root. Incoming
// WorkingDir values are ignored.
func Partition(tiles []model.TileTask, opts Options) ([]model.Batch, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if len(tiles) == 0 {
		return []model.Batch{}, nil
	}

	if opts.Size <= 0 {
		return []model.Batch{newBatch("", root, tiles)}, nil
	}

	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	out := make([]model.Batch, 0, (len(tiles)+opts.Size-1)/opts.Size)
	for start, n := 0, 0; start < len(tiles); start, n = start+opts.Size, n+1 {
		end := min(start+opts.Size, len(tiles))
		label := prefix + "_" + Suffix(n)
		out = append(out, newBatch(label, filepath.Join(root, label), tiles[start:end]))
	}
	return out, nil
}

func newBatch(label, root string, tiles []model.TileTask) model.Batch {
	b := model.Batch{
		Label:      label,
		OutputRoot: root,
		Tiles:      make([]model.TileTask, len(tiles)),
	}
	for i, t := range tiles {
		t.WorkingDir = filepath.Join(root, model.TileDirName(t.ID))
		b.Tiles[i] = t
	}
	return b
}

// Suffix returns the spreadsheet-style letter label for a zero-based index:
// 0 -> A, 25 -> Z, 26 -> AA, 27 -> AB.
func Suffix(index int) string {
	if index < 0 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}
