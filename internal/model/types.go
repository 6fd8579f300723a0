package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Failure reason codes recorded on TileResult and in the run summary.
const (
	ReasonMalformedReference = "malformed_reference"
	ReasonUnsupportedFormat  = "unsupported_format"
	ReasonDownloadFailed     = "download_failed"
	ReasonConversionFailed   = "conversion_failed"
	ReasonNoCanonicalOutput  = "no_canonical_output"
	ReasonWorkdirError       = "workdir_error"
	ReasonDuplicateTileID    = "duplicate_tile_id"
	ReasonCanceled           = "canceled"
)

const (
	tileDirPrefix  = "tile_"
	tileDirHashLen = 8
)

type TileTask struct {
	ID         string `json:"id"`
	SourceRef  string `json:"source_ref"`
	WorkingDir string `json:"working_dir"`
}

type AttemptOutcome string

const (
	AttemptSuccess        AttemptOutcome = "success"
	AttemptTransientError AttemptOutcome = "transient_error"
	AttemptFatalError     AttemptOutcome = "fatal_error"
)

type DownloadAttempt struct {
	Number  int            `json:"number"`
	Outcome AttemptOutcome `json:"outcome"`
	Elapsed time.Duration  `json:"elapsed"`
	Err     string         `json:"error,omitempty"`
}

type TileResult struct {
	TileID          string        `json:"tile_id"`
	Success         bool          `json:"success"`
	DerivedFileName string        `json:"derived_file_name,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	FailureDetail   string        `json:"failure_detail,omitempty"`
	Stage           TileState     `json:"stage,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	DerivedFiles    []string      `json:"derived_files,omitempty"`
	Resumed         bool          `json:"resumed,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

type CompletionMarker struct {
	TileID          string   `json:"tile_id"`
	SourceRef       string   `json:"source_ref"`
	DerivedFileName string   `json:"derived_file_name"`
	DerivedFiles    []string `json:"derived_files"`
	CompletedAt     string   `json:"completed_at"`
	RunID           string   `json:"run_id,omitempty"`
}

type Batch struct {
	Label      string     `json:"label"`
	Tiles      []TileTask `json:"tiles"`
	OutputRoot string     `json:"output_root"`
}

type FailureDetail struct {
	TileID          string    `json:"tile_id"`
	PartialFileName string    `json:"partial_file_name,omitempty"`
	Stage           TileState `json:"stage,omitempty"`
	Reason          string    `json:"reason"`
	Detail          string    `json:"detail,omitempty"`
}

type RunSummary struct {
	RunID        string          `json:"run_id"`
	StartedAt    string          `json:"started_at"`
	FinishedAt   string          `json:"finished_at"`
	TotalTiles   int             `json:"total_tiles"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	Resumed      int             `json:"resumed"`
	Warnings     int             `json:"warnings"`
	Failures     []FailureDetail `json:"failures"`
}

// TileDirName maps an opaque catalog identifier onto a single safe path segment.
// Identifiers that needed characters replaced get a "~" plus a short hash of the
// original, so distinct identifiers never share a directory.
func TileDirName(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return tileDirPrefix + "unknown"
	}
	var b strings.Builder
	b.Grow(len(tileDirPrefix) + len(id) + 1 + tileDirHashLen)
	b.WriteString(tileDirPrefix)
	replaced := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			replaced = true
		}
	}
	if replaced {
		sum := sha256.Sum256([]byte(id))
		b.WriteByte('~')
		b.WriteString(hex.EncodeToString(sum[:])[:tileDirHashLen])
	}
	return b.String()
}

func IsTileDirName(name string) bool {
	return strings.HasPrefix(name, tileDirPrefix) && len(name) > len(tileDirPrefix)
}

func (s RunSummary) String() string {
	return fmt.Sprintf("total=%d success=%d failed=%d resumed=%d", s.TotalTiles, s.SuccessCount, s.FailedCount, s.Resumed)
}
