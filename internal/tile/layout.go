package tile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dsm-tiler/internal/fetch"
	"dsm-tiler/internal/runstore"
)

const (
	ArchiveDir   = "ARCHIVE"
	CanonicalDir = "CANONICAL"
	DerivedDir   = "DERIVED"
	MarkerFile   = ".complete.json"
	LogFile      = "tile.log"

	DefaultOutputSuffix = "_DSM"
	RasterExt           = ".tif"
)

type Format string

const (
	FormatArchive     Format = "archive"
	FormatCanonical   Format = "canonical"
	FormatUnsupported Format = "unsupported"
)

// Classify maps a source file name onto its point-cloud format by extension.
func Classify(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".laz":
		return FormatArchive
	case ".las":
		return FormatCanonical
	default:
		return FormatUnsupported
	}
}

type Paths struct {
	Root      string
	Archive   string
	Canonical string
	Derived   string
	Marker    string
	Log       string
}

func PathsFor(workingDir string) Paths {
	return Paths{
		Root:      workingDir,
		Archive:   filepath.Join(workingDir, ArchiveDir),
		Canonical: filepath.Join(workingDir, CanonicalDir),
		Derived:   filepath.Join(workingDir, DerivedDir),
		Marker:    filepath.Join(workingDir, MarkerFile),
		Log:       filepath.Join(workingDir, LogFile),
	}
}

// Ensure creates the tile tree. Existing directories are left as they are.
func (p Paths) Ensure() error {
	if strings.TrimSpace(p.Root) == "" {
		return fmt.Errorf("tile working directory is required")
	}
	for _, dir := range []string{p.Archive, p.Canonical, p.Derived} {
		if err := runstore.Mkdir(dir); err != nil {
			return err
		}
	}
	return nil
}

// DestinationFor returns where a source file of the given name is stored.
// Names that are not a single path segment are unsupported.
func (p Paths) DestinationFor(name string) (string, Format) {
	if name == ".." || strings.ContainsAny(name, `/\`) {
		return "", FormatUnsupported
	}
	format := Classify(name)
	switch format {
	case FormatArchive:
		return filepath.Join(p.Archive, name), format
	case FormatCanonical:
		return filepath.Join(p.Canonical, name), format
	default:
		return "", format
	}
}

func DerivedName(sourceName, suffix string) string {
	base := filepath.Base(sourceName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + suffix + RasterExt
}

// ExpectedDerivedName recomputes a tile's primary raster name from its source
// reference alone.
func ExpectedDerivedName(sourceRef, suffix string) (string, error) {
	_, name, err := fetch.ResolveReference(sourceRef)
	if err != nil {
		return "", err
	}
	return DerivedName(name, suffix), nil
}

// listFiles returns regular files in dir whose extension matches ext, sorted.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ext) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}
