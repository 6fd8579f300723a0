package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dsm-tiler/internal/catalog"
	"dsm-tiler/internal/config"
	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/runstore"
)

const DefaultConfigPath = "dsm-tiler.yaml"

type DoctorOptions struct {
	Config     config.Config
	ConfigPath string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type InitWorkspaceOptions struct {
	ConfigPath string
	Config     config.Config
}

type InitWorkspaceResult struct {
	OutputRoot        string       `json:"output_root"`
	ConfigPath        string       `json:"config_path"`
	CreatedOutputRoot bool         `json:"created_output_root"`
	CreatedConfig     bool         `json:"created_config"`
	DoctorResult      DoctorResult `json:"doctor"`
}

// Doctor runs preflight checks: engine binary, output root writability, and the
// catalog schema when a catalog source is configured.
func Doctor(ctx context.Context, opts DoctorOptions) (DoctorResult, error) {
	cfg := opts.Config
	checks := make([]DoctorCheck, 0, 4)

	dep := engine.DependencyStatus(cfg.Engine.Binary)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:" + dep.Binary,
		OK:      dep.Found,
		Message: dependencyMessage(dep.Found, dep.Path, dep.Binary),
	})

	rootOK, rootMessage := ensureWritableDir(cfg.Output.Root)
	checks = append(checks, DoctorCheck{
		Name:    "directory:output",
		OK:      rootOK,
		Message: rootMessage,
	})

	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		checks = append(checks, configCheck(path))
	}
	if strings.TrimSpace(cfg.Catalog.Source) != "" {
		checks = append(checks, catalogCheck(ctx, cfg))
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}, nil
}

// InitWorkspace creates the output root and writes a starter config file when
// none exists yet.
func InitWorkspace(ctx context.Context, opts InitWorkspaceOptions) (InitWorkspaceResult, error) {
	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	root := strings.TrimSpace(opts.Config.Output.Root)

	createdRoot := false
	if _, err := os.Stat(root); os.IsNotExist(err) {
		createdRoot = true
	}
	if err := runstore.Mkdir(root); err != nil {
		return InitWorkspaceResult{}, err
	}

	createdConfig := false
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		data, err := yaml.Marshal(opts.Config)
		if err != nil {
			return InitWorkspaceResult{}, err
		}
		if err := runstore.Mkdir(filepath.Dir(configPath)); err != nil {
			return InitWorkspaceResult{}, err
		}
		if err := runstore.WriteBytes(configPath, data); err != nil {
			return InitWorkspaceResult{}, err
		}
		createdConfig = true
	}

	doc, err := Doctor(ctx, DoctorOptions{Config: opts.Config, ConfigPath: configPath})
	if err != nil {
		return InitWorkspaceResult{}, err
	}
	return InitWorkspaceResult{
		OutputRoot:        root,
		ConfigPath:        configPath,
		CreatedOutputRoot: createdRoot,
		CreatedConfig:     createdConfig,
		DoctorResult:      doc,
	}, nil
}

func configCheck(path string) DoctorCheck {
	check := DoctorCheck{Name: "config:" + filepath.Base(path)}
	if _, err := config.LoadFromFile(path); err != nil {
		check.Message = err.Error()
		return check
	}
	check.OK = true
	check.Message = "valid"
	return check
}

func catalogCheck(ctx context.Context, cfg config.Config) DoctorCheck {
	check := DoctorCheck{Name: "catalog:" + catalog.Kind(cfg.Catalog.Source)}
	src, err := catalog.Open(ctx, cfg.CatalogOptions(nil))
	if err != nil {
		check.Message = err.Error()
		return check
	}
	defer src.Close()

	fields := []string{cfg.Catalog.LinkField}
	if strings.TrimSpace(cfg.Catalog.IDField) != "" {
		fields = append(fields, cfg.Catalog.IDField)
	}
	if err := catalog.RequireFields(ctx, src, fields...); err != nil {
		check.Message = err.Error()
		return check
	}
	check.OK = true
	check.Message = src.Name() + " exposes " + strings.Join(fields, ", ")
	return check
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "dsm-tiler-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
