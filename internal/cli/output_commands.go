package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"dsm-tiler/internal/config"
	"dsm-tiler/internal/discovery"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: $"+configEnv+" or ./"+discovery.DefaultConfigPath+")")
	output := fs.String("output", "", "output root directory")
	tiles := fs.Bool("tiles", false, "list every tile, not just totals")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := resolveOutputRoot(*configPath, *output)
	if err != nil {
		return err
	}
	res, err := discovery.Status(discovery.StatusOptions{OutputRoot: root})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Printf("%s [%s]\n", res.OutputRoot, res.State)
	if res.Locked {
		fmt.Printf("  locked_by: %s\n", res.LockedBy)
	}
	fmt.Printf("  tiles complete/incomplete: %d/%d\n", res.Totals.Complete, res.Totals.Incomplete)
	fmt.Printf("  with_intermediates: %d\n", res.Totals.Intermediate)
	for _, b := range res.Batches {
		fmt.Printf("  %s: %d/%d complete\n", b.Label, b.Complete, b.Tiles)
	}
	if s := res.LastSummary; s != nil {
		fmt.Printf("  last_run: %s (%s)\n", s.RunID, s.FinishedAt)
		fmt.Printf("  last_run success/failed/resumed: %d/%d/%d\n", s.SuccessCount, s.FailedCount, s.Resumed)
	}
	if *tiles {
		for _, t := range res.Tiles {
			state := "incomplete"
			if t.Complete {
				state = "complete"
			}
			fmt.Printf("  tile %s: %s %s\n", t.TileID, state, t.DerivedFileName)
		}
	}
	switch res.State {
	case "never_run":
		fmt.Println("next: dsm-tiler run --catalog <file> --output " + res.OutputRoot)
	case "needs_retry", "incomplete":
		fmt.Println("next: rerun with the same --output; completed tiles are skipped")
	}
	return nil
}

func runCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: $"+configEnv+" or ./"+discovery.DefaultConfigPath+")")
	output := fs.String("output", "", "output root directory")
	dryRun := fs.Bool("dry-run", false, "report what would be removed without deleting")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := resolveOutputRoot(*configPath, *output)
	if err != nil {
		return err
	}
	if holder, locked := runstore.LockHolder(root); locked {
		return fmt.Errorf("output root %s is in use by run %s", root, holder)
	}

	dirs, err := runstore.ListTileDirs(root)
	if err != nil {
		return err
	}

	var rep tile.CleanupReport
	if *dryRun {
		for _, dir := range dirs {
			if tile.HasMarker(tile.PathsFor(dir)) {
				rep.Cleaned++
			} else {
				rep.Skipped++
			}
		}
	} else {
		rep, err = tile.CleanupDirs(dirs, nil)
		if err != nil {
			return err
		}
	}

	if *jsonOut {
		return printJSON(rep)
	}
	verb := "cleaned"
	if *dryRun {
		verb = "would_clean"
	}
	fmt.Printf("%s: %d\n", verb, rep.Cleaned)
	fmt.Printf("skipped_incomplete: %d\n", rep.Skipped)
	fmt.Printf("removed_dirs: %d\n", len(rep.Removed))
	return nil
}

// resolveOutputRoot loads just enough config to find the output root.
func resolveOutputRoot(configPath, output string) (string, error) {
	if root := strings.TrimSpace(output); root != "" {
		return root, nil
	}
	cfg, err := config.Load(configFilePath(configPath))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.Output.Root) == "" {
		return "", errors.New("--output is required")
	}
	return cfg.Output.Root, nil
}
