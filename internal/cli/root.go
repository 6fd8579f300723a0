package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runTiles(args[1:])
	case "plan":
		return runPlan(args[1:])
	case "status":
		return runStatus(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("dsm-tiler: turn a catalog of point-cloud tiles into surface model rasters")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  dsm-tiler init --catalog tiles.csv")
	fmt.Println("  dsm-tiler run --catalog tiles.csv --output tiles")
	fmt.Println("  dsm-tiler status --output tiles")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       download, convert and derive every tile in the catalog")
	fmt.Println("  plan      show how the catalog splits into batches without doing any work")
	fmt.Println("  status    inspect an output root: markers, batches, last summary")
	fmt.Println("  cleanup   remove ARCHIVE/CANONICAL intermediates of completed tiles")
	fmt.Println("  init      write a starter config + run environment checks")
	fmt.Println("  doctor    run dependency, catalog and filesystem preflight checks")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Settings resolve as defaults < config file < DSM_TILER_* env < flags")
	fmt.Println("  - The config file is --config, then $DSM_TILER_CONFIG, then ./dsm-tiler.yaml if present")
}
