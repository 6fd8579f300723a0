package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"dsm-tiler/internal/discovery"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := bindConfigFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := cf.resolve()
	if err != nil {
		return err
	}
	if path == "" {
		path = discovery.DefaultConfigPath
	}

	res, err := discovery.InitWorkspace(context.Background(), discovery.InitWorkspaceOptions{
		ConfigPath: path,
		Config:     cfg,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("output_root: %s\n", res.OutputRoot)
	fmt.Printf("config: %s\n", res.ConfigPath)
	fmt.Printf("created_output_root: %t\n", res.CreatedOutputRoot)
	fmt.Printf("created_config: %t\n", res.CreatedConfig)
	fmt.Println("checks:")
	printChecks("  ", res.DoctorResult.Checks)
	if !res.DoctorResult.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: dsm-tiler run")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cf := bindConfigFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := cf.resolve()
	if err != nil {
		return err
	}

	res, err := discovery.Doctor(context.Background(), discovery.DoctorOptions{
		Config:     cfg,
		ConfigPath: path,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	printChecks("", res.Checks)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func printChecks(indent string, checks []discovery.DoctorCheck) {
	for _, c := range checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, status, c.Message)
	}
}
