// panelctl cleans and merges the security and accounting panels.
//
// Usage:
//
//	panelctl [flags] [security|accounting|merge|verify|all]
//
// The exit code tells a failed gate (3) from a failed worker (4) and a bad
// configuration (2).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/pipeline"
	"github.com/panelkit/panelkit/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// CLI flags
	cfgPath := flag.String("config", "", "config file path (defaults when empty)")
	dataDir := flag.String("data-dir", "", "output directory (overrides config)")
	workers := flag.Int("workers", 0, "worker count (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	metricsFile := flag.String("metrics-textfile", "", "Prometheus textfile written after the run")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [security|accounting|merge|verify|all]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("panelctl", Version)
		return errors.ExitOK
	}

	stage := pipeline.StageAll
	if flag.NArg() > 1 {
		flag.Usage()
		return errors.ExitInvalidConfig
	}
	if flag.NArg() == 1 {
		s, err := pipeline.ParseStage(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return errors.ExitCode(err)
		}
		stage = s
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errors.ExitCode(err)
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *workers != 0 {
		cfg.Engine.WorkerCount = *workers
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logJSON {
		cfg.Logging.JSON = true
	}
	if *metricsFile != "" {
		cfg.Metrics.Textfile = *metricsFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errors.ExitCode(err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("panelctl")
	log.Info("panelctl starting", "version", Version, "stage", stage, "config", *cfgPath)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Error("create pipeline", "error", err)
		return errors.ExitCode(err)
	}

	// Cancel in-flight workers on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx, stage); err != nil {
		code := errors.ExitCode(err)
		log.Error("panelctl failed", "error", err, "exit", errors.ExitName(code))
		return code
	}
	return errors.ExitOK
}
