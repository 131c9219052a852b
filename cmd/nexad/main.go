// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// nexad is the Nexa media server daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ManuGH/nexa/internal/daemon"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/version"
)

func main() {
	var (
		cfgPath     = flag.String("config", "", "path to the YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nexad %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	app, err := daemon.New(context.Background(), *cfgPath, version.Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nexad: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(context.Background()); err != nil {
		logger := log.WithComponent("main")
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}
