// Package main runs one marketplace scrape from start to finish.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/michalporada/framer-marketplace-scraper/internal/app"
	"github.com/michalporada/framer-marketplace-scraper/internal/config"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(scraper.ExitFailure)
	}

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine failed: %v\n", err)
		os.Exit(scraper.ExitFailure)
	}

	// The run summary lands on stdout as a single JSON line; logs go to
	// stderr. Run errors are already logged, so only the exit code matters
	// here.
	summary, _ := a.Run(context.Background())
	os.Exit(summary.ExitCode)
}
