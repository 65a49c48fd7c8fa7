// Package main runs one batch: read the song and log datasets, build the
// star schema and publish it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fidde/songplay_lake/internal/app"
	"github.com/fidde/songplay_lake/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "config file (YAML, or INI such as dl.cfg)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	if cfg.File != "" {
		log.Printf("Using config file %s", cfg.File)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		log.Fatalf("Error initializing pipeline: %v", err)
	}

	report, err := a.Runner.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		log.Printf("Error closing storage: %v", cerr)
	}
	if err != nil {
		if report != nil {
			log.Printf("Run %s failed: %v", report.ID, err)
		} else {
			log.Printf("Run failed: %v", err)
		}
		os.Exit(1)
	}

	log.Printf("Run %s succeeded in %s", report.ID, report.Duration())
	for table, rows := range report.Tables {
		log.Printf("  - %s: %d rows", table, rows)
	}
	log.Printf("Matched %d of %d song plays", report.Join.MatchedEvents, report.Input.SongPlays)
}
