// Package main is the entry point for the songplay control server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fidde/songplay_lake/internal/api"
	"github.com/fidde/songplay_lake/internal/app"
	"github.com/fidde/songplay_lake/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "config file (YAML, or INI such as dl.cfg)")
	flag.Parse()

	log.Println("Starting songplay server...")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	// Runs are cancelled only after the API has stopped accepting requests.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	a, err := app.New(runCtx, cfg, nil, logger)
	if err != nil {
		log.Fatalf("Error initializing pipeline: %v", err)
	}

	apiServer := api.NewServer(runCtx, cfg.Server.Addr, a.Runner, a.History, nil, logger)

	// Start pprof server for profiling (separate port)
	pprofAddr := getEnv("PPROF_ADDR", "localhost:6060")
	go func() {
		log.Printf("Starting pprof server on http://%s/debug/pprof", pprofAddr)
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting REST API server on %s", cfg.Server.Addr)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Println("API endpoints:")
	log.Printf("  - Runs: http://%s/api/v1/runs", cfg.Server.Addr)
	log.Printf("  - Health: http://%s/health", cfg.Server.Addr)
	log.Printf("  - Metrics: http://%s/metrics", cfg.Server.Addr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Println("Shutting down API server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	if cur := a.Runner.Current(); cur != nil {
		log.Printf("Waiting for run %s to finish...", cur.ID)
		done := make(chan struct{})
		go func() {
			a.Runner.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Println("Run did not finish in time, cancelling")
			cancelRuns()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
		}
	}

	log.Println("Closing storage...")
	if err := a.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Println("Shutdown complete")
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
