// Package main implements the tessera binary: a range-partitioned
// table store with query routing, online split/merge maintenance, and
// an aggregate pre-computation cache, served over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/arkilian/tessera/internal/app"
	"github.com/arkilian/tessera/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		storageType string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&storageType, "storage-type", "", "Checkpoint storage type: local, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tessera - Range-Partitioned Table Store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tessera [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tessera --data-dir /data/tessera\n")
		fmt.Fprintf(os.Stderr, "  tessera --config /etc/tessera/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_HTTP_ADDR         HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_TABLE_BOUNDARIES  Comma-separated boundary dates (YYYY-MM-DD)\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_STORAGE_TYPE      Checkpoint storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("tessera version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env file is optional; the environment wins when both exist.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, httpAddr, storageType)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Stop error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command
// line flags, in increasing priority.
func loadConfig(configFile, dataDir, httpAddr, storageType string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}

	return cfg, nil
}
