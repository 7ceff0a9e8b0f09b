package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/config"
	"github.com/dban0001/llmgateway/storage"
)

// =============================================================================
// Database Migration Command
// =============================================================================

// runMigrate opens the configured database and runs storage.Migrate, the
// gorm.AutoMigrate-driven schema sync every model in storage/models.go
// participates in. There is no separate up/down/goto ladder here: unlike
// the teacher's golang-migrate-backed tooling, schema state lives entirely
// in the struct tags AutoMigrate reads, so "migrate" always means "bring
// the schema up to what the binary currently expects."
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	store, err := storage.Open(storage.Driver(cfg.Database.Driver), cfg.Database.DSN(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect database: %v\n", err)
		os.Exit(1)
	}

	if err := store.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Schema is up to date.")
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Command

Usage:
  gatewayd migrate [options]

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  gatewayd migrate
  gatewayd migrate --config /etc/gatewayd/config.yaml`)
}
