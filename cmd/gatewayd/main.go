// =============================================================================
// Gateway entrypoint
// =============================================================================
// Full service entrypoint: HTTP service, health checks, Prometheus metrics.
//
// Usage:
//
//	gatewayd serve                       # start the server
//	gatewayd serve --config config.yaml  # point at a specific config file
//	gatewayd version                     # print version info
//	gatewayd health                      # check server health
//	gatewayd migrate                     # bring the schema up to date
// =============================================================================

// @title LLM Gateway API
// @version 1.0.0
// @description A multi-provider LLM gateway routing chat completions across OpenAI, Claude, Gemini, DeepSeek, and custom providers.
// @description
// @description ## Features
// @description - Multi-provider LLM routing with per-organization credential resolution
// @description - Runtime config management API (hot reload, change history)
// @description - Streaming responses via SSE
// @description - Background provider health monitoring and Prometheus metrics

// @contact.name Gateway Team
// @contact.url https://github.com/dban0001/llmgateway

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dban0001/llmgateway/config"
	"github.com/dban0001/llmgateway/internal/telemetry"
	"github.com/dban0001/llmgateway/storage"
)

// =============================================================================
// Version info (injected at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// main
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
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

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if _, err := telemetry.Init(cfg.Telemetry, logger); err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	store, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Warn("database not available, persistence-backed routes disabled", zap.Error(err))
		store = nil
	} else if err := store.Migrate(); err != nil {
		logger.Error("schema migration failed", zap.Error(err))
	}

	rdb, err := openRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis not available, caching/queue/topup disabled", zap.Error(err))
		rdb = nil
	}

	srv := NewServer(cfg, *configPath, logger, store, rdb)

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	logger.Info("gateway stopped")
}

// =============================================================================
// health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// version / usage
// =============================================================================

func printVersion() {
	fmt.Printf("gatewayd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`gatewayd - multi-provider LLM gateway

Usage:
  gatewayd <command> [options]

Commands:
  serve     Start the gateway server
  migrate   Bring the database schema up to date
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  gatewayd serve
  gatewayd serve --config /etc/gatewayd/config.yaml
  gatewayd migrate
  gatewayd health --addr http://localhost:8080
  gatewayd version`)
}

// =============================================================================
// Logging
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}

// openStore opens the configured database driver via the storage
// package's three-dialect Open, rather than hardcoding one driver.
func openStore(dbCfg config.DatabaseConfig, logger *zap.Logger) (*storage.Store, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	store, err := storage.Open(storage.Driver(dbCfg.Driver), dbCfg.DSN(), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return store, nil
}

// openRedis connects to the configured redis instance and verifies it
// with a ping before handing it back.
func openRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address not configured")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return rdb, nil
}
