// Package main wires the gateway's HTTP entrypoint together from the
// independently-testable packages that do the actual work.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/api/handlers"
	"github.com/dban0001/llmgateway/billing"
	"github.com/dban0001/llmgateway/catalog"
	"github.com/dban0001/llmgateway/config"
	"github.com/dban0001/llmgateway/cost"
	"github.com/dban0001/llmgateway/credentials"
	"github.com/dban0001/llmgateway/family"
	"github.com/dban0001/llmgateway/healthmon"
	"github.com/dban0001/llmgateway/internal/metrics"
	"github.com/dban0001/llmgateway/internal/server"
	"github.com/dban0001/llmgateway/llm/idempotency"
	"github.com/dban0001/llmgateway/logqueue"
	"github.com/dban0001/llmgateway/rcache"
	"github.com/dban0001/llmgateway/router"
	"github.com/dban0001/llmgateway/storage"
	"github.com/dban0001/llmgateway/tokencount"
	"github.com/dban0001/llmgateway/topup"
)

// Server owns every long-lived component the gateway binary starts: the
// HTTP and metrics listeners, the background log worker and auto-topup
// runner, the provider health monitor, and the hot-reloadable config
// manager.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	store *storage.Store
	rdb   *redis.Client

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler
	logQueue      *logqueue.RedisQueue

	metricsCollector *metrics.Collector

	healthMonitor *healthmon.Monitor
	logWorker     *logqueue.Worker
	topupRunner   *topup.Runner

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a new server instance. store and rdb may be nil if
// the database or redis were unreachable at startup, in which case every
// handler/worker that needs them is skipped; the health/version endpoints
// and the config API are registered regardless.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, store *storage.Store, rdb *redis.Client) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      store,
		rdb:        rdb,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start initializes handlers, background workers, and both listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("llmgateway", s.logger)

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	s.startBackgroundWork()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
		zap.Bool("persistence_enabled", s.store != nil),
	)

	return nil
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Server) initHandlers() error {
	family.SetLogger(s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.store != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.store.Ping))
	}
	if s.rdb != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
			return s.rdb.Ping(ctx).Err()
		}))
	}

	if s.store == nil {
		s.logger.Warn("persistence unavailable, chat endpoint disabled")
		return nil
	}

	cat := catalog.New()
	creds := credentials.New(s.store.ProviderKeys(), credentials.OSEnvLookup)

	s.healthMonitor = healthmon.New(cat, s.logger)

	rt := router.New(cat, creds, s.store.ProviderKeys(), s.store.ProviderKeys(), s.healthMonitor)

	var cache *rcache.Cache
	if s.rdb != nil {
		cache = rcache.New(s.rdb, s.cfg.Gateway.DefaultCacheTTL, s.logger)
	}

	calc := cost.New(cat)
	tokens := tokencount.New()

	var queue logqueue.Queue
	if s.rdb != nil {
		s.logQueue = logqueue.NewRedisQueue(s.rdb, s.logger)
		queue = s.logQueue
	}

	s.chatHandler = handlers.NewChatHandler(
		s.store.ApiKeys(),
		s.store.Projects(),
		cat,
		rt,
		cache,
		calc,
		tokens,
		queue,
		http.DefaultClient,
		s.logger,
	)

	s.logger.Info("handlers initialized")
	return nil
}

func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("configuration reloaded")
		s.cfg = newConfig
	})

	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)
	return nil
}

// =============================================================================
// Background workers
// =============================================================================

// startBackgroundWork launches the provider health monitor, the log
// worker, and the auto-topup runner. It is a no-op when persistence
// (and therefore the components initHandlers built) is unavailable.
func (s *Server) startBackgroundWork() {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.healthMonitor != nil {
		s.healthMonitor.Start(ctx)
	}

	if s.rdb == nil {
		s.logger.Warn("redis unavailable, log worker and response cache disabled")
		return
	}

	idem := idempotency.NewRedisManager(s.rdb, "llmgateway:idem", s.logger)
	s.topupRunner = topup.New(
		s.store.TopUp(),
		s.store.Locks(),
		stubFeeCalculator{},
		stubPaymentProcessor{logger: s.logger},
		s.cfg.Gateway.AutoTopUpLockLease,
		s.logger,
	)

	s.logWorker = logqueue.NewWorker(
		s.logQueue,
		s.store.Logs(),
		idem,
		s.topupRunner.Run,
		s.cfg.Server.IsProduction(),
		s.logger,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logWorker.Run(ctx)
	}()
}

// stubFeeCalculator and stubPaymentProcessor are the explicit integration
// seam topup.Runner needs: the dependency pack carries no concrete
// payment-processor SDK, so these satisfy the two opaque interfaces
// (topup.FeeCalculator, billing.PaymentProcessor) with a flat schedule and
// a processor that logs instead of calling out. Replace both with real
// adapters once a processor is chosen.
type stubFeeCalculator struct{}

func (stubFeeCalculator) Calculate(ctx context.Context, plan, cardCountry string, baseAmount float64) (topup.FeeBreakdown, error) {
	return topup.FeeBreakdown{BaseAmount: baseAmount, TotalAmount: baseAmount}, nil
}

type stubPaymentProcessor struct {
	logger *zap.Logger
}

func (p stubPaymentProcessor) CreatePaymentIntent(ctx context.Context, params billing.PaymentIntentParams) (billing.PaymentIntentResult, error) {
	p.logger.Warn("no payment processor configured, refusing auto-topup charge",
		zap.String("customer_id", params.CustomerID))
	return billing.PaymentIntentResult{}, fmt.Errorf("no payment processor configured")
}

// =============================================================================
// HTTP server
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	if s.chatHandler != nil {
		mux.Handle("/v1/chat/completions", s.chatHandler)
	}

	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("configuration API registered")
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	bgCtx := context.Background()
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(bgCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// Metrics server
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until a termination signal arrives, then runs
// Shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the hot reload manager, then the background workers, then
// the HTTP and metrics servers, waits for their goroutines, and closes redis.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown...")

	ctx := context.Background()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.healthMonitor != nil {
		s.healthMonitor.Stop()
	}
	if s.logWorker != nil {
		s.logWorker.Stop()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
