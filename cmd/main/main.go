package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/leadops/api/funnel-events-processor/internal/cache"
	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/healthcheck"
	"gitlab.com/leadops/api/funnel-events-processor/internal/identity"
	"gitlab.com/leadops/api/funnel-events-processor/internal/jetstream"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/storage"
	"gitlab.com/leadops/api/funnel-events-processor/internal/usecase"
	"gitlab.com/leadops/api/funnel-events-processor/internal/webhook"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	// Log startup information
	logger.Log.Info("Starting Funnel Events Processor",
		zap.String("environment", cfg.Environment),
		zap.String("tenant_id", cfg.Tenant.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Tenant.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Create repository adapters for the service
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	journalRepo := storage.NewJournalRepoAdapter(postgresRepo)

	// Identity resolution and delivery dedupe
	resolver := identity.NewResolver(contactRepo)
	dedupe := cache.NewDedupeCache(cfg.Tenant.ID, cfg.Dedupe.Capacity, cfg.Dedupe.FalsePositiveRate)

	// Create the ingest service, publishing outcome notifications through JetStream
	service := usecase.NewIngestService(contactRepo, journalRepo, resolver, dedupe, jsClient, cfg.NATS.OutcomeSubject)

	// Create and set up processor for the relay consumer
	processor := usecase.NewProcessor(service, jsClient, cfg, cfg.Tenant.ID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	// Create replay worker pool for re-driving journaled deliveries
	replayWorker, err := usecase.NewReplayWorker(cfg.WorkerPools.Replay, journalRepo, service, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize replay worker pool", zap.Error(err))
	}

	// Create webhook gateway server (direct ingress plus operator admin surface)
	webhookServer := webhook.NewServer(cfg.Webhook.Port, cfg.Tenant.ID, service, replayWorker, logger.Log)

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	// Start health check server (which now might include /metrics)
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start processor
	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	// Start webhook gateway
	webhookServer.Start()
	logger.Log.Info("Webhook gateway listening",
		zap.String("ingest", fmt.Sprintf("http://localhost:%d/webhooks/%s/{source}", cfg.Webhook.Port, cfg.Tenant.ID)),
	)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	// Use WaitGroup to track shutdown of all components
	var wg sync.WaitGroup

	// Processor, webhook gateway, replay worker, health server, databases
	numComponents := 5
	wg.Add(numComponents)

	// Shutdown processor (JetStream consumer)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping event processor")
		start := time.Now()
		processor.Stop()
		logger.Log.Info("[shutdown] Event processor stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping event processor",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done() // Ensure WaitGroup is decremented even in case of panic
	})

	// Shutdown webhook gateway
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping webhook gateway")
		start := time.Now()
		if err := webhookServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping webhook gateway", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Webhook gateway stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping webhook gateway",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown replay worker pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping replay worker pool")
		start := time.Now()
		replayWorker.Stop()
		logger.Log.Info("[shutdown] Replay worker pool stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping replay worker pool",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done() // Ensure WaitGroup is decremented even in case of panic
	})

	// Close database connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		// Close JetStream connection
		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing database connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done() // Ensure WaitGroup is decremented even in case of panic
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Funnel Events Processor shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, tenantID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client. Stream and consumer
// setup is handled within the processor Setup method.
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
