package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/handlers"
	"github.com/crmkit/broadcast-service/internal/cache"
	"github.com/crmkit/broadcast-service/internal/processor"
	"github.com/crmkit/broadcast-service/internal/repository"
	"github.com/crmkit/broadcast-service/internal/scheduler"
	"github.com/crmkit/broadcast-service/internal/service"
	"github.com/crmkit/broadcast-service/internal/timewindow"
	"github.com/crmkit/broadcast-service/pkg/database"
	"github.com/crmkit/broadcast-service/pkg/logger"
	"github.com/crmkit/broadcast-service/pkg/redis"
	"github.com/crmkit/broadcast-service/pkg/validator"
	"github.com/crmkit/broadcast-service/pkg/webhook"
	"github.com/crmkit/broadcast-service/routes"

	_ "github.com/crmkit/broadcast-service/docs" // swagger docs
)

// @title Broadcast Campaign Service API
// @version 1.0
// @description Time-windowed broadcast campaign scheduler and dispatcher
// @termsOfService http://swagger.io/terms/

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Transport.AuthKey == "" {
		logger.Fatalf("TRANSPORT_AUTH_KEY is required but not set")
	}
	if cfg.Auth.CampaignsAPIKey == "" {
		logger.Fatalf("CAMPAIGNS_API_KEY is required but not set")
	}
	if cfg.Auth.ProcessorAPIKey == "" {
		logger.Fatalf("PROCESSOR_API_KEY is required but not set")
	}

	logger.Infof("Starting Broadcast Campaign Service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, receipt caching disabled: %v", err)
		redisClient = nil
	}

	// Initialize transport client
	transportClient := webhook.NewClient(cfg.Transport)
	logger.Infof("Transport configured: %s", transportClient.GetURL())

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	windowRepo := repository.NewTimeWindowRepository(db)

	// Window evaluation pipeline
	windowCache := cache.NewWindowCache(cfg.WindowCache.TTL, cfg.WindowCache.MaxEntries)
	evaluator := timewindow.NewEvaluator(windowCache)
	estimator := timewindow.NewEstimator(evaluator)

	// Initialize services
	windowService := service.NewWindowService(windowRepo, estimator)

	var campaignService *service.CampaignService
	var proc *processor.Processor
	if redisClient != nil {
		campaignService = service.NewCampaignService(campaignRepo, queueRepo, windowRepo, estimator, redisClient)
		proc = processor.New(campaignRepo, queueRepo, transportClient, redisClient, cfg.Processor, cfg.Transport.Timeout)
	} else {
		campaignService = service.NewCampaignService(campaignRepo, queueRepo, windowRepo, estimator, nil)
		proc = processor.New(campaignRepo, queueRepo, transportClient, nil, cfg.Processor, cfg.Transport.Timeout)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the processor trigger
	sched := scheduler.NewScheduler(proc, cfg.Processor.ProcessInterval)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient, sched)
	campaignHandler := handlers.NewCampaignHandler(campaignService)
	windowHandler := handlers.NewWindowHandler(windowService)
	processorHandler := handlers.NewProcessorHandler(sched, ctx, cfg)

	// Auto-start the processor trigger
	if os.Getenv("AUTO_START_PROCESSOR") != "false" {
		logger.Infof("Auto-starting processor trigger...")
		if err := sched.StartWithParams(ctx, cfg.Processor.ProcessInterval,
			cfg.Alert.WebhookURL, cfg.Alert.IterationCount); err != nil {
			logger.Warnf("Failed to auto-start processor trigger: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-crm-auth-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, campaignHandler, windowHandler, processorHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop the processor trigger first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping processor trigger...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping processor trigger: %v", err)
			} else {
				logger.Infof("Processor trigger stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Processor trigger stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
