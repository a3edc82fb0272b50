package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/kestrel/internal/access"
	"github.com/dandantas/kestrel/internal/cloud/aws"
	"github.com/dandantas/kestrel/internal/config"
	"github.com/dandantas/kestrel/internal/database"
	"github.com/dandantas/kestrel/internal/handler"
	"github.com/dandantas/kestrel/internal/provision"
	"github.com/dandantas/kestrel/internal/routing"
	"github.com/dandantas/kestrel/internal/schedule"
	"github.com/dandantas/kestrel/internal/service"
	"github.com/dandantas/kestrel/internal/workflow"
	"github.com/dandantas/kestrel/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Kestrel Deployment Service", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	// Create indexes
	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	modelRepo := database.NewModelRecordRepository(db)
	workflowRepo := database.NewWorkflowRepository(db)
	lockRepo := database.NewLockRepository(db)

	// Initialize cloud backends
	awsCfg, err := aws.LoadConfig(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Error("Failed to load cloud configuration", "error", err)
		os.Exit(1)
	}
	infraBackend := aws.NewCloudFormationBackend(awsCfg, cfg.StackTemplateURL)
	imageRegistry := aws.NewImageRegistry(awsCfg, cfg.BuildProject)
	groupScheduler := aws.NewGroupScheduler(awsCfg)

	// Initialize provisioners and collaborators
	imageProvisioner := provision.NewImageProvisioner(imageRegistry, cfg.ImagePollBudget)
	infraProvisioner := provision.NewInfraProvisioner(infraBackend, cfg.InfraPollBudget, cfg.StackEndpointPath, cfg.StackGroupPath)
	routerClient := routing.NewHTTPRouterClient(cfg.RouterBaseURL, cfg.RouterTimeout, routing.RetryConfig{
		MaxAttempts:    cfg.RouterMaxRetries,
		InitialDelayMs: int(cfg.RouterRetryBase / time.Millisecond),
	})
	registrar := routing.NewRegistrar(routerClient)
	scheduleManager := schedule.NewManager(groupScheduler, modelRepo)
	gate := access.NewGate(cfg.AdminGroup)

	// Initialize workflow engine
	steps := workflow.NewSteps(modelRepo, imageProvisioner, infraProvisioner, registrar, scheduleManager, groupScheduler)
	engine := workflow.NewEngine(cfg, workflowRepo, lockRepo, steps)
	engine.Start(ctx)

	// Initialize services
	modelService := service.NewModelService(modelRepo, workflowRepo, engine, groupScheduler, gate)
	scheduleService := service.NewScheduleService(modelRepo, scheduleManager, gate)

	// Initialize handlers
	modelHandler := handler.NewModelHandler(modelService)
	scheduleHandler := handler.NewScheduleHandler(scheduleService)
	workflowHandler := handler.NewWorkflowHandler(modelService)
	healthHandler := handler.NewHealthHandler(db, version)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	// Create router
	router := handler.NewRouter(
		modelHandler,
		scheduleHandler,
		workflowHandler,
		healthHandler,
		corsConfig,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the workflow engine first (wait for in-flight steps)
	slog.Info("Stopping workflow engine...")
	engine.Stop(shutdownCtx)

	// Shutdown HTTP server
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Kestrel Deployment Service stopped")
}
