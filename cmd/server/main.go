package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/vendalog/marketsync/internal/config"
	"github.com/vendalog/marketsync/internal/database"
	"github.com/vendalog/marketsync/internal/handlers"
	"github.com/vendalog/marketsync/internal/ingest"
	"github.com/vendalog/marketsync/internal/logger"
	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/notify"
	"github.com/vendalog/marketsync/internal/reconcile"
	"github.com/vendalog/marketsync/internal/resilient"
	"github.com/vendalog/marketsync/internal/routes"
	"github.com/vendalog/marketsync/internal/service"
	"github.com/vendalog/marketsync/internal/signature"
	"github.com/vendalog/marketsync/internal/store"
	"github.com/vendalog/marketsync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	// Connect to PostgreSQL and apply migrations
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect the optional RabbitMQ wake channel
	var notifyConn *notify.Conn
	if cfg.RabbitMQ.URL != "" {
		notifyConn, err = notify.Dial(notify.Config{
			URL:   cfg.RabbitMQ.URL,
			Queue: cfg.RabbitMQ.Queue,
		}, log)
		if err != nil {
			// The polling worker stays fully functional without the broker.
			log.Warn("RabbitMQ unavailable, continuing on polling alone", zap.Error(err))
			notifyConn = nil
		} else {
			defer notifyConn.Close()
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Stores and shared metrics
	events := store.NewEventStore(db)
	catalog := store.NewCatalogStore(db)
	creds := store.NewCredentialStore(db)
	registry := metrics.NewRegistry()

	// Outbound marketplace stack
	apiClient := marketplace.NewClient(marketplace.Options{
		BaseURL:        cfg.Marketplace.BaseURL,
		PartnerID:      cfg.Marketplace.PartnerID,
		TimeoutSeconds: cfg.Marketplace.TimeoutSeconds,
	}, log)
	resilientClient := resilient.NewClient(apiClient, resilient.Config{
		BreakerThreshold: cfg.Resilience.BreakerThreshold,
		BreakerCooldown:  cfg.Resilience.BreakerCooldown,
		CacheTTL:         cfg.Resilience.CacheTTL,
		MinCallInterval:  cfg.Resilience.MinCallInterval,
	}, registry, log)
	reconciler := reconcile.NewReconciler(resilientClient, catalog, cfg.Marketplace.Platform, log)

	// Inbound verification and ingest
	verifier := signature.NewVerifier(signature.Config{
		Secret:           cfg.Verify.Secret,
		SecretFormat:     cfg.Verify.SecretFormat,
		PartnerID:        cfg.Marketplace.PartnerID,
		SignatureHeaders: cfg.Verify.SignatureHeaders,
		TimestampHeaders: cfg.Verify.TimestampHeaders,
		NonceHeaders:     cfg.Verify.NonceHeaders,
		Mode:             signature.ParseStrategy(cfg.Verify.Mode),
		BaseTemplate:     cfg.Verify.BaseTemplate,
		Encoding:         cfg.Verify.Encoding,
		MaxSkewSec:       cfg.Verify.MaxSkewSec,
		RequireTimestamp: cfg.Verify.RequireTimestamp,
		AllowUnsigned:    cfg.Verify.AllowUnsigned,
		PathPrefix:       cfg.Verify.PathPrefix,
	})

	var notifier ingest.Notifier
	if notifyConn != nil {
		notifier = notifyConn
	}
	ingestSvc := ingest.NewService(verifier, events, registry, notifier, ingest.Options{
		BypassEnabled: cfg.Verify.BypassEnabled,
		BypassIPs:     cfg.Verify.BypassIPs,
	}, log)

	// Background worker
	var wake <-chan struct{}
	if notifyConn != nil {
		wake = notifyConn.WakeChannel(ctx)
	}
	w := worker.NewWorker(worker.Config{
		PollInterval:      cfg.Worker.PollInterval,
		BatchSize:         cfg.Worker.BatchSize,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		FailBackoff:       cfg.Worker.FailBackoff,
		ProcessingTimeout: cfg.Worker.ProcessingTimeout,
	}, events, creds, reconciler, registry, wake, log)
	w.Start(ctx)
	defer w.Stop()

	go registry.LogLoop(ctx, log, cfg.Worker.MetricsLogInterval)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Marketsync",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Setup routes
	svc := service.NewService(db, log, ingestSvc, events, registry, notifyConn)
	routes.SetupRoutes(app,
		handlers.NewWebhookHandler(svc.Ingest, svc.Logger),
		handlers.NewEventsHandler(svc.Events, svc.Logger),
		handlers.NewMetricsHandler(svc.Metrics),
		handlers.NewHealthHandler(svc.DB, svc.Notify),
	)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
