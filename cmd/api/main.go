package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pulsecrm/delivery/internal/ai"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/config"
	"github.com/pulsecrm/delivery/internal/db"
	apphttp "github.com/pulsecrm/delivery/internal/http"
	"github.com/pulsecrm/delivery/internal/http/handlers"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/middleware"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/services"
	"github.com/pulsecrm/delivery/internal/vendor"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, os.DirFS(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	b := broker.New(rdb, log)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	store := metrics.NewStore(b, metrics.NewCollectors(reg), log)

	// Repositories
	campaignRepo := repositories.NewCampaignRepo(pool)
	customerRepo := repositories.NewCustomerRepo(pool)
	deliveryRepo := repositories.NewDeliveryRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	campaignService := services.NewCampaignService(campaignRepo, customerRepo, auditRepo, b, store, log)
	assistant := ai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, log)
	vendors := vendor.NewSimulator(b, vendor.Options{
		BulkSize:        cfg.VendorBulkSize,
		BulkPause:       cfg.VendorBulkPause,
		ReceiptMinDelay: cfg.ReceiptMinDelay,
		ReceiptMaxDelay: cfg.ReceiptMaxDelay,
	}, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg.JWTSecret, b, log)
	h := apphttp.Handlers{
		Campaigns: handlers.NewCampaignHandler(campaignService, log),
		Ingestion: handlers.NewIngestionHandler(b, log),
		Analytics: handlers.NewAnalyticsHandler(store, deliveryRepo, log),
		Vendors:   handlers.NewVendorHandler(vendors, log),
		AI:        handlers.NewAIHandler(assistant, campaignService, deliveryRepo, log),
		WSHub:     wsHub,
	}

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe analytics stream", zap.Error(err))
	}
	defer wsHub.Stop()

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(log),
	})

	apphttp.SetupRouter(app, cfg, log, rdb, reg, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
