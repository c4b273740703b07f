package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulsecrm/delivery/internal/ai"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/config"
	"github.com/pulsecrm/delivery/internal/consumer"
	"github.com/pulsecrm/delivery/internal/db"
	"github.com/pulsecrm/delivery/internal/delivery"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/vendor"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	b := broker.New(rdb, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	store := metrics.NewStore(b, metrics.NewCollectors(reg), log)

	// Repos
	campaignRepo := repositories.NewCampaignRepo(pool)
	customerRepo := repositories.NewCustomerRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	deliveryRepo := repositories.NewDeliveryRepo(pool)

	// Delivery
	vendors := vendor.NewSimulator(b, vendor.Options{
		BulkSize:        cfg.VendorBulkSize,
		BulkPause:       cfg.VendorBulkPause,
		ReceiptMinDelay: cfg.ReceiptMinDelay,
		ReceiptMaxDelay: cfg.ReceiptMaxDelay,
	}, log)
	assistant := ai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, log)

	engine := delivery.NewEngine(campaignRepo, customerRepo, deliveryRepo, vendors, b, b, store, assistant,
		delivery.EngineConfig{BatchSize: cfg.DeliveryBatchSize, BatchPause: cfg.DeliveryBatchPause}, log)
	receipts := delivery.NewReceiptHandler(campaignRepo, customerRepo, deliveryRepo, b, store, assistant, log)

	manager := consumer.NewManager(b, store, cfg.ConsumerConcurrency, log,
		consumer.NewIngestion(customerRepo, orderRepo, b, store, log),
		consumer.NewCampaigns(engine, log),
		consumer.NewReceipts(receipts),
		consumer.NewAnalytics(b, store, cfg.AnalyticsRetention, log),
		consumer.NewErrors(b, store, cfg.ErrorRetention, log),
	)

	checkVendors(ctx, vendors, log)

	if err := manager.StartAll(ctx); err != nil {
		log.Fatal("failed to start consumers", zap.Error(err))
	}
	log.Info("consumers started", zap.Any("status", manager.Status()))

	// Periodic reporters
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.MetricsLogSchedule, func() {
		logSnapshot(ctx, manager, log)
	}); err != nil {
		log.Fatal("invalid metrics log schedule", zap.String("schedule", cfg.MetricsLogSchedule), zap.Error(err))
	}
	if _, err := scheduler.AddFunc(cfg.VendorLogSchedule, func() {
		for _, s := range vendors.Stats() {
			log.Info("vendor stats",
				zap.String("vendor", s.Name),
				zap.Int("sent", s.Sent),
				zap.Int("failed", s.Failed),
				zap.Float64("avg_cost", s.AvgCost),
			)
		}
	}); err != nil {
		log.Fatal("invalid vendor log schedule", zap.String("schedule", cfg.VendorLogSchedule), zap.Error(err))
	}
	scheduler.Start()

	// Health and metrics
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "consumers": manager.Status()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		if err := app.Listen(addr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down consumers")

	<-scheduler.Stop().Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("consumer shutdown incomplete", zap.Error(err))
	}
	engine.Wait()
	receipts.Wait()
	_ = app.Shutdown()
	cancel()
}

func checkVendors(ctx context.Context, vendors *vendor.Simulator, log *zap.Logger) {
	for _, name := range vendors.Names() {
		ok, err := vendors.TestConnection(ctx, name)
		if err != nil || !ok {
			log.Warn("vendor connection test failed", zap.String("vendor", name), zap.Error(err))
			continue
		}
		log.Info("vendor reachable", zap.String("vendor", name))
	}
}

func logSnapshot(ctx context.Context, manager *consumer.Manager, log *zap.Logger) {
	snap, err := manager.SystemMetrics(ctx)
	if err != nil {
		log.Warn("metrics snapshot failed", zap.Error(err))
		return
	}
	log.Info("system metrics",
		zap.Int64("campaigns_processed", snap.Campaigns.Processed),
		zap.Int64("messages_sent", snap.Messages.Sent),
		zap.Int64("messages_failed", snap.Messages.Failed),
		zap.Int64("customers_processed", snap.Ingestion.Customers),
		zap.Int64("orders_processed", snap.Ingestion.Orders),
		zap.Int64("errors", snap.Errors),
		zap.Float64("avg_campaign_ms", snap.Performance.AvgCampaignMs),
	)
}
