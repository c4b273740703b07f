package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulsecrm/delivery/internal/config"
	"github.com/pulsecrm/delivery/internal/http/handlers"
	"github.com/pulsecrm/delivery/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Campaigns *handlers.CampaignHandler
	Ingestion *handlers.IngestionHandler
	Analytics *handlers.AnalyticsHandler
	Vendors   *handlers.VendorHandler
	AI        *handlers.AIHandler
	WSHub     *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))

	// Meta (public)
	metaHandler := handlers.NewMetaHandler()
	api.Get("/meta/segment-fields", metaHandler.GetSegmentFields)
	api.Get("/meta/placeholders", metaHandler.GetPlaceholders)

	protected := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, log))

	// Ingestion
	protected.Post("/customers", h.Ingestion.IngestCustomer)
	protected.Post("/customers/bulk", h.Ingestion.IngestCustomers)
	protected.Post("/orders", h.Ingestion.IngestOrder)
	protected.Post("/orders/bulk", h.Ingestion.IngestOrders)

	// Campaigns
	protected.Post("/campaigns", h.Campaigns.CreateCampaign)
	protected.Post("/campaigns/preview", h.Campaigns.PreviewAudience)
	protected.Get("/campaigns", h.Campaigns.ListCampaigns)
	protected.Get("/campaigns/queue", h.Campaigns.QueueStatus)
	protected.Post("/campaigns/queue/replay", h.Campaigns.ReplayQueue)
	protected.Get("/campaigns/:id", h.Campaigns.GetCampaign)
	protected.Get("/campaigns/:id/history", h.Campaigns.GetHistory)
	protected.Get("/campaigns/:id/summary", h.AI.SummarizeCampaign)

	// Analytics
	protected.Get("/analytics/overview", h.Analytics.Overview)
	protected.Get("/analytics/metrics", h.Analytics.Metrics)
	protected.Get("/analytics/deliveries", h.Analytics.DeliveryStats)

	// Vendors
	protected.Get("/vendors", h.Vendors.ListVendors)
	protected.Post("/vendors/:name/test", h.Vendors.TestConnection)

	// Text generation
	protected.Post("/ai/rules", h.AI.SuggestRules)
	protected.Post("/ai/messages", h.AI.GenerateMessages)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
