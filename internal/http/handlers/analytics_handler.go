package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/http/dto"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

type DeliveryStatsReader interface {
	Stats(ctx context.Context, campaignID *uuid.UUID) (*models.DeliveryStats, error)
}

type AnalyticsHandler struct {
	metrics    *metrics.Store
	deliveries DeliveryStatsReader
	log        *zap.Logger
}

func NewAnalyticsHandler(m *metrics.Store, deliveries DeliveryStatsReader, log *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{metrics: m, deliveries: deliveries, log: log}
}

// Overview returns today's dashboard counters and the last week of deliveries.
func (h *AnalyticsHandler) Overview(c *fiber.Ctx) error {
	overview, err := h.metrics.Overview(c.UserContext())
	if err != nil {
		h.log.Error("analytics overview failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: overview})
}

// Metrics returns the pipeline counter snapshot.
func (h *AnalyticsHandler) Metrics(c *fiber.Ctx) error {
	snap, err := h.metrics.Snapshot(c.UserContext())
	if err != nil {
		h.log.Error("metrics snapshot failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: snap})
}

// DeliveryStats aggregates delivery records, optionally for one campaign.
func (h *AnalyticsHandler) DeliveryStats(c *fiber.Ctx) error {
	var campaignID *uuid.UUID
	if v := c.Query("campaign_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign_id"})
		}
		campaignID = &id
	}

	stats, err := h.deliveries.Stats(c.UserContext(), campaignID)
	if err != nil {
		h.log.Error("delivery stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}
