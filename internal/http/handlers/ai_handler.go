package handlers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/ai"
	"github.com/pulsecrm/delivery/internal/http/dto"
	"github.com/pulsecrm/delivery/internal/middleware"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

// Assistant is the text-generation surface exposed over HTTP.
type Assistant interface {
	SuggestRules(ctx context.Context, query string) ([]models.Rule, error)
	GenerateMessages(ctx context.Context, objective, audience string) ([]string, error)
	Summarize(ctx context.Context, campaignName string, sent, failed, audienceSize int) (string, error)
}

type CampaignLookup interface {
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Campaign, error)
}

type AIHandler struct {
	assistant  Assistant
	campaigns  CampaignLookup
	deliveries DeliveryStatsReader
	validate   *validator.Validate
	log        *zap.Logger
}

func NewAIHandler(assistant Assistant, campaigns CampaignLookup, deliveries DeliveryStatsReader, log *zap.Logger) *AIHandler {
	return &AIHandler{
		assistant:  assistant,
		campaigns:  campaigns,
		deliveries: deliveries,
		validate:   validator.New(),
		log:        log,
	}
}

func (h *AIHandler) SuggestRules(c *fiber.Ctx) error {
	var req dto.SuggestRulesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	rules, err := h.assistant.SuggestRules(c.UserContext(), req.Query)
	if err != nil {
		return h.upstreamError(c, "suggest rules", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rules})
}

func (h *AIHandler) GenerateMessages(c *fiber.Ctx) error {
	var req dto.GenerateMessagesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	messages, err := h.assistant.GenerateMessages(c.UserContext(), req.Objective, req.Audience)
	if err != nil {
		return h.upstreamError(c, "generate messages", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: messages})
}

// SummarizeCampaign describes the delivery outcome of one of the caller's campaigns.
func (h *AIHandler) SummarizeCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	campaign, err := h.campaigns.GetByID(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "campaign not found"})
	}
	stats, err := h.deliveries.Stats(c.UserContext(), &id)
	if err != nil {
		h.log.Error("delivery stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	summary, err := h.assistant.Summarize(c.UserContext(), campaign.Name,
		stats.Status[models.DeliveryStatusSent], stats.Status[models.DeliveryStatusFailed], campaign.AudienceSize)
	if err != nil {
		return h.upstreamError(c, "summarize campaign", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"summary": summary, "stats": stats}})
}

func (h *AIHandler) upstreamError(c *fiber.Ctx, op string, err error) error {
	if errors.Is(err, ai.ErrDisabled) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "text generation is not configured"})
	}
	h.log.Warn(op+" failed", zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "text generation failed"})
}
