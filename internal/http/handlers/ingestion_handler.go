package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/http/dto"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

// Publisher hands a payload to the ingestion consumers.
type Publisher interface {
	Publish(ctx context.Context, channel string, data any) (int64, error)
}

// IngestionHandler validates customer and order payloads and queues them for
// the data-ingestion consumer. Writes happen asynchronously.
type IngestionHandler struct {
	pub      Publisher
	validate *validator.Validate
	log      *zap.Logger
}

func NewIngestionHandler(pub Publisher, log *zap.Logger) *IngestionHandler {
	return &IngestionHandler{pub: pub, validate: validator.New(), log: log}
}

func (h *IngestionHandler) IngestCustomer(c *fiber.Ctx) error {
	var req models.CustomerPayload
	return h.accept(c, &req, broker.ChannelCustomerIngestion, func() (string, int) { return "", 1 })
}

func (h *IngestionHandler) IngestCustomers(c *fiber.Ctx) error {
	var req models.BulkCustomerPayload
	return h.accept(c, &req, broker.ChannelCustomerBulkIngestion, func() (string, int) {
		if req.BatchID == "" {
			req.BatchID = uuid.NewString()
		}
		return req.BatchID, len(req.Customers)
	})
}

func (h *IngestionHandler) IngestOrder(c *fiber.Ctx) error {
	var req models.OrderPayload
	return h.accept(c, &req, broker.ChannelOrderIngestion, func() (string, int) { return "", 1 })
}

func (h *IngestionHandler) IngestOrders(c *fiber.Ctx) error {
	var req models.BulkOrderPayload
	return h.accept(c, &req, broker.ChannelOrderBulkIngestion, func() (string, int) {
		if req.BatchID == "" {
			req.BatchID = uuid.NewString()
		}
		return req.BatchID, len(req.Orders)
	})
}

// accept parses and validates the body into req, lets prepare stamp batch
// fields and publishes the result.
func (h *IngestionHandler) accept(c *fiber.Ctx, req any, channel string, prepare func() (string, int)) error {
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	batchID, count := prepare()
	if _, err := h.pub.Publish(c.UserContext(), channel, req); err != nil {
		h.log.Error("ingestion publish failed", zap.String("channel", channel), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "ingestion unavailable"})
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.AcceptedResponse{
		OK:      true,
		Channel: channel,
		BatchID: batchID,
		Count:   count,
	})
}
