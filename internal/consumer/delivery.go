package consumer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/delivery"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

type Deliverer interface {
	DeliverCampaign(ctx context.Context, req delivery.Request) (*delivery.Result, error)
}

type ReceiptProcessor interface {
	ProcessReceipt(ctx context.Context, r models.Receipt) error
}

// Campaigns feeds delivery requests to the delivery engine.
type Campaigns struct {
	engine Deliverer
	log    *zap.Logger
}

func NewCampaigns(engine Deliverer, log *zap.Logger) *Campaigns {
	return &Campaigns{engine: engine, log: log}
}

func (c *Campaigns) Name() string            { return "campaign" }
func (c *Campaigns) MetricNamespace() string { return "campaigns" }
func (c *Campaigns) Channels() []string      { return []string{broker.ChannelCampaignDelivery} }

func (c *Campaigns) Handle(ctx context.Context, _ string, payload []byte) error {
	var req models.DeliveryRequest
	if err := Decode(payload, &req); err != nil {
		return err
	}
	id, err := uuid.Parse(req.CampaignID)
	if err != nil {
		return fmt.Errorf("%w: campaign id: %v", ErrInvalidPayload, err)
	}

	res, err := c.engine.DeliverCampaign(ctx, delivery.Request{
		CampaignID: id,
		Rules:      req.Rules,
		Message:    req.Message,
		OwnerID:    req.UserID,
	})
	if err != nil {
		return fmt.Errorf("deliver campaign %s: %w", id, err)
	}

	c.log.Info("campaign delivery finished",
		zap.String("campaign_id", id.String()),
		zap.Int("audience", res.Audience),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Bool("skipped", res.Skipped),
		zap.Duration("duration", res.Duration))
	return nil
}

// Receipts applies vendor delivery receipts.
type Receipts struct {
	handler ReceiptProcessor
}

func NewReceipts(handler ReceiptProcessor) *Receipts {
	return &Receipts{handler: handler}
}

func (c *Receipts) Name() string            { return "delivery-receipt" }
func (c *Receipts) MetricNamespace() string { return "receipts" }
func (c *Receipts) Channels() []string      { return []string{broker.ChannelDeliveryReceipt} }

func (c *Receipts) Handle(ctx context.Context, _ string, payload []byte) error {
	var r models.Receipt
	if err := Decode(payload, &r); err != nil {
		return err
	}
	return c.handler.ProcessReceipt(ctx, r)
}
