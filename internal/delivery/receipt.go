package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/repositories"
	"go.uber.org/zap"
)

// ReceiptHandler reconciles vendor receipts with delivery records and
// completes campaigns once nothing is left PENDING.
type ReceiptHandler struct {
	*completer
	customers CustomerStore
}

func NewReceiptHandler(
	campaigns CampaignStore,
	customers CustomerStore,
	deliveries DeliveryStore,
	pub Publisher,
	m *metrics.Store,
	summarizer Summarizer,
	log *zap.Logger,
) *ReceiptHandler {
	return &ReceiptHandler{
		completer: &completer{
			campaigns:  campaigns,
			deliveries: deliveries,
			pub:        pub,
			metrics:    m,
			summarizer: summarizer,
			log:        log,
			now:        time.Now,
		},
		customers: customers,
	}
}

// ProcessReceipt applies one receipt. Receipts for unknown message ids are
// logged and dropped. Only the first receipt of a record is applied, counted
// and published; later ones leave the record and the campaign unchanged.
func (h *ReceiptHandler) ProcessReceipt(ctx context.Context, r models.Receipt) error {
	log := h.log.With(zap.String("message_id", r.MessageID), zap.String("status", r.Status))

	rec, err := h.deliveries.GetByMessageID(ctx, r.MessageID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Warn("delivery record not found for receipt")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load delivery record: %w", err)
	}
	if !models.IsValidDeliveryTransition(rec.Status, r.Status) {
		return fmt.Errorf("invalid delivery status transition %s -> %s", rec.Status, r.Status)
	}

	now := h.now().UTC()
	at := r.Timestamp
	if at.IsZero() {
		at = now
	}
	upd := models.ReceiptUpdate{
		MessageID:         r.MessageID,
		Status:            r.Status,
		Vendor:            r.Vendor,
		Cost:              r.Cost,
		WebhookReceivedAt: now,
	}
	if r.Status == models.DeliveryStatusSent {
		upd.DeliveredAt = &at
	}
	if r.FailureReason != "" {
		reason := r.FailureReason
		upd.FailureReason = &reason
	}
	applied, err := h.deliveries.ApplyReceipt(ctx, upd)
	if err != nil {
		return fmt.Errorf("apply receipt: %w", err)
	}
	if !applied {
		log.Debug("duplicate receipt ignored", zap.String("campaign_id", rec.CampaignID.String()))
		h.checkCompletion(ctx, rec.CampaignID)
		return nil
	}

	if r.Status == models.DeliveryStatusSent {
		if err := h.customers.TouchLastVisit(ctx, rec.CustomerID, at); err != nil {
			return fmt.Errorf("update customer last visit: %w", err)
		}
	}

	h.recordMetrics(ctx, r)
	h.checkCompletion(ctx, rec.CampaignID)

	_, err = h.pub.Publish(ctx, broker.ChannelAnalyticsUpdate, models.AnalyticsUpdate{
		Type:       models.AnalyticsDeliveryReceipt,
		CampaignID: rec.CampaignID.String(),
		CustomerID: rec.CustomerID.String(),
		Status:     r.Status,
	})
	if err != nil {
		log.Warn("failed to publish receipt analytics", zap.Error(err))
	}

	log.Debug("delivery receipt processed", zap.String("campaign_id", rec.CampaignID.String()))
	return nil
}

func (h *ReceiptHandler) recordMetrics(ctx context.Context, r models.Receipt) {
	h.metrics.Prom().Deliveries.WithLabelValues("receipt", r.Status).Inc()
	if r.Status == models.DeliveryStatusSent {
		var cost float64
		if r.Cost != nil {
			cost = *r.Cost
		}
		h.metrics.Incr(ctx, metrics.ReceiptsSent, 1)
		h.metrics.IncrFloat(ctx, metrics.DeliveryCostTotal, cost)
		if r.Vendor != "" {
			h.metrics.Prom().DeliveryCost.WithLabelValues(r.Vendor).Add(cost)
		}
		return
	}
	reason := r.FailureReason
	if reason == "" {
		reason = "unknown"
	}
	h.metrics.Incr(ctx, metrics.ReceiptsFailed, 1)
	h.metrics.Incr(ctx, metrics.DeliveryFailurePrefix+reason, 1)
}

// checkCompletion re-reads the PENDING count so concurrent receipts for the
// same campaign agree on when it is done.
func (h *ReceiptHandler) checkCompletion(ctx context.Context, campaignID uuid.UUID) {
	log := h.log.With(zap.String("campaign_id", campaignID.String()))

	counts, err := h.deliveries.StatusCounts(ctx, campaignID)
	if err != nil {
		log.Warn("campaign completion check failed", zap.Error(err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 || counts[models.DeliveryStatusPending] > 0 {
		return
	}

	campaign, err := h.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		log.Warn("campaign completion check failed", zap.Error(err))
		return
	}
	if campaign.Status == models.CampaignStatusCompleted {
		return
	}
	if _, err := h.complete(ctx, campaign); err != nil {
		log.Warn("campaign completion failed", zap.Error(err))
	}
}

// DeliveryStats aggregates delivery records, for one campaign or all of them.
func (h *ReceiptHandler) DeliveryStats(ctx context.Context, campaignID *uuid.UUID) (*models.DeliveryStats, error) {
	return h.deliveries.Stats(ctx, campaignID)
}
