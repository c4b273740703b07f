package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

const analyticsListLimit = 1000

// Analytics fans analytics updates out to the realtime feed, keeps a capped
// per-type daily list of them and bumps the matching counters.
type Analytics struct {
	b         *broker.Broker
	metrics   *metrics.Store
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewAnalytics(b *broker.Broker, m *metrics.Store, retention time.Duration, log *zap.Logger) *Analytics {
	return &Analytics{b: b, metrics: m, retention: retention, log: log, now: time.Now}
}

func (c *Analytics) Name() string            { return "analytics" }
func (c *Analytics) MetricNamespace() string { return "analytics:updates" }
func (c *Analytics) Channels() []string      { return []string{broker.ChannelAnalyticsUpdate} }

func (c *Analytics) Handle(ctx context.Context, _ string, payload []byte) error {
	var upd models.AnalyticsUpdate
	if err := Decode(payload, &upd); err != nil {
		return err
	}
	// Domain fields are forwarded untouched.
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	now := c.now().UTC()
	fields["processedAt"] = now.Format(time.RFC3339Nano)

	if _, err := c.b.Publish(ctx, broker.ChannelAnalytics, fields); err != nil {
		return fmt.Errorf("publish analytics feed: %w", err)
	}

	date := now.Format("2006-01-02")
	key := metrics.AnalyticsListKey(upd.Type, date)
	if err := c.b.PushCapped(ctx, key, fields, analyticsListLimit, c.retention); err != nil {
		return fmt.Errorf("store analytics update: %w", err)
	}

	switch upd.Type {
	case models.AnalyticsDeliveryReceipt:
		if upd.Status != "" {
			c.metrics.Incr(ctx, metrics.DailyKey(upd.Status, date), 1)
		}
	case models.AnalyticsCampaignCompleted:
		c.metrics.Incr(ctx, metrics.CampaignsCompletedFeed, 1)
	case models.AnalyticsCustomerActivity:
		c.metrics.Incr(ctx, metrics.CustomersActive, 1)
	}

	c.log.Debug("analytics update stored", zap.String("type", upd.Type), zap.String("key", key))
	return nil
}

// Errors stores error reports for inspection and counts them per service.
type Errors struct {
	b         *broker.Broker
	metrics   *metrics.Store
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewErrors(b *broker.Broker, m *metrics.Store, retention time.Duration, log *zap.Logger) *Errors {
	return &Errors{b: b, metrics: m, retention: retention, log: log, now: time.Now}
}

func (c *Errors) Name() string            { return "error-handling" }
func (c *Errors) MetricNamespace() string { return "error_handling" }
func (c *Errors) Channels() []string      { return []string{broker.ChannelErrorHandling} }

func (c *Errors) Handle(ctx context.Context, _ string, payload []byte) error {
	var rep models.ErrorReport
	if err := Decode(payload, &rep); err != nil {
		return err
	}

	now := c.now().UTC()
	ts := rep.Timestamp
	if ts == "" {
		ts = now.Format(time.RFC3339Nano)
	}
	service := rep.Service
	if service == "" {
		service = "unknown"
	}

	key := broker.KeyErrorsPrefix + now.Format("2006-01-02") + ":" + ts
	if err := c.b.Set(ctx, key, json.RawMessage(payload), c.retention); err != nil {
		return fmt.Errorf("store error report: %w", err)
	}
	c.metrics.Incr(ctx, metrics.ErrorsTotal, 1)
	c.metrics.Incr(ctx, metrics.ErrorsPrefix+service, 1)

	fields := []zap.Field{
		zap.String("service", service),
		zap.String("source", rep.Source),
		zap.String("channel", rep.Channel),
		zap.String("error", rep.Error),
		zap.String("message_id", rep.MessageID),
		zap.String("campaign_id", rep.CampaignID),
	}
	if rep.Critical {
		c.log.Error("critical error reported", append(fields, zap.Bool("critical", true))...)
		return nil
	}
	c.log.Warn("error reported", fields...)
	return nil
}
