package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

const summaryTimeout = 30 * time.Second

// completer finishes campaigns for both the engine and the receipt handler so
// the completion side effects run once per campaign, by whichever flow wins
// the conditional status update.
type completer struct {
	campaigns  CampaignStore
	deliveries DeliveryStore
	pub        Publisher
	metrics    *metrics.Store
	summarizer Summarizer
	log        *zap.Logger
	now        func() time.Time

	wg sync.WaitGroup // background summaries
}

func (c *completer) complete(ctx context.Context, campaign *models.Campaign) (bool, error) {
	done, err := c.campaigns.MarkCompleted(ctx, campaign.ID, c.now())
	if err != nil {
		return false, fmt.Errorf("mark campaign completed: %w", err)
	}
	if !done {
		return false, nil
	}

	id := campaign.ID
	st, err := c.deliveries.Stats(ctx, &id)
	if err != nil {
		c.log.Warn("final campaign stats unavailable", zap.String("campaign_id", id.String()), zap.Error(err))
		st = &models.DeliveryStats{Status: map[string]int{}}
	}
	final := models.NewCampaignStats(st.Status)

	c.metrics.Incr(ctx, metrics.CampaignsCompleted, 1)
	c.metrics.IncrFloat(ctx, metrics.CampaignsCostTotal, st.Costs.Total)
	c.metrics.Prom().CampaignsCompleted.Inc()

	c.log.Info("campaign completed",
		zap.String("campaign_id", id.String()),
		zap.Int("sent", final.Sent),
		zap.Int("failed", final.Failed),
		zap.Float64("success_rate", final.SuccessRate),
		zap.Float64("total_cost", st.Costs.Total),
	)

	if c.summarizer != nil && final.Total > 0 {
		c.summarize(ctx, campaign.Name, id, final)
	}

	_, err = c.pub.Publish(ctx, broker.ChannelAnalyticsUpdate, models.AnalyticsUpdate{
		Type:       models.AnalyticsCampaignCompleted,
		CampaignID: id.String(),
		Stats: map[string]any{
			"sent":        final.Sent,
			"failed":      final.Failed,
			"total":       final.Total,
			"successRate": fmt.Sprintf("%.1f", final.SuccessRate),
			"totalCost":   st.Costs.Total,
		},
	})
	if err != nil {
		c.log.Warn("failed to publish campaign completion", zap.String("campaign_id", id.String()), zap.Error(err))
	}
	return true, nil
}

// summarize asks for a performance summary in the background; failures are
// only logged.
func (c *completer) summarize(ctx context.Context, name string, id uuid.UUID, s models.CampaignStats) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryTimeout)
		defer cancel()

		text, err := c.summarizer.Summarize(sctx, name, s.Sent, s.Failed, s.Total)
		if err != nil {
			c.log.Warn("campaign summary failed", zap.String("campaign_id", id.String()), zap.Error(err))
			return
		}
		c.log.Info("campaign summary", zap.String("campaign_id", id.String()), zap.String("summary", text))
	}()
}

// Wait blocks until background summaries have finished.
func (c *completer) Wait() {
	c.wg.Wait()
}
