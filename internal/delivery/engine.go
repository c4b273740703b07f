package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/segment"
	"github.com/pulsecrm/delivery/internal/vendor"
	"go.uber.org/zap"
)

type EngineConfig struct {
	BatchSize  int
	BatchPause time.Duration
}

// Request is one campaign delivery request.
type Request struct {
	CampaignID uuid.UUID
	Rules      []models.Rule
	Message    string
	OwnerID    string
}

// Result summarises one delivery run.
type Result struct {
	CampaignID uuid.UUID
	Audience   int
	Sent       int
	Failed     int
	Skipped    bool
	Duration   time.Duration
}

type Engine struct {
	*completer
	customers CustomerStore
	sender    Sender
	queue     RequestQueue
	cfg       EngineConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewEngine(
	campaigns CampaignStore,
	customers CustomerStore,
	deliveries DeliveryStore,
	sender Sender,
	pub Publisher,
	queue RequestQueue,
	m *metrics.Store,
	summarizer Summarizer,
	cfg EngineConfig,
	log *zap.Logger,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Engine{
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
		sender:    sender,
		queue:     queue,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

// dequeue drops the campaign's request from the replay queue. A failure only
// leaves a stale entry that a replay would skip.
func (e *Engine) dequeue(ctx context.Context, id uuid.UUID) {
	if err := e.queue.RemoveFromQueue(ctx, broker.KeyCampaignQueue, id.String()); err != nil {
		e.log.Warn("failed to remove delivery request from queue",
			zap.String("campaign_id", id.String()),
			zap.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DeliverCampaign resolves the campaign audience, creates one PENDING record
// per recipient, sends in batches and completes the campaign. A campaign that
// already has records is skipped. The request leaves the replay queue once the
// campaign has records or turns out to have nothing to deliver. On error the
// campaign is marked FAILED and the error is returned.
func (e *Engine) DeliverCampaign(ctx context.Context, req Request) (res *Result, err error) {
	start := e.now()
	log := e.log.With(zap.String("campaign_id", req.CampaignID.String()))

	defer func() {
		if err == nil {
			return
		}
		fctx := context.WithoutCancel(ctx)
		if _, ferr := e.campaigns.MarkFailed(fctx, req.CampaignID); ferr != nil {
			log.Error("failed to mark campaign failed", zap.Error(ferr))
		}
		e.metrics.Incr(fctx, metrics.CampaignsFailed, 1)
		log.Error("campaign delivery failed", zap.Error(err))
	}()

	campaign, err := e.campaigns.GetByID(ctx, req.CampaignID)
	if errors.Is(err, repositories.ErrNotFound) {
		e.dequeue(ctx, req.CampaignID)
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, req.CampaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	existing, err := e.deliveries.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("count delivery records: %w", err)
	}
	if existing > 0 {
		e.dequeue(ctx, campaign.ID)
		log.Warn("campaign already has delivery records, skipping", zap.Int("records", existing))
		return &Result{CampaignID: campaign.ID, Skipped: true}, nil
	}

	filter, err := segment.Compile(req.Rules, e.now())
	if err != nil {
		return nil, fmt.Errorf("compile audience rules: %w", err)
	}
	customers, err := e.customers.ListMatching(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	log.Info("audience resolved", zap.Int("customers", len(customers)))

	res = &Result{CampaignID: campaign.ID, Audience: len(customers)}

	if len(customers) == 0 {
		e.dequeue(ctx, campaign.ID)
		if _, err := e.complete(ctx, campaign); err != nil {
			return nil, err
		}
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	records := make([]models.DeliveryRecord, len(customers))
	emails := make(map[uuid.UUID]string, len(customers))
	for i, c := range customers {
		records[i] = models.DeliveryRecord{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			CustomerID: c.ID,
			Message:    Personalize(req.Message, c),
			Status:     models.DeliveryStatusPending,
		}
		emails[c.ID] = c.Email
	}

	created, err := e.deliveries.CreatePending(ctx, campaign.ID, records)
	if err != nil {
		return nil, fmt.Errorf("create delivery records: %w", err)
	}
	e.dequeue(ctx, campaign.ID)
	if !created {
		log.Warn("delivery records created concurrently, skipping")
		return &Result{CampaignID: campaign.ID, Skipped: true}, nil
	}

	for i := 0; i < len(records); i += e.cfg.BatchSize {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.BatchPause); err != nil {
				return nil, err
			}
		}
		batch := records[i:min(i+e.cfg.BatchSize, len(records))]

		sent, failed, err := e.sendBatch(ctx, batch, emails)
		if err != nil {
			return nil, err
		}
		res.Sent += sent
		res.Failed += failed
		log.Debug("delivery batch processed",
			zap.Int("batch", i/e.cfg.BatchSize+1),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
		)
	}

	if _, err := e.complete(ctx, campaign); err != nil {
		return nil, err
	}

	res.Duration = e.now().Sub(start)
	e.metrics.Incr(ctx, metrics.CampaignsDelivered, 1)
	e.metrics.Incr(ctx, metrics.MessagesSent, int64(res.Sent))
	e.metrics.Incr(ctx, metrics.MessagesFailed, int64(res.Failed))
	e.metrics.Incr(ctx, metrics.DeliveryProcessingTime, res.Duration.Milliseconds())

	_, perr := e.pub.Publish(ctx, broker.ChannelAnalyticsUpdate, models.AnalyticsUpdate{
		Type:       models.AnalyticsCampaignDelivered,
		CampaignID: campaign.ID.String(),
		Stats: map[string]any{
			"audience": res.Audience,
			"sent":     res.Sent,
			"failed":   res.Failed,
		},
	})
	if perr != nil {
		log.Warn("failed to publish delivery analytics", zap.Error(perr))
	}

	log.Info("campaign delivery finished",
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// sendBatch sends one batch and writes each synchronous outcome as soon as its
// send returns, so the vendor message id is stored before the receipt is due.
// If the batch cannot be sent or written, every record of it that is still
// PENDING is marked FAILED with the batch processing reason. Only a failure to
// do that is returned as an error.
func (e *Engine) sendBatch(ctx context.Context, batch []models.DeliveryRecord, emails map[uuid.UUID]string) (sent, failed int, err error) {
	msgs := make([]vendor.Message, len(batch))
	for i, r := range batch {
		msgs[i] = vendor.Message{CustomerID: r.CustomerID.String(), Email: emails[r.CustomerID], Body: r.Message}
	}

	var mu sync.Mutex
	written := 0
	results, berr := e.sender.SendBulk(ctx, msgs, "", func(i int, r *vendor.Result) error {
		if err := e.deliveries.ApplyOutcome(ctx, batch[i].ID, r.Outcome()); err != nil {
			return err
		}
		e.metrics.Prom().Deliveries.WithLabelValues("send", r.Status).Inc()

		mu.Lock()
		defer mu.Unlock()
		written++
		if r.Status == models.DeliveryStatusSent {
			sent++
		} else {
			failed++
		}
		return nil
	})
	if berr == nil && (len(results) != len(batch) || written != len(batch)) {
		berr = fmt.Errorf("vendor returned %d results for %d messages", written, len(batch))
	}
	if berr == nil {
		return sent, failed, nil
	}

	e.log.Warn("delivery batch failed",
		zap.String("campaign_id", batch[0].CampaignID.String()),
		zap.Int("size", len(batch)),
		zap.Error(berr),
	)
	ids := make([]uuid.UUID, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	n, err := e.deliveries.FailPending(context.WithoutCancel(ctx), ids, models.FailureBatchProcessing)
	if err != nil {
		return sent, failed, fmt.Errorf("mark failed batch: %w (batch error: %v)", err, berr)
	}
	e.metrics.Prom().Deliveries.WithLabelValues("send", models.DeliveryStatusFailed).Add(float64(n))
	return sent, failed + n, nil
}

// Personalize fills the message placeholders for one customer.
func Personalize(template string, c models.Customer) string {
	r := strings.NewReplacer(
		"{customerName}", c.Name,
		"{customerEmail}", c.Email,
		"{totalSpent}", fmt.Sprintf("$%.2f", c.TotalSpent),
		"{visits}", strconv.Itoa(c.Visits),
	)
	return r.Replace(template)
}
