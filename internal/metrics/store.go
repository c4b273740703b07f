// Package metrics accumulates pipeline counters and time series in the broker
// and exposes read-side summaries.
package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pulsecrm/delivery/internal/broker"
	"go.uber.org/zap"
)

// Store is the process metrics handle passed to every component that records
// metrics. Writes are best effort: failures are logged and swallowed.
type Store struct {
	b    *broker.Broker
	prom *Collectors
	log  *zap.Logger
	now  func() time.Time
}

func NewStore(b *broker.Broker, prom *Collectors, log *zap.Logger) *Store {
	return &Store{b: b, prom: prom, log: log, now: time.Now}
}

func (s *Store) Prom() *Collectors {
	return s.prom
}

func (s *Store) Incr(ctx context.Context, name string, n int64) {
	if _, err := s.b.Incr(ctx, Key(name), n); err != nil {
		s.log.Warn("metric increment failed", zap.String("metric", name), zap.Error(err))
	}
}

func (s *Store) IncrFloat(ctx context.Context, name string, n float64) {
	if _, err := s.b.IncrFloat(ctx, Key(name), n); err != nil {
		s.log.Warn("metric increment failed", zap.String("metric", name), zap.Error(err))
	}
}

// ObserveProcessing records one handled message for a consumer namespace: a
// processed count, cumulative milliseconds and a latency histogram sample.
func (s *Store) ObserveProcessing(ctx context.Context, consumer, namespace string, d time.Duration) {
	s.Incr(ctx, namespace+":processed", 1)
	s.Incr(ctx, namespace+":processing:time", d.Milliseconds())
	s.prom.ProcessingDuration.WithLabelValues(consumer).Observe(d.Seconds())
	s.prom.MessagesProcessed.WithLabelValues(consumer, "ok").Inc()
}

// ObserveFailure records a failed or invalid message for a consumer namespace.
func (s *Store) ObserveFailure(ctx context.Context, consumer, namespace, outcome string) {
	s.Incr(ctx, namespace+":errors", 1)
	s.prom.MessagesProcessed.WithLabelValues(consumer, outcome).Inc()
}

// Today returns the UTC date used to bucket daily series.
func (s *Store) Today() string {
	return s.now().UTC().Format("2006-01-02")
}

// DailyKey names the per-day counter for a delivery status, e.g. daily:sent:2025-06-15.
func DailyKey(status, date string) string {
	return DailyPrefix + strings.ToLower(status) + ":" + date
}

// AnalyticsListKey names the capped per-day list of analytics updates of one type.
func AnalyticsListKey(updateType, date string) string {
	return broker.KeyAnalyticsPrefix + strings.ToLower(updateType) + ":" + date
}

type CampaignMetrics struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Delivered int64 `json:"delivered"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Errors    int64 `json:"errors"`
}

type MessageMetrics struct {
	Sent           int64 `json:"sent"`
	Failed         int64 `json:"failed"`
	ReceiptsSent   int64 `json:"receipts_sent"`
	ReceiptsFailed int64 `json:"receipts_failed"`
	Receipts       int64 `json:"receipts_processed"`
	ReceiptErrors  int64 `json:"receipt_errors"`
}

type IngestionMetrics struct {
	Customers     int64 `json:"customers"`
	CustomersBulk int64 `json:"customers_bulk"`
	Orders        int64 `json:"orders"`
	OrdersBulk    int64 `json:"orders_bulk"`
	Errors        int64 `json:"errors"`
}

type PerformanceMetrics struct {
	AvgCampaignMs  float64 `json:"avg_campaign_ms"`
	AvgReceiptMs   float64 `json:"avg_receipt_ms"`
	AvgIngestionMs float64 `json:"avg_ingestion_ms"`
}

// Snapshot is the process-wide metrics summary.
type Snapshot struct {
	Campaigns   CampaignMetrics    `json:"campaigns"`
	Messages    MessageMetrics     `json:"messages"`
	Ingestion   IngestionMetrics   `json:"ingestion"`
	Revenue     float64            `json:"revenue"`
	Costs       float64            `json:"costs"`
	Errors      int64              `json:"errors"`
	Performance PerformanceMetrics `json:"performance"`
}

func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	names := []string{
		CampaignsProcessed, CampaignsCreated, CampaignsDelivered, CampaignsCompleted, CampaignsFailed, CampaignsErrors,
		MessagesSent, MessagesFailed, ReceiptsSent, ReceiptsFailed, ReceiptsProcessed, ReceiptsErrors,
		CustomersProcessed, CustomersBulkProcessed, OrdersProcessed, OrdersBulkProcessed, IngestionErrors,
		RevenueTotal, RevenueBulk, DeliveryCostTotal, ErrorsTotal,
		CampaignsProcessingTime, ReceiptsProcessingTime, IngestionProcessingTime, IngestionProcessed,
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = Key(n)
	}
	v, err := s.b.Floats(ctx, keys...)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Campaigns: CampaignMetrics{
			Processed: int64(v[0]), Created: int64(v[1]), Delivered: int64(v[2]),
			Completed: int64(v[3]), Failed: int64(v[4]), Errors: int64(v[5]),
		},
		Messages: MessageMetrics{
			Sent: int64(v[6]), Failed: int64(v[7]),
			ReceiptsSent: int64(v[8]), ReceiptsFailed: int64(v[9]),
			Receipts: int64(v[10]), ReceiptErrors: int64(v[11]),
		},
		Ingestion: IngestionMetrics{
			Customers: int64(v[12]), CustomersBulk: int64(v[13]),
			Orders: int64(v[14]), OrdersBulk: int64(v[15]), Errors: int64(v[16]),
		},
		Revenue: v[17] + v[18],
		Costs:   v[19],
		Errors:  int64(v[20]),
		Performance: PerformanceMetrics{
			AvgCampaignMs:  average(v[21], v[0]),
			AvgReceiptMs:   average(v[22], v[10]),
			AvgIngestionMs: average(v[23], v[24]),
		},
	}, nil
}

func average(total, count float64) float64 {
	if count == 0 {
		return 0
	}
	return total / count
}

type DailyDeliveries struct {
	Sent      int64   `json:"sent"`
	Failed    int64   `json:"failed"`
	TotalCost float64 `json:"total_cost"`
}

// Overview is the realtime dashboard feed.
type Overview struct {
	Date            string            `json:"date"`
	DailyDeliveries DailyDeliveries   `json:"daily_deliveries"`
	RecentActivity  []json.RawMessage `json:"recent_activity"`
	RecentCompleted []json.RawMessage `json:"recent_completed"`
	LastUpdated     time.Time         `json:"last_updated"`
}

func (s *Store) Overview(ctx context.Context) (*Overview, error) {
	date := s.Today()
	v, err := s.b.Floats(ctx,
		Key(DailyKey("sent", date)),
		Key(DailyKey("failed", date)),
		Key(DeliveryCostTotal),
	)
	if err != nil {
		return nil, err
	}
	activity, err := s.b.Range(ctx, AnalyticsListKey("DELIVERY_RECEIPT", date), 0, 9)
	if err != nil {
		return nil, err
	}
	completed, err := s.b.Range(ctx, AnalyticsListKey("CAMPAIGN_COMPLETED", date), 0, 9)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Date: date,
		DailyDeliveries: DailyDeliveries{
			Sent:      int64(v[0]),
			Failed:    int64(v[1]),
			TotalCost: v[2],
		},
		RecentActivity:  activity,
		RecentCompleted: completed,
		LastUpdated:     s.now(),
	}, nil
}
