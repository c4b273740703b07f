package consumer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
)

const (
	customerChunkSize = 50
	orderChunkSize    = 100
)

type CustomerWriter interface {
	Upsert(ctx context.Context, c *models.Customer) error
	UpsertMany(ctx context.Context, customers []models.Customer) error
}

type OrderWriter interface {
	Create(ctx context.Context, o *models.Order) error
	CreateMany(ctx context.Context, orders []models.Order) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, data any) (int64, error)
}

// Ingestion writes customer and order events into the datastore. Bulk
// payloads are committed in chunks; a failed chunk is counted and skipped.
type Ingestion struct {
	customers CustomerWriter
	orders    OrderWriter
	pub       Publisher
	metrics   *metrics.Store
	log       *zap.Logger
}

func NewIngestion(customers CustomerWriter, orders OrderWriter, pub Publisher, m *metrics.Store, log *zap.Logger) *Ingestion {
	return &Ingestion{customers: customers, orders: orders, pub: pub, metrics: m, log: log}
}

func (c *Ingestion) Name() string            { return "data-ingestion" }
func (c *Ingestion) MetricNamespace() string { return "data_ingestion" }

func (c *Ingestion) Channels() []string {
	return []string{
		broker.ChannelCustomerIngestion,
		broker.ChannelCustomerBulkIngestion,
		broker.ChannelOrderIngestion,
		broker.ChannelOrderBulkIngestion,
	}
}

func (c *Ingestion) Handle(ctx context.Context, channel string, payload []byte) error {
	switch channel {
	case broker.ChannelCustomerIngestion:
		return c.customer(ctx, payload)
	case broker.ChannelCustomerBulkIngestion:
		return c.bulkCustomers(ctx, payload)
	case broker.ChannelOrderIngestion:
		return c.order(ctx, payload)
	case broker.ChannelOrderBulkIngestion:
		return c.bulkOrders(ctx, payload)
	}
	return fmt.Errorf("unexpected channel %q", channel)
}

func toCustomer(p models.CustomerPayload) models.Customer {
	return models.Customer{
		Name:       p.Name,
		Email:      p.Email,
		TotalSpent: p.TotalSpent,
		Visits:     p.Visits,
		LastVisit:  p.LastVisit,
	}
}

func (c *Ingestion) customer(ctx context.Context, payload []byte) error {
	var p models.CustomerPayload
	if err := Decode(payload, &p); err != nil {
		c.metrics.Incr(ctx, metrics.CustomersErrors, 1)
		return err
	}
	cust := toCustomer(p)
	if err := c.customers.Upsert(ctx, &cust); err != nil {
		c.metrics.Incr(ctx, metrics.CustomersErrors, 1)
		return fmt.Errorf("upsert customer %s: %w", p.Email, err)
	}
	c.metrics.Incr(ctx, metrics.CustomersProcessed, 1)
	c.log.Debug("customer upserted", zap.String("customer_id", cust.ID.String()))
	return nil
}

func (c *Ingestion) bulkCustomers(ctx context.Context, payload []byte) error {
	var p models.BulkCustomerPayload
	if err := Decode(payload, &p); err != nil {
		return err
	}

	processed, failed := 0, 0
	for start := 0; start < len(p.Customers); start += customerChunkSize {
		end := min(start+customerChunkSize, len(p.Customers))
		chunk := make([]models.Customer, 0, end-start)
		for _, cp := range p.Customers[start:end] {
			chunk = append(chunk, toCustomer(cp))
		}
		if err := c.customers.UpsertMany(ctx, chunk); err != nil {
			c.log.Warn("customer chunk failed",
				zap.String("batch_id", p.BatchID), zap.Int("offset", start), zap.Error(err))
			failed += len(chunk)
			continue
		}
		processed += len(chunk)
	}

	c.metrics.Incr(ctx, metrics.CustomersBulkProcessed, int64(processed))
	c.metrics.Incr(ctx, metrics.CustomersBulkErrors, int64(failed))
	c.log.Info("bulk customers ingested",
		zap.String("batch_id", p.BatchID), zap.Int("processed", processed), zap.Int("errors", failed))
	return nil
}

func toOrder(p models.OrderPayload) (models.Order, error) {
	id, err := uuid.Parse(p.CustomerID)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: customer id: %v", ErrInvalidPayload, err)
	}
	return models.Order{CustomerID: id, Amount: p.Amount}, nil
}

func (c *Ingestion) order(ctx context.Context, payload []byte) error {
	var p models.OrderPayload
	if err := Decode(payload, &p); err != nil {
		c.metrics.Incr(ctx, metrics.OrdersErrors, 1)
		return err
	}
	o, err := toOrder(p)
	if err != nil {
		c.metrics.Incr(ctx, metrics.OrdersErrors, 1)
		return err
	}
	if err := c.orders.Create(ctx, &o); err != nil {
		c.metrics.Incr(ctx, metrics.OrdersErrors, 1)
		return fmt.Errorf("create order for %s: %w", p.CustomerID, err)
	}

	c.metrics.Incr(ctx, metrics.OrdersProcessed, 1)
	c.metrics.IncrFloat(ctx, metrics.RevenueTotal, o.Amount)

	_, err = c.pub.Publish(ctx, broker.ChannelAnalyticsUpdate, models.AnalyticsUpdate{
		Type:       models.AnalyticsCustomerActivity,
		CustomerID: o.CustomerID.String(),
	})
	if err != nil {
		c.log.Warn("failed to publish customer activity", zap.Error(err))
	}
	return nil
}

func (c *Ingestion) bulkOrders(ctx context.Context, payload []byte) error {
	var p models.BulkOrderPayload
	if err := Decode(payload, &p); err != nil {
		return err
	}

	processed, failed := 0, 0
	revenue := 0.0
	for start := 0; start < len(p.Orders); start += orderChunkSize {
		end := min(start+orderChunkSize, len(p.Orders))
		chunk := make([]models.Order, 0, end-start)
		chunkRevenue := 0.0
		for _, op := range p.Orders[start:end] {
			o, err := toOrder(op)
			if err != nil {
				failed++
				continue
			}
			chunk = append(chunk, o)
			chunkRevenue += o.Amount
		}
		if len(chunk) == 0 {
			continue
		}
		if err := c.orders.CreateMany(ctx, chunk); err != nil {
			c.log.Warn("order chunk failed",
				zap.String("batch_id", p.BatchID), zap.Int("offset", start), zap.Error(err))
			failed += len(chunk)
			continue
		}
		processed += len(chunk)
		revenue += chunkRevenue
	}

	c.metrics.Incr(ctx, metrics.OrdersBulkProcessed, int64(processed))
	c.metrics.Incr(ctx, metrics.OrdersBulkErrors, int64(failed))
	c.metrics.IncrFloat(ctx, metrics.RevenueBulk, revenue)
	c.log.Info("bulk orders ingested",
		zap.String("batch_id", p.BatchID), zap.Int("processed", processed), zap.Int("errors", failed),
		zap.Float64("revenue", revenue))
	return nil
}
