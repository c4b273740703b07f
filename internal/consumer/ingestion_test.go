package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCustomers struct {
	upserted []models.Customer
	chunks   []int
	failCall int // 1-based UpsertMany call to fail, 0 for none
}

func (f *fakeCustomers) Upsert(_ context.Context, c *models.Customer) error {
	c.ID = uuid.New()
	f.upserted = append(f.upserted, *c)
	return nil
}

func (f *fakeCustomers) UpsertMany(_ context.Context, cs []models.Customer) error {
	f.chunks = append(f.chunks, len(cs))
	if len(f.chunks) == f.failCall {
		return errors.New("deadlock detected")
	}
	f.upserted = append(f.upserted, cs...)
	return nil
}

type fakeOrders struct {
	created  []models.Order
	chunks   []int
	failCall int
	err      error
}

func (f *fakeOrders) Create(_ context.Context, o *models.Order) error {
	if f.err != nil {
		return f.err
	}
	o.ID = uuid.New()
	f.created = append(f.created, *o)
	return nil
}

func (f *fakeOrders) CreateMany(_ context.Context, os []models.Order) error {
	f.chunks = append(f.chunks, len(os))
	if len(f.chunks) == f.failCall {
		return errors.New("customer not found")
	}
	f.created = append(f.created, os...)
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []any
}

func (p *capturePublisher) Publish(_ context.Context, _ string, data any) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, data)
	return 1, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestIngestionCustomerUpsert(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	customers := &fakeCustomers{}
	c := NewIngestion(customers, &fakeOrders{}, &capturePublisher{}, m, zap.NewNop())

	err := c.Handle(context.Background(), broker.ChannelCustomerIngestion, mustJSON(t, models.CustomerPayload{
		Name: "Ada", Email: "ada@example.com", TotalSpent: 120.5, Visits: 3,
	}))
	require.NoError(t, err)
	require.Len(t, customers.upserted, 1)
	assert.Equal(t, "ada@example.com", customers.upserted[0].Email)
	assert.Equal(t, 120.5, customers.upserted[0].TotalSpent)
	assert.Equal(t, "1", counter(t, mr, metrics.CustomersProcessed))
}

func TestIngestionRejectsInvalidCustomer(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	customers := &fakeCustomers{}
	c := NewIngestion(customers, &fakeOrders{}, &capturePublisher{}, m, zap.NewNop())

	err := c.Handle(context.Background(), broker.ChannelCustomerIngestion, []byte(`{"name":"Bob","email":"not-an-email"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Empty(t, customers.upserted)
	assert.Equal(t, "1", counter(t, mr, metrics.CustomersErrors))
}

func TestIngestionBulkCustomersChunked(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	customers := &fakeCustomers{failCall: 2}
	c := NewIngestion(customers, &fakeOrders{}, &capturePublisher{}, m, zap.NewNop())

	payload := models.BulkCustomerPayload{BatchID: "b-1"}
	for i := 0; i < 120; i++ {
		payload.Customers = append(payload.Customers, models.CustomerPayload{
			Name: fmt.Sprintf("c%d", i), Email: fmt.Sprintf("c%d@example.com", i),
		})
	}

	require.NoError(t, c.Handle(context.Background(), broker.ChannelCustomerBulkIngestion, mustJSON(t, payload)))
	assert.Equal(t, []int{50, 50, 20}, customers.chunks)
	assert.Len(t, customers.upserted, 70)
	assert.Equal(t, "70", counter(t, mr, metrics.CustomersBulkProcessed))
	assert.Equal(t, "50", counter(t, mr, metrics.CustomersBulkErrors))
}

func TestIngestionOrderUpdatesRevenueAndActivity(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	orders := &fakeOrders{}
	pub := &capturePublisher{}
	c := NewIngestion(&fakeCustomers{}, orders, pub, m, zap.NewNop())
	customerID := uuid.New()

	err := c.Handle(context.Background(), broker.ChannelOrderIngestion, mustJSON(t, models.OrderPayload{
		CustomerID: customerID.String(), Amount: 49.9,
	}))
	require.NoError(t, err)
	require.Len(t, orders.created, 1)
	assert.Equal(t, customerID, orders.created[0].CustomerID)
	assert.Equal(t, "1", counter(t, mr, metrics.OrdersProcessed))

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 49.9, snap.Revenue, 1e-9)

	require.Len(t, pub.msgs, 1)
	upd := pub.msgs[0].(models.AnalyticsUpdate)
	assert.Equal(t, models.AnalyticsCustomerActivity, upd.Type)
	assert.Equal(t, customerID.String(), upd.CustomerID)
}

func TestIngestionOrderFailure(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	pub := &capturePublisher{}
	c := NewIngestion(&fakeCustomers{}, &fakeOrders{err: errors.New("customer not found")}, pub, m, zap.NewNop())

	err := c.Handle(context.Background(), broker.ChannelOrderIngestion, mustJSON(t, models.OrderPayload{
		CustomerID: uuid.NewString(), Amount: 10,
	}))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, "1", counter(t, mr, metrics.OrdersErrors))
	assert.Empty(t, pub.msgs)

	err = c.Handle(context.Background(), broker.ChannelOrderIngestion, []byte(`{"customerId":"x","amount":0}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIngestionBulkOrdersCountsCommittedRevenueOnly(t *testing.T) {
	_, m, mr := setupTestEnv(t)
	orders := &fakeOrders{failCall: 1}
	c := NewIngestion(&fakeCustomers{}, orders, &capturePublisher{}, m, zap.NewNop())

	payload := models.BulkOrderPayload{BatchID: "b-2"}
	for i := 0; i < 250; i++ {
		payload.Orders = append(payload.Orders, models.OrderPayload{CustomerID: uuid.NewString(), Amount: 2})
	}

	require.NoError(t, c.Handle(context.Background(), broker.ChannelOrderBulkIngestion, mustJSON(t, payload)))
	assert.Equal(t, []int{100, 100, 50}, orders.chunks)
	assert.Equal(t, "150", counter(t, mr, metrics.OrdersBulkProcessed))
	assert.Equal(t, "100", counter(t, mr, metrics.OrdersBulkErrors))

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 300.0, snap.Revenue, 1e-9)
}

func TestIngestionUnknownChannel(t *testing.T) {
	_, m, _ := setupTestEnv(t)
	c := NewIngestion(&fakeCustomers{}, &fakeOrders{}, &capturePublisher{}, m, zap.NewNop())
	assert.Error(t, c.Handle(context.Background(), broker.ChannelAnalytics, []byte(`{}`)))
}
