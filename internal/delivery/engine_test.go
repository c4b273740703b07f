package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedSender returns SENT for every message unless fail returns an error
// for the given call number (starting at 1).
type scriptedSender struct {
	mu    sync.Mutex
	calls int
	sizes []int
	fail  func(call int) error
	seq   int
}

func (s *scriptedSender) SendBulk(_ context.Context, msgs []vendor.Message, _ string, onResult func(int, *vendor.Result) error) ([]*vendor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sizes = append(s.sizes, len(msgs))
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return nil, err
		}
	}
	out := make([]*vendor.Result, len(msgs))
	for i, m := range msgs {
		s.seq++
		status := models.DeliveryStatusSent
		reason := ""
		if s.seq%4 == 0 {
			status, reason = models.DeliveryStatusFailed, "BOUNCE"
		}
		out[i] = &vendor.Result{
			MessageID:     fmt.Sprintf("msg_%d", s.seq),
			CustomerID:    m.CustomerID,
			Status:        status,
			Vendor:        "SendGridSim",
			Timestamp:     time.Now(),
			FailureReason: reason,
			Cost:          0.03,
		}
		if err := onResult(i, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// earlyReceiptSender looks every message id up in the store right after the
// engine has accepted its result, the way a fast receipt would.
type earlyReceiptSender struct {
	store *memStore
	found int
}

func (s *earlyReceiptSender) SendBulk(ctx context.Context, msgs []vendor.Message, _ string, onResult func(int, *vendor.Result) error) ([]*vendor.Result, error) {
	out := make([]*vendor.Result, len(msgs))
	for i, m := range msgs {
		out[i] = &vendor.Result{
			MessageID:  fmt.Sprintf("early_%s", m.CustomerID),
			CustomerID: m.CustomerID,
			Status:     models.DeliveryStatusSent,
			Vendor:     "TwilioSim",
			Timestamp:  time.Now(),
			Cost:       0.05,
		}
		if err := onResult(i, out[i]); err != nil {
			return nil, err
		}
		if _, err := s.store.GetByMessageID(ctx, out[i].MessageID); err == nil {
			s.found++
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, store *memStore, sender Sender) (*Engine, *capturePublisher, *countingSummarizer) {
	m, _ := newTestMetrics(t)
	pub := &capturePublisher{}
	sum := &countingSummarizer{}
	e := NewEngine(store, store, store, sender, pub, pub, m, sum, EngineConfig{BatchSize: 50}, zap.NewNop())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, pub, sum
}

var highSpenders = []models.Rule{{Field: models.FieldTotalSpent, Operator: models.OpGreater, Value: "500"}}

func TestDeliverCampaignCreatesOneRecordPerRecipient(t *testing.T) {
	store := newMemStore()
	store.addCustomer("ann", 900, 3)
	store.addCustomer("bob", 500, 1)
	store.addCustomer("cid", 501.5, 7)
	c := store.addCampaign("spring")

	e, pub, sum := newTestEngine(t, store, &scriptedSender{})
	res, err := e.DeliverCampaign(context.Background(), Request{
		CampaignID: c.ID,
		Rules:      highSpenders,
		Message:    "Hi {customerName}, you spent {totalSpent} over {visits} visits",
	})
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 2, res.Audience)
	assert.Equal(t, 2, res.Sent+res.Failed)

	records := store.recordsFor(c.ID)
	require.Len(t, records, 2)
	got := store.campaign(c.ID)
	assert.Equal(t, len(records), got.AudienceSize)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	messages := []string{records[0].Message, records[1].Message}
	assert.Contains(t, messages, "Hi ann, you spent $900.00 over 3 visits")
	assert.Contains(t, messages, "Hi cid, you spent $501.50 over 7 visits")
	for _, r := range records {
		assert.NotEqual(t, models.DeliveryStatusPending, r.Status)
		require.NotNil(t, r.MessageID)
	}

	assert.Len(t, pub.updates(models.AnalyticsCampaignCompleted), 1)
	assert.Len(t, pub.updates(models.AnalyticsCampaignDelivered), 1)
	assert.Equal(t, 1, sum.calls)
	assert.Equal(t, []string{c.ID.String()}, pub.removed())
}

func TestDeliverCampaignStoresMessageIDBeforeBatchEnds(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 3; i++ {
		store.addCustomer(fmt.Sprintf("c%d", i), 1000, 1)
	}
	c := store.addCampaign("fast receipts")

	sender := &earlyReceiptSender{store: store}
	e, _, _ := newTestEngine(t, store, sender)
	res, err := e.DeliverCampaign(context.Background(), Request{CampaignID: c.ID, Rules: highSpenders, Message: "x"})
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 3, sender.found, "each message id is stored as soon as its send returns")
}

func TestDeliverCampaignIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addCustomer("ann", 900, 3)
	c := store.addCampaign("again")

	sender := &scriptedSender{}
	e, pub, _ := newTestEngine(t, store, sender)
	req := Request{CampaignID: c.ID, Rules: highSpenders, Message: "hello"}

	_, err := e.DeliverCampaign(context.Background(), req)
	require.NoError(t, err)
	writes := store.writes
	calls := sender.calls

	res, err := e.DeliverCampaign(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, writes, store.writes, "second run must not write")
	assert.Equal(t, calls, sender.calls)
	assert.Len(t, store.recordsFor(c.ID), 1)
	assert.Equal(t, []string{c.ID.String(), c.ID.String()}, pub.removed(), "a replayed request leaves the queue too")
	assert.Len(t, pub.updates(models.AnalyticsCampaignCompleted), 1)
}

func TestDeliverCampaignEmptyAudience(t *testing.T) {
	store := newMemStore()
	store.addCustomer("low", 10, 1)
	c := store.addCampaign("nobody")

	sender := &scriptedSender{}
	e, pub, sum := newTestEngine(t, store, sender)
	res, err := e.DeliverCampaign(context.Background(), Request{CampaignID: c.ID, Rules: highSpenders, Message: "x"})
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 0, res.Audience)
	assert.Equal(t, 0, sender.calls)
	assert.Equal(t, models.CampaignStatusCompleted, store.campaign(c.ID).Status)
	assert.Empty(t, store.recordsFor(c.ID))

	done := pub.updates(models.AnalyticsCampaignCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, 0, done[0].Stats["sent"])
	assert.Equal(t, 0, sum.calls, "no summary for an empty campaign")
	assert.Equal(t, []string{c.ID.String()}, pub.removed())
}

func TestDeliverCampaignBatchFailure(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 120; i++ {
		store.addCustomer(fmt.Sprintf("c%03d", i), 1000, 1)
	}
	c := store.addCampaign("big")

	sender := &scriptedSender{fail: func(call int) error {
		if call == 2 {
			return errors.New("vendor exploded")
		}
		return nil
	}}
	e, _, _ := newTestEngine(t, store, sender)

	res, err := e.DeliverCampaign(context.Background(), Request{CampaignID: c.ID, Rules: highSpenders, Message: "x"})
	require.NoError(t, err)
	e.Wait()
	assert.Equal(t, []int{50, 50, 20}, sender.sizes)
	assert.Equal(t, 120, res.Sent+res.Failed)

	batchFailed := 0
	for _, r := range store.recordsFor(c.ID) {
		assert.NotEqual(t, models.DeliveryStatusPending, r.Status)
		if r.FailureReason != nil && *r.FailureReason == models.FailureBatchProcessing {
			assert.Equal(t, models.DeliveryStatusFailed, r.Status)
			assert.Nil(t, r.MessageID)
			batchFailed++
		}
	}
	assert.Equal(t, 50, batchFailed)
	assert.Equal(t, models.CampaignStatusCompleted, store.campaign(c.ID).Status)
}

func TestDeliverCampaignTopLevelErrorMarksFailed(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db down")
	c := store.addCampaign("broken")

	m, mr := newTestMetrics(t)
	pub := &capturePublisher{}
	e := NewEngine(store, store, store, &scriptedSender{}, pub, pub, m, nil, EngineConfig{}, zap.NewNop())

	_, err := e.DeliverCampaign(context.Background(), Request{CampaignID: c.ID, Rules: highSpenders, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, models.CampaignStatusFailed, store.campaign(c.ID).Status)
	assert.Empty(t, pub.removed(), "request stays queued for replay")

	v, gerr := mr.Get(metrics.Key(metrics.CampaignsFailed))
	require.NoError(t, gerr)
	assert.Equal(t, "1", v)
}

func TestDeliverCampaignUnknownCampaign(t *testing.T) {
	store := newMemStore()
	e, _, _ := newTestEngine(t, store, &scriptedSender{})

	_, err := e.DeliverCampaign(context.Background(), Request{CampaignID: uuid.New(), Message: "x"})
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestDeliverCampaignCostMatchesStats(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 7; i++ {
		store.addCustomer(fmt.Sprintf("c%d", i), 1000, 1)
	}
	c := store.addCampaign("cost")
	e, _, _ := newTestEngine(t, store, &scriptedSender{})

	_, err := e.DeliverCampaign(context.Background(), Request{CampaignID: c.ID, Rules: highSpenders, Message: "x"})
	require.NoError(t, err)

	var sum float64
	for _, r := range store.recordsFor(c.ID) {
		require.NotNil(t, r.Cost)
		sum += *r.Cost
	}
	id := c.ID
	st, err := store.Stats(context.Background(), &id)
	require.NoError(t, err)
	assert.InDelta(t, sum, st.Costs.Total, 1e-9)
	assert.InDelta(t, 0.21, st.Costs.Total, 1e-9)
}

func TestPersonalize(t *testing.T) {
	cust := models.Customer{Name: "Dee", Email: "dee@example.com", TotalSpent: 12.5, Visits: 4}
	tests := []struct {
		template string
		want     string
	}{
		{"{customerName}", "Dee"},
		{"{customerEmail} {customerEmail}", "dee@example.com dee@example.com"},
		{"spent {totalSpent}", "spent $12.50"},
		{"{visits} visits", "4 visits"},
		{"no tokens", "no tokens"},
		{"{unknown}", "{unknown}"},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.template, " ", "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, Personalize(tt.template, cust))
		})
	}
}
