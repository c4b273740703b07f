package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/segment"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memStore is an in-memory datastore implementing every store interface.
type memStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
	customers []models.Customer
	records   []*models.DeliveryRecord
	writes    int

	listErr error
}

func newMemStore() *memStore {
	return &memStore{campaigns: map[uuid.UUID]*models.Campaign{}}
}

func (s *memStore) addCampaign(name string) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Campaign{ID: uuid.New(), Name: name, Status: models.CampaignStatusActive, CreatedAt: time.Now()}
	s.campaigns[c.ID] = c
	return c
}

func (s *memStore) addCustomer(name string, spent float64, visits int) models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Customer{ID: uuid.New(), Name: name, Email: name + "@example.com", TotalSpent: spent, Visits: visits, CreatedAt: time.Now()}
	s.customers = append(s.customers, c)
	return c
}

func (s *memStore) campaign(id uuid.UUID) models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) recordsFor(id uuid.UUID) []models.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryRecord
	for _, r := range s.records {
		if r.CampaignID == id {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) transition(id uuid.UUID, to string) bool {
	c, ok := s.campaigns[id]
	if !ok || !models.IsValidCampaignTransition(c.Status, to) {
		return false
	}
	c.Status = to
	s.writes++
	return true
}

func (s *memStore) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transition(id, models.CampaignStatusCompleted) {
		return false, nil
	}
	s.campaigns[id].CompletedAt = &at
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, models.CampaignStatusFailed), nil
}

func (s *memStore) ListMatching(_ context.Context, f segment.Filter) ([]models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Customer
	for _, c := range s.customers {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) TouchLastVisit(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.customers {
		if s.customers[i].ID == id {
			s.customers[i].LastVisit = &at
		}
	}
	return nil
}

func (s *memStore) CountByCampaign(_ context.Context, id uuid.UUID) (int, error) {
	return len(s.recordsFor(id)), nil
}

func (s *memStore) CreatePending(_ context.Context, id uuid.UUID, records []models.DeliveryRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.CampaignID == id {
			return false, nil
		}
	}
	for i := range records {
		r := records[i]
		s.records = append(s.records, &r)
	}
	s.campaigns[id].AudienceSize = len(records)
	s.writes++
	return true, nil
}

func (s *memStore) find(id uuid.UUID) *models.DeliveryRecord {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memStore) ApplyOutcome(_ context.Context, id uuid.UUID, o models.SendOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil || r.Status != models.DeliveryStatusPending {
		return nil
	}
	r.Status, r.Vendor, r.MessageID = o.Status, &o.Vendor, &o.MessageID
	r.Cost, r.FailureReason = &o.Cost, o.FailureReason
	if o.Status == models.DeliveryStatusSent {
		r.SentAt = o.SentAt
	}
	s.writes++
	return nil
}

func (s *memStore) FailPending(_ context.Context, ids []uuid.UUID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		r := s.find(id)
		if r == nil || r.Status != models.DeliveryStatusPending {
			continue
		}
		rs := reason
		r.Status, r.FailureReason = models.DeliveryStatusFailed, &rs
		n++
	}
	s.writes++
	return n, nil
}

func (s *memStore) GetByMessageID(_ context.Context, messageID string) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.MessageID != nil && *r.MessageID == messageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *memStore) ApplyReceipt(_ context.Context, u models.ReceiptUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := false
	for _, r := range s.records {
		if r.MessageID == nil || *r.MessageID != u.MessageID || r.Status == models.DeliveryStatusPending || r.WebhookReceivedAt != nil {
			continue
		}
		applied = true
		vendor, at := u.Vendor, u.WebhookReceivedAt
		r.Status, r.Vendor = u.Status, &vendor
		if u.Cost != nil {
			c := *u.Cost
			r.Cost = &c
		}
		r.DeliveredAt, r.FailureReason, r.WebhookReceivedAt = u.DeliveredAt, u.FailureReason, &at
		s.writes++
	}
	return applied, nil
}

func (s *memStore) StatusCounts(_ context.Context, id uuid.UUID) (map[string]int, error) {
	out := map[string]int{}
	for _, r := range s.recordsFor(id) {
		out[r.Status]++
	}
	return out, nil
}

func (s *memStore) Stats(_ context.Context, id *uuid.UUID) (*models.DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.DeliveryStats{Status: map[string]int{}}
	n := 0
	for _, r := range s.records {
		if id != nil && r.CampaignID != *id {
			continue
		}
		st.Total++
		st.Status[r.Status]++
		if r.Cost == nil {
			continue
		}
		c := *r.Cost
		if n == 0 || c < st.Costs.Min {
			st.Costs.Min = c
		}
		if c > st.Costs.Max {
			st.Costs.Max = c
		}
		st.Costs.Total += c
		n++
	}
	if n > 0 {
		st.Costs.Average = st.Costs.Total / float64(n)
	}
	return st, nil
}

type published struct {
	channel string
	data    any
}

// capturePublisher records published messages and request queue removals.
type capturePublisher struct {
	mu       sync.Mutex
	msgs     []published
	dequeued []string
}

func (p *capturePublisher) RemoveFromQueue(_ context.Context, queue string, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if queue == broker.KeyCampaignQueue {
		p.dequeued = append(p.dequeued, ids...)
	}
	return nil
}

func (p *capturePublisher) removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dequeued...)
}

func (p *capturePublisher) Publish(_ context.Context, channel string, data any) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{channel, data})
	return 1, nil
}

func (p *capturePublisher) updates(kind string) []models.AnalyticsUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.AnalyticsUpdate
	for _, m := range p.msgs {
		if u, ok := m.data.(models.AnalyticsUpdate); ok && m.channel == broker.ChannelAnalyticsUpdate && u.Type == kind {
			out = append(out, u)
		}
	}
	return out
}

type countingSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSummarizer) Summarize(context.Context, string, int, int, int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "ok", nil
}

func newTestMetrics(t *testing.T) (*metrics.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := broker.New(client, zap.NewNop())
	return metrics.NewStore(b, metrics.NewCollectors(prometheus.NewRegistry()), zap.NewNop()), mr
}
