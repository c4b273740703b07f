package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/segment"
	"go.uber.org/zap"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrInvalidRules     = errors.New("invalid audience rules")
)

type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListWithStats(ctx context.Context, f repositories.CampaignFilter) ([]models.CampaignWithStats, error)
}

type AudienceCounter interface {
	CountMatching(ctx context.Context, f segment.Filter) (int, error)
}

type AuditLog interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error)
}

// DeliveryQueue publishes delivery requests and keeps a replayable record of
// them until the delivery engine picks them up.
type DeliveryQueue interface {
	Publish(ctx context.Context, channel string, data any) (int64, error)
	AddToQueue(ctx context.Context, queue, id string, item any, priority float64) error
	PeekQueue(ctx context.Context, queue string, count int64) ([]broker.QueueItem, error)
	RemoveFromQueue(ctx context.Context, queue string, ids ...string) error
	QueueLen(ctx context.Context, queue string) (int64, error)
}

type CampaignInput struct {
	Name    string
	Rules   []models.Rule
	Message string
}

type CampaignService struct {
	campaigns CampaignRepository
	audience  AudienceCounter
	audit     AuditLog
	queue     DeliveryQueue
	metrics   *metrics.Store
	log       *zap.Logger
	now       func() time.Time
}

func NewCampaignService(
	campaigns CampaignRepository,
	audience AudienceCounter,
	audit AuditLog,
	queue DeliveryQueue,
	m *metrics.Store,
	log *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaigns: campaigns,
		audience:  audience,
		audit:     audit,
		queue:     queue,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Preview sizes the audience a rule set would select right now.
func (s *CampaignService) Preview(ctx context.Context, rules []models.Rule) (int, error) {
	f, err := segment.Compile(rules, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return s.audience.CountMatching(ctx, f)
}

// Create persists an ACTIVE campaign and hands it to the delivery pipeline. A
// failed publish is logged but does not fail creation: the request stays in the
// campaign queue until the delivery engine takes it, and can be replayed.
func (s *CampaignService) Create(ctx context.Context, userID uuid.UUID, in CampaignInput) (*models.Campaign, error) {
	size, err := s.Preview(ctx, in.Rules)
	if err != nil {
		return nil, err
	}

	c := &models.Campaign{
		Name:         in.Name,
		Rules:        in.Rules,
		Message:      in.Message,
		AudienceSize: size,
		Status:       models.CampaignStatusActive,
		CreatedBy:    userID,
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	log := s.log.With(zap.String("campaign_id", c.ID.String()))
	req := models.DeliveryRequest{
		CampaignID: c.ID.String(),
		Rules:      c.Rules,
		Message:    c.Message,
		UserID:     userID.String(),
	}
	if err := s.queue.AddToQueue(ctx, broker.KeyCampaignQueue, req.CampaignID, req, float64(c.CreatedAt.UnixMilli())); err != nil {
		log.Warn("failed to record delivery request", zap.Error(err))
	}
	if _, err := s.queue.Publish(ctx, broker.ChannelCampaignDelivery, req); err != nil {
		log.Error("failed to publish delivery request", zap.Error(err))
	}

	s.metrics.Incr(ctx, metrics.CampaignsCreated, 1)
	_ = s.audit.Log(ctx, models.CampaignAudit(userID, c.ID, models.AuditCampaignCreated,
		map[string]any{"audience_size": size, "rules": len(c.Rules)}))

	log.Info("campaign created", zap.Int("audience_size", size))
	return c, nil
}

func (s *CampaignService) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedBy != userID {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

func (s *CampaignService) List(ctx context.Context, userID uuid.UUID, f repositories.CampaignFilter) ([]models.CampaignWithStats, error) {
	f.CreatedBy = &userID
	return s.campaigns.ListWithStats(ctx, f)
}

// History returns the audit trail of a campaign owned by userID.
func (s *CampaignService) History(ctx context.Context, id, userID uuid.UUID) ([]models.AuditLog, error) {
	if _, err := s.GetByID(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.audit.ListByEntity(ctx, models.AuditEntityCampaign, id, 50)
}

// QueueLen counts delivery requests the delivery engine has not taken yet.
func (s *CampaignService) QueueLen(ctx context.Context) (int64, error) {
	return s.queue.QueueLen(ctx, broker.KeyCampaignQueue)
}

// Replay publishes up to n queued delivery requests again, oldest first.
// Requests stay queued until the delivery engine takes them, so a failed
// publish loses nothing and the call can simply be repeated.
func (s *CampaignService) Replay(ctx context.Context, userID uuid.UUID, n int64) (int, error) {
	items, err := s.queue.PeekQueue(ctx, broker.KeyCampaignQueue, n)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, it := range items {
		var req models.DeliveryRequest
		if err := json.Unmarshal(it.Payload, &req); err != nil {
			s.log.Warn("dropping malformed queued request", zap.String("campaign_id", it.ID), zap.Error(err))
			if err := s.queue.RemoveFromQueue(ctx, broker.KeyCampaignQueue, it.ID); err != nil {
				return replayed, fmt.Errorf("drop queued request %s: %w", it.ID, err)
			}
			continue
		}
		if _, err := s.queue.Publish(ctx, broker.ChannelCampaignDelivery, req); err != nil {
			return replayed, fmt.Errorf("republish campaign %s: %w", req.CampaignID, err)
		}
		replayed++

		if id, err := uuid.Parse(req.CampaignID); err == nil {
			_ = s.audit.Log(ctx, models.CampaignAudit(userID, id, models.AuditCampaignDeliveryReplayed, nil))
		}
	}
	return replayed, nil
}
