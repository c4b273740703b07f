// Package delivery runs campaign delivery and reconciles vendor receipts.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/segment"
	"github.com/pulsecrm/delivery/internal/vendor"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// CampaignStore is the campaign side of the transactional datastore.
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	// MarkCompleted moves an ACTIVE or FAILED campaign to COMPLETED and reports
	// whether this call made the transition.
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

type CustomerStore interface {
	ListMatching(ctx context.Context, f segment.Filter) ([]models.Customer, error)
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeliveryStore is the delivery record side of the datastore.
type DeliveryStore interface {
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	// CreatePending inserts records for a campaign that has none yet and sets
	// the campaign audience size to len(records). It returns false without
	// writing when records already exist.
	CreatePending(ctx context.Context, campaignID uuid.UUID, records []models.DeliveryRecord) (bool, error)
	ApplyOutcome(ctx context.Context, recordID uuid.UUID, o models.SendOutcome) error
	// FailPending sets the still PENDING records among ids to FAILED with reason.
	FailPending(ctx context.Context, ids []uuid.UUID, reason string) (int, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.DeliveryRecord, error)
	// ApplyReceipt writes the first receipt of a non-PENDING record and reports
	// whether it changed anything.
	ApplyReceipt(ctx context.Context, u models.ReceiptUpdate) (bool, error)
	StatusCounts(ctx context.Context, campaignID uuid.UUID) (map[string]int, error)
	Stats(ctx context.Context, campaignID *uuid.UUID) (*models.DeliveryStats, error)
}

// Sender dispatches messages to vendors. onResult is called with the input
// index as each message is sent, possibly concurrently.
type Sender interface {
	SendBulk(ctx context.Context, msgs []vendor.Message, vendorName string, onResult func(i int, r *vendor.Result) error) ([]*vendor.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, data any) (int64, error)
}

// RequestQueue is the replay record of delivery requests, keyed by campaign id.
type RequestQueue interface {
	RemoveFromQueue(ctx context.Context, queue string, ids ...string) error
}

// Summarizer produces a short performance summary of a finished campaign.
type Summarizer interface {
	Summarize(ctx context.Context, campaignName string, sent, failed, audienceSize int) (string, error)
}
