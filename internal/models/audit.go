package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActorUser      = "user"
	AuditEntityCampaign = "campaign"

	AuditCampaignCreated          = "campaign_created"
	AuditCampaignDeliveryReplayed = "campaign_delivery_replayed"
)

// AuditLog is one entry of a campaign's history. Meta is stored as JSONB.
type AuditLog struct {
	ID          uuid.UUID      `json:"id"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorType   string         `json:"actor_type"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    *uuid.UUID     `json:"entity_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CampaignAudit records an operator action on a campaign.
func CampaignAudit(userID, campaignID uuid.UUID, action string, meta map[string]any) AuditLog {
	return AuditLog{
		ActorUserID: &userID,
		ActorType:   AuditActorUser,
		Action:      action,
		EntityType:  AuditEntityCampaign,
		EntityID:    &campaignID,
		Meta:        meta,
	}
}
