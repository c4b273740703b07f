package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses
const (
	CampaignStatusActive    = "ACTIVE"
	CampaignStatusCompleted = "COMPLETED"
	CampaignStatusFailed    = "FAILED"
)

// ValidCampaignTransitions lists from -> []to. A FAILED campaign can still be
// completed once every delivery record has reached a terminal status.
var ValidCampaignTransitions = map[string][]string{
	CampaignStatusActive:    {CampaignStatusCompleted, CampaignStatusFailed},
	CampaignStatusFailed:    {CampaignStatusCompleted},
	CampaignStatusCompleted: {},
}

func IsValidCampaignTransition(from, to string) bool {
	return contains(ValidCampaignTransitions[from], to)
}

type Campaign struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Rules        []Rule     `json:"rules"`
	Message      string     `json:"message"`
	AudienceSize int        `json:"audience_size"`
	Status       string     `json:"status"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CampaignStats is the per-status breakdown of a campaign's delivery records.
type CampaignStats struct {
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

func NewCampaignStats(byStatus map[string]int) CampaignStats {
	s := CampaignStats{
		Sent:    byStatus[DeliveryStatusSent],
		Failed:  byStatus[DeliveryStatusFailed],
		Pending: byStatus[DeliveryStatusPending],
	}
	s.Total = s.Sent + s.Failed + s.Pending
	if s.Total > 0 {
		s.SuccessRate = float64(s.Sent) / float64(s.Total) * 100
	}
	return s
}

// CampaignWithStats embeds Campaign and adds its delivery breakdown for listings.
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
