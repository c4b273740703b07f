package dto

import "github.com/pulsecrm/delivery/internal/models"

type CreateCampaignRequest struct {
	Name    string        `json:"name" validate:"required,max=200"`
	Rules   []models.Rule `json:"rules" validate:"required,min=1,dive"`
	Message string        `json:"message" validate:"required,max=1000"`
}

type PreviewAudienceRequest struct {
	Rules []models.Rule `json:"rules" validate:"required,dive"`
}

type ReplayQueueRequest struct {
	Count int64 `json:"count" validate:"omitempty,min=1,max=100"`
}

type SuggestRulesRequest struct {
	Query string `json:"query" validate:"required,max=500"`
}

type GenerateMessagesRequest struct {
	Objective string `json:"objective" validate:"required,max=500"`
	Audience  string `json:"audience" validate:"required,max=500"`
}
