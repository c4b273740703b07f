package models

import "time"

// Analytics update types
const (
	AnalyticsDeliveryReceipt   = "DELIVERY_RECEIPT"
	AnalyticsCampaignCompleted = "CAMPAIGN_COMPLETED"
	AnalyticsCampaignDelivered = "CAMPAIGN_DELIVERED"
	AnalyticsCustomerActivity  = "CUSTOMER_ACTIVITY"
)

// DeliveryRequest asks the delivery engine to deliver a freshly created campaign.
type DeliveryRequest struct {
	CampaignID string `json:"campaignId" validate:"required,uuid"`
	Rules      []Rule `json:"rules" validate:"required"`
	Message    string `json:"message" validate:"required"`
	UserID     string `json:"userId,omitempty"`
}

// Receipt is the vendor's asynchronous delivery confirmation.
type Receipt struct {
	MessageID     string    `json:"messageId" validate:"required"`
	CustomerID    string    `json:"customerId"`
	Status        string    `json:"status" validate:"required,oneof=SENT FAILED"`
	Vendor        string    `json:"vendor"`
	Timestamp     time.Time `json:"timestamp"`
	FailureReason string    `json:"failureReason,omitempty"`
	Cost          *float64  `json:"cost,omitempty"`
	WebhookSource string    `json:"webhookSource,omitempty"`
}

// AnalyticsUpdate carries a typed analytics event; domain fields are kept as-is.
type AnalyticsUpdate struct {
	Type        string         `json:"type" validate:"required"`
	CampaignID  string         `json:"campaignId,omitempty"`
	CustomerID  string         `json:"customerId,omitempty"`
	Status      string         `json:"status,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	ProcessedAt string         `json:"processedAt,omitempty"`
}

// ErrorReport is published on the error channel by any failing consumer.
type ErrorReport struct {
	Service         string `json:"service"`
	Source          string `json:"source,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Error           string `json:"error"`
	Timestamp       string `json:"timestamp"`
	MessageID       string `json:"messageId,omitempty"`
	CampaignID      string `json:"campaignId,omitempty"`
	RawMessage      string `json:"rawMessage,omitempty"`
	ParseError      bool   `json:"parseError,omitempty"`
	Critical        bool   `json:"critical,omitempty"`
	OriginalMessage any    `json:"originalMessage,omitempty"`
}

// CustomerPayload is a single customer upsert, keyed by email.
type CustomerPayload struct {
	Name       string     `json:"name" validate:"required"`
	Email      string     `json:"email" validate:"required,email"`
	TotalSpent float64    `json:"totalSpent" validate:"gte=0"`
	Visits     int        `json:"visits" validate:"gte=0"`
	LastVisit  *time.Time `json:"lastVisit,omitempty"`
}

type BulkCustomerPayload struct {
	BatchID   string            `json:"batchId"`
	Customers []CustomerPayload `json:"customers" validate:"required,dive"`
}

type OrderPayload struct {
	CustomerID string  `json:"customerId" validate:"required,uuid"`
	Amount     float64 `json:"amount" validate:"gt=0"`
}

type BulkOrderPayload struct {
	BatchID string         `json:"batchId"`
	Orders  []OrderPayload `json:"orders" validate:"required,dive"`
}
