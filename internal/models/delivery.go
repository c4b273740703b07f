package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery record statuses
const (
	DeliveryStatusPending = "PENDING"
	DeliveryStatusSent    = "SENT"
	DeliveryStatusFailed  = "FAILED"
)

// FailureBatchProcessing is the reserved reason for records whose send batch failed as a whole.
const FailureBatchProcessing = "BATCH_PROCESSING_ERROR"

// ValidDeliveryTransitions lists from -> []to. Terminal statuses may be refined
// by a vendor receipt (SENT <-> FAILED) but never return to PENDING.
var ValidDeliveryTransitions = map[string][]string{
	DeliveryStatusPending: {DeliveryStatusSent, DeliveryStatusFailed},
	DeliveryStatusSent:    {DeliveryStatusSent, DeliveryStatusFailed},
	DeliveryStatusFailed:  {DeliveryStatusFailed, DeliveryStatusSent},
}

func IsValidDeliveryTransition(from, to string) bool {
	return contains(ValidDeliveryTransitions[from], to)
}

func IsTerminalDeliveryStatus(s string) bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

// DeliveryRecord tracks one message for one (campaign, customer) pair.
type DeliveryRecord struct {
	ID                uuid.UUID  `json:"id"`
	CampaignID        uuid.UUID  `json:"campaign_id"`
	CustomerID        uuid.UUID  `json:"customer_id"`
	Message           string     `json:"message"`
	Status            string     `json:"status"`
	Vendor            *string    `json:"vendor,omitempty"`
	MessageID         *string    `json:"message_id,omitempty"`
	Cost              *float64   `json:"cost,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	WebhookReceivedAt *time.Time `json:"webhook_received_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// SendOutcome is the synchronous result of a vendor send, written onto a PENDING record.
type SendOutcome struct {
	Status        string
	Vendor        string
	MessageID     string
	Cost          float64
	SentAt        *time.Time
	FailureReason *string
}

// ReceiptUpdate is the vendor's asynchronous confirmation of a send.
type ReceiptUpdate struct {
	MessageID         string
	Status            string
	Vendor            string
	DeliveredAt       *time.Time
	FailureReason     *string
	Cost              *float64
	WebhookReceivedAt time.Time
}

// VendorBreakdown is one vendor's share of a delivery stats query.
type VendorBreakdown struct {
	Vendor  string  `json:"vendor"`
	Count   int     `json:"count"`
	AvgCost float64 `json:"avg_cost"`
}

type CostSummary struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// DeliveryStats is the read-side aggregate over delivery records.
type DeliveryStats struct {
	Total   int               `json:"total"`
	Status  map[string]int    `json:"status"`
	Vendors []VendorBreakdown `json:"vendors"`
	Costs   CostSummary       `json:"costs"`
}
