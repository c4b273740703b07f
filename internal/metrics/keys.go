package metrics

// Counter keys, stored under the "metrics:" prefix.
const (
	CampaignsProcessed      = "campaigns:processed"
	CampaignsProcessingTime = "campaigns:processing:time"
	CampaignsErrors         = "campaigns:errors"
	CampaignsDelivered      = "campaigns:delivered:total"
	CampaignsCompleted      = "campaigns:completed:total"
	CampaignsFailed         = "campaigns:failed:total"
	CampaignsCreated        = "api:campaigns:created"
	CampaignsCostTotal      = "campaigns:costs:total"
	DeliveryProcessingTime  = "campaigns:delivery:time"

	MessagesSent   = "campaigns:messages:sent"
	MessagesFailed = "campaigns:messages:failed"

	ReceiptsProcessed      = "receipts:processed"
	ReceiptsProcessingTime = "receipts:processing:time"
	ReceiptsErrors         = "receipts:errors"
	ReceiptsSent           = "delivery:receipts:sent"
	ReceiptsFailed         = "delivery:receipts:failed"
	DeliveryCostTotal      = "delivery:costs:total"
	DeliveryFailurePrefix  = "delivery:failures:"

	CustomersProcessed     = "customers:processed"
	CustomersErrors        = "customers:errors"
	CustomersBulkProcessed = "customers:bulk:processed"
	CustomersBulkErrors    = "customers:bulk:errors"
	OrdersProcessed        = "orders:processed"
	OrdersErrors           = "orders:errors"
	OrdersBulkProcessed    = "orders:bulk:processed"
	OrdersBulkErrors       = "orders:bulk:errors"
	RevenueTotal           = "revenue:total"
	RevenueBulk            = "revenue:bulk"

	IngestionProcessed      = "data_ingestion:processed"
	IngestionProcessingTime = "data_ingestion:processing:time"
	IngestionErrors         = "data_ingestion:errors"

	AnalyticsProcessed      = "analytics:updates:processed"
	AnalyticsProcessingTime = "analytics:updates:processing:time"
	AnalyticsErrors         = "analytics:updates:errors"
	CampaignsCompletedFeed  = "campaigns:completed"
	CustomersActive         = "customers:active"
	DailyPrefix             = "daily:"

	ErrorsTotal  = "errors:total"
	ErrorsPrefix = "errors:"
)

const keyPrefix = "metrics:"

// Key returns the full redis key of a counter.
func Key(name string) string {
	return keyPrefix + name
}
