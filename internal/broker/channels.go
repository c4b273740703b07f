package broker

// Pub/sub channels
const (
	ChannelCustomerIngestion     = "customer:ingestion"
	ChannelCustomerBulkIngestion = "customer:bulk:ingestion"
	ChannelOrderIngestion        = "order:ingestion"
	ChannelOrderBulkIngestion    = "order:bulk:ingestion"
	ChannelCampaignDelivery      = "campaign:delivery"
	ChannelDeliveryReceipt       = "delivery:receipt"
	ChannelAnalyticsUpdate       = "analytics:update"
	ChannelErrorHandling         = "error:handling"
	ChannelAnalytics             = "analytics"
)

// Key prefixes
const (
	KeyRateLimitPrefix = "rl:"
	KeyCampaignQueue   = "campaign:queue"
	KeyErrorsPrefix    = "errors:"
	KeyAnalyticsPrefix = "analytics:"
)
