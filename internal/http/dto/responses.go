package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AcceptedResponse struct {
	OK      bool   `json:"ok"`
	Channel string `json:"channel"`
	BatchID string `json:"batch_id,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type AudiencePreviewResponse struct {
	AudienceSize int `json:"audience_size"`
}

type QueueResponse struct {
	Pending  int64 `json:"pending"`
	Replayed int   `json:"replayed,omitempty"`
}

type VendorTestResponse struct {
	Vendor    string `json:"vendor"`
	Connected bool   `json:"connected"`
}
