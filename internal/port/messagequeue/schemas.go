package messagequeue

import "time"

// WebhookProcessedPayload is the schema for webhooks.processed messages.
type WebhookProcessedPayload struct {
	DeliveryID   string    `json:"delivery_id"`
	ConnectionID string    `json:"connection_id"`
	ProjectID    string    `json:"project_id"`
	Service      string    `json:"service"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	IssueID      string    `json:"issue_id,omitempty"`
	IssueKey     string    `json:"issue_key,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// SyncProgressPayload is the schema for sync.progress messages.
type SyncProgressPayload struct {
	OperationID string `json:"operation_id"`
	ProjectID   string `json:"project_id"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
}

// SyncCancelPayload is the schema for sync.cancel messages.
type SyncCancelPayload struct {
	OperationID string `json:"operation_id"`
}
