package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventSyncProgress     = "sync.progress"
	EventWebhookProcessed = "webhook.processed"
)

// projectScoped is implemented by payloads that belong to one project.
type projectScoped interface {
	EventProjectID() string
}

// BroadcastEvent marshals a typed event and sends it to the clients of the
// payload's project, or to everyone for payloads without one.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	projectID := ""
	if p, ok := payload.(projectScoped); ok {
		projectID = p.EventProjectID()
	}
	h.BroadcastToProject(ctx, projectID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// SyncProgressEvent is broadcast after every persisted sync progress write.
type SyncProgressEvent struct {
	OperationID string `json:"operationId"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
	Error       string `json:"error,omitempty"`
}

// EventProjectID scopes the event to its project.
func (e SyncProgressEvent) EventProjectID() string { return e.ProjectID }

// WebhookProcessedEvent is broadcast once per authenticated delivery.
type WebhookProcessedEvent struct {
	ConnectionID string `json:"connection_id"`
	ProjectID    string `json:"project_id"`
	Service      string `json:"service"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	IssueKey     string `json:"issue_key,omitempty"`
}

// EventProjectID scopes the event to its project.
func (e WebhookProcessedEvent) EventProjectID() string { return e.ProjectID }
