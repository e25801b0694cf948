// Package broadcast defines how sync progress and webhook events reach
// WebSocket clients.
package broadcast

import "context"

// Broadcaster pushes an event to connected clients. Payloads that carry a
// project ID reach only the clients watching that project. Delivery is best
// effort.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
