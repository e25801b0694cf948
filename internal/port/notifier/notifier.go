// Package notifier defines the port for operator alerts about webhook
// deliveries and syncs that failed.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of an alert.
type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Alert sources.
const (
	SourceWebhookFailed = "webhook.failed"
	SourceSyncFailed    = "sync.failed"
)

// Field is one labelled value shown with an alert.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Alert is the payload sent through a Notifier.
type Alert struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   Level   `json:"level"`
	Source  string  `json:"source"`
	Fields  []Field `json:"fields,omitempty"`
}

// Notifier delivers alerts to one chat or paging destination.
type Notifier interface {
	// Name returns the registered provider name, e.g. "slack".
	Name() string

	Send(ctx context.Context, alert Alert) error
}
