package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/adapter/ws"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
	"github.com/Strob0t/ForgeTrack/internal/port/broadcast"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
	"github.com/Strob0t/ForgeTrack/internal/port/messagequeue"
)

// WebhookDelivery is one authenticated webhook request.
type WebhookDelivery struct {
	Connection *connection.Connection
	Event      string // provider event header, may be empty
	DeliveryID string // provider delivery ID, may be empty
	Body       []byte
	ReceivedAt time.Time
}

// WebhookReporter is the last stop of every delivery: it logs the outcome,
// records webhook liveness on the connection and announces the delivery.
// Nothing it does can fail the delivery.
type WebhookReporter struct {
	store   database.Store
	queue   messagequeue.Queue    // optional
	hub     broadcast.Broadcaster // optional
	alerter *Alerter              // optional
	metrics *ftotel.Metrics
}

// NewWebhookReporter creates a WebhookReporter.
func NewWebhookReporter(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster) *WebhookReporter {
	return &WebhookReporter{store: store, queue: queue, hub: hub}
}

// SetMetrics enables OpenTelemetry counters.
func (r *WebhookReporter) SetMetrics(m *ftotel.Metrics) {
	r.metrics = m
}

// SetAlerter sends operator alerts for failed deliveries.
func (r *WebhookReporter) SetAlerter(a *Alerter) {
	r.alerter = a
}

// Report records the outcome of d.
func (r *WebhookReporter) Report(ctx context.Context, d *WebhookDelivery, o webhook.Outcome) {
	conn := d.Connection
	attrs := []any{
		"service", conn.Service,
		"connection_id", conn.ID,
		"project_id", conn.ProjectID,
		"delivery_id", d.DeliveryID,
		"outcome", o.Kind,
		"reason", o.Reason,
	}
	if o.IssueID != "" {
		attrs = append(attrs, "issue_id", o.IssueID)
	}
	switch o.Kind {
	case webhook.OutcomeFailed:
		slog.ErrorContext(ctx, "webhook processing failed", append(attrs, "error", o.ErrorText())...)
	case webhook.OutcomeSkipped:
		slog.DebugContext(ctx, "webhook skipped", attrs...)
	default:
		slog.InfoContext(ctx, "webhook processed", attrs...)
	}

	if r.metrics != nil {
		r.metrics.WebhooksReceived.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", string(conn.Service)),
			attribute.String("outcome", string(o.Kind)),
		))
		r.metrics.WebhookDuration.Record(ctx, time.Since(d.ReceivedAt).Seconds(),
			metric.WithAttributes(attribute.String("service", string(conn.Service))))
	}

	liveness := connection.Liveness{ReceivedAt: d.ReceivedAt}
	if o.Kind == webhook.OutcomeFailed {
		liveness.Error = o.Reason
		if text := o.ErrorText(); text != "" {
			liveness.Error = o.Reason + ": " + text
		}
	}
	if err := r.store.RecordWebhookLiveness(ctx, conn.ID, liveness); err != nil {
		slog.WarnContext(ctx, "record webhook liveness failed", "connection_id", conn.ID, "error", err)
	}

	r.publish(ctx, d, o)
	r.alerter.WebhookFailed(ctx, d, o)
}

// ReportDuplicate logs and counts a delivery that was already processed. The
// delivery still proves the webhook is alive.
func (r *WebhookReporter) ReportDuplicate(ctx context.Context, d *WebhookDelivery) {
	slog.InfoContext(ctx, "duplicate webhook delivery ignored",
		"service", d.Connection.Service, "connection_id", d.Connection.ID, "delivery_id", d.DeliveryID)
	if r.metrics != nil {
		r.metrics.WebhookDuplicates.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", string(d.Connection.Service)),
		))
	}
	if err := r.store.RecordWebhookLiveness(ctx, d.Connection.ID, connection.Liveness{ReceivedAt: d.ReceivedAt}); err != nil {
		slog.WarnContext(ctx, "record webhook liveness failed", "connection_id", d.Connection.ID, "error", err)
	}
}

func (r *WebhookReporter) publish(ctx context.Context, d *WebhookDelivery, o webhook.Outcome) {
	conn := d.Connection
	if r.queue != nil {
		payload := messagequeue.WebhookProcessedPayload{
			DeliveryID:   d.DeliveryID,
			ConnectionID: conn.ID,
			ProjectID:    conn.ProjectID,
			Service:      string(conn.Service),
			Outcome:      string(o.Kind),
			Reason:       o.Reason,
			IssueID:      o.IssueID,
			IssueKey:     o.IssueKey,
			ReceivedAt:   d.ReceivedAt,
		}
		if err := publishJSON(ctx, r.queue, messagequeue.SubjectWebhookProcessed, payload); err != nil {
			slog.WarnContext(ctx, "publish webhook event failed", "connection_id", conn.ID, "error", err)
		}
	}
	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, ws.EventWebhookProcessed, ws.WebhookProcessedEvent{
			ConnectionID: conn.ID,
			ProjectID:    conn.ProjectID,
			Service:      string(conn.Service),
			Outcome:      string(o.Kind),
			Reason:       o.Reason,
			IssueKey:     o.IssueKey,
		})
	}
}

func publishJSON(ctx context.Context, q messagequeue.Queue, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return q.Publish(ctx, subject, data)
}
