package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
	"github.com/Strob0t/ForgeTrack/internal/port/cache"
)

// WebhookService routes authenticated deliveries to the Git or monitoring
// handler and reports every outcome. Process never returns an error: the
// provider always gets a success response once the signature verified.
type WebhookService struct {
	vcs         *VCSWebhookService
	errors      *ErrorWebhookService
	reporter    *WebhookReporter
	deliveries  cache.Cache // optional, remembers delivery IDs
	deliveryTTL time.Duration
}

// NewWebhookService creates a WebhookService. Deliveries are deduplicated by
// provider delivery ID for deliveryTTL when deliveries is non-nil.
func NewWebhookService(vcs *VCSWebhookService, errs *ErrorWebhookService, reporter *WebhookReporter, deliveries cache.Cache, deliveryTTL time.Duration) *WebhookService {
	return &WebhookService{
		vcs:         vcs,
		errors:      errs,
		reporter:    reporter,
		deliveries:  deliveries,
		deliveryTTL: deliveryTTL,
	}
}

// Process handles one delivery end to end.
func (s *WebhookService) Process(ctx context.Context, d *WebhookDelivery) webhook.Outcome {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now()
	}
	conn := d.Connection
	ctx, span := ftotel.StartWebhookSpan(ctx, string(conn.Service), conn.ID, d.DeliveryID)
	defer span.End()

	if s.isDuplicate(ctx, d) {
		s.reporter.ReportDuplicate(ctx, d)
		span.SetAttributes(attribute.Bool("webhook.duplicate", true))
		return webhook.Skipped("duplicate delivery")
	}

	var o webhook.Outcome
	switch {
	case conn.Service.IsGit():
		o = s.vcs.Handle(ctx, d)
	case conn.Service.IsMonitoring():
		o = s.errors.Handle(ctx, d)
	default:
		o = webhook.Skipped("unsupported service")
	}

	span.SetAttributes(attribute.String("webhook.outcome", string(o.Kind)))
	if o.Kind == webhook.OutcomeFailed {
		span.SetStatus(codes.Error, o.Reason)
	}
	s.reporter.Report(ctx, d, o)
	return o
}

// isDuplicate claims the delivery ID. Cache failures let the delivery
// through: a repeat is preferable to a lost event.
func (s *WebhookService) isDuplicate(ctx context.Context, d *WebhookDelivery) bool {
	if s.deliveries == nil || d.DeliveryID == "" {
		return false
	}
	key := cache.Key("delivery", d.Connection.ID, d.DeliveryID)
	won, err := s.deliveries.Claim(ctx, key, []byte(d.ReceivedAt.UTC().Format(time.RFC3339)), s.deliveryTTL)
	if err != nil {
		slog.WarnContext(ctx, "delivery dedup unavailable", "connection_id", d.Connection.ID, "error", err)
		return false
	}
	return !won
}
