package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgetrack"

// Metrics holds all ForgeTrack metric instruments.
type Metrics struct {
	WebhooksReceived  metric.Int64Counter
	WebhookRejected   metric.Int64Counter
	WebhookDuplicates metric.Int64Counter
	WebhookDuration   metric.Float64Histogram
	ErrorOccurrences  metric.Int64Counter
	SyncsStarted      metric.Int64Counter
	SyncsFinished     metric.Int64Counter
	SyncDuration      metric.Float64Histogram
	SyncIssues        metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WebhooksReceived, err = meter.Int64Counter("forgetrack.webhooks.received",
		metric.WithDescription("Authenticated webhook deliveries by service and outcome"))
	if err != nil {
		return nil, err
	}

	m.WebhookRejected, err = meter.Int64Counter("forgetrack.webhooks.rejected",
		metric.WithDescription("Webhook deliveries rejected by signature verification"))
	if err != nil {
		return nil, err
	}

	m.WebhookDuplicates, err = meter.Int64Counter("forgetrack.webhooks.duplicates",
		metric.WithDescription("Webhook deliveries skipped as already processed"))
	if err != nil {
		return nil, err
	}

	m.WebhookDuration, err = meter.Float64Histogram("forgetrack.webhook.duration_seconds",
		metric.WithDescription("Webhook handling duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ErrorOccurrences, err = meter.Int64Counter("forgetrack.errors.occurrences",
		metric.WithDescription("Monitoring error occurrences by grouping decision"))
	if err != nil {
		return nil, err
	}

	m.SyncsStarted, err = meter.Int64Counter("forgetrack.syncs.started",
		metric.WithDescription("Number of sync operations started"))
	if err != nil {
		return nil, err
	}

	m.SyncsFinished, err = meter.Int64Counter("forgetrack.syncs.finished",
		metric.WithDescription("Number of sync operations finished by status"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("forgetrack.sync.duration_seconds",
		metric.WithDescription("Sync job duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SyncIssues, err = meter.Int64Counter("forgetrack.sync.issues",
		metric.WithDescription("Issues touched by sync jobs by result"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
