package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgetrack"

// StartWebhookSpan starts a span for handling one authenticated delivery.
func StartWebhookSpan(ctx context.Context, service, connectionID, deliveryID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook",
		trace.WithAttributes(
			attribute.String("webhook.service", service),
			attribute.String("connection.id", connectionID),
			attribute.String("webhook.delivery_id", deliveryID),
		),
	)
}

// StartSyncSpan starts a span for a sync job.
func StartSyncSpan(ctx context.Context, operationID, projectID, syncType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync",
		trace.WithAttributes(
			attribute.String("sync.operation_id", operationID),
			attribute.String("project.id", projectID),
			attribute.String("sync.type", syncType),
		),
	)
}

// StartSyncStageSpan starts a span for one stage of a sync job.
func StartSyncStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync."+stage,
		trace.WithAttributes(attribute.String("sync.stage", stage)),
	)
}
