package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
)

// ErrorWebhookService turns monitoring alerts into Bug issues, grouping
// repeat occurrences onto the issue that already tracks them.
type ErrorWebhookService struct {
	dedup   *ErrorDeduplicator
	writer  *ErrorIssueWriter
	metrics *ftotel.Metrics
	now     func() time.Time
}

// NewErrorWebhookService creates an ErrorWebhookService.
func NewErrorWebhookService(dedup *ErrorDeduplicator, writer *ErrorIssueWriter) *ErrorWebhookService {
	return &ErrorWebhookService{dedup: dedup, writer: writer, now: time.Now}
}

// SetMetrics enables the occurrence counter.
func (s *ErrorWebhookService) SetMetrics(m *ftotel.Metrics) {
	s.metrics = m
}

// Handle parses the alert and files or amends an issue.
func (s *ErrorWebhookService) Handle(ctx context.Context, d *WebhookDelivery) webhook.Outcome {
	conn := d.Connection
	tr, err := errortrace.Parse(conn.Service, d.Body, s.now())
	if errors.Is(err, errortrace.ErrUnrecognizedShape) {
		return webhook.Skipped("unrecognized payload")
	}
	if err != nil {
		return webhook.Failed("parse payload", err)
	}

	existing, err := s.dedup.FindGroup(ctx, conn.ProjectID, tr)
	if err != nil {
		return webhook.Failed("group error", err)
	}

	if existing != nil {
		updated, err := s.writer.AppendOccurrence(ctx, existing, tr)
		if err != nil {
			return webhook.Failed("append occurrence", err).WithIssue(existing.ID, existing.Key)
		}
		s.count(ctx, tr, "grouped")
		return webhook.Success("occurrence recorded").WithIssue(updated.ID, updated.Key)
	}

	created, err := s.writer.Create(ctx, conn.ProjectID, tr)
	if err != nil {
		return webhook.Failed("create issue", err)
	}
	s.count(ctx, tr, "created")
	return webhook.Success("issue created").WithIssue(created.ID, created.Key)
}

func (s *ErrorWebhookService) count(ctx context.Context, tr *errortrace.ErrorTrace, decision string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ErrorOccurrences.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", string(tr.Service)),
		attribute.String("severity", string(tr.Severity)),
		attribute.String("decision", decision),
	))
}
