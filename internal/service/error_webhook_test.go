package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
)

func sentryBody(eventID, title string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": "triggered",
		"data": {"event": {
			"event_id": %q,
			"level": "error",
			"title": %q,
			"environment": "production",
			"tags": [["browser", "Firefox"]],
			"web_url": "https://sentry.example/issues/9"
		}}
	}`, eventID, title))
}

func newErrorService(store *mockStore) *ErrorWebhookService {
	svc := NewErrorWebhookService(NewErrorDeduplicator(store), NewErrorIssueWriter(store))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func sentryDelivery(body []byte) *WebhookDelivery {
	return &WebhookDelivery{
		Connection: &connection.Connection{ID: "conn-s", ProjectID: "proj-1", Service: connection.ServiceSentry},
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

func TestErrorWebhookSameTraceTwiceGroups(t *testing.T) {
	store := newMockStore()
	_, _ = store.CreateUser(context.Background(), user.CreateRequest{Email: "a@b.c", Name: "Admin", Role: user.RoleAdmin})
	svc := newErrorService(store)
	body := sentryBody("evt-1", "TypeError: cannot read properties of undefined (reading 'id')")

	first := svc.Handle(context.Background(), sentryDelivery(body))
	if first.Kind != webhook.OutcomeSuccess || first.Reason != "issue created" {
		t.Fatalf("first delivery: %+v", first)
	}
	second := svc.Handle(context.Background(), sentryDelivery(body))
	if second.Kind != webhook.OutcomeSuccess || second.Reason != "occurrence recorded" {
		t.Fatalf("second delivery: %+v", second)
	}
	if second.IssueID != first.IssueID {
		t.Fatalf("expected same issue, got %s and %s", first.IssueID, second.IssueID)
	}
	if n := store.issueCount(); n != 1 {
		t.Fatalf("expected exactly one issue, got %d", n)
	}

	is, err := store.GetIssueByKey(context.Background(), "proj-1", first.IssueKey)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if got := is.CustomFields.OccurrenceCount(); got != 2 {
		t.Fatalf("expected occurrenceCount 2, got %d", got)
	}
	if got := len(is.CustomFields.ErrorTraces()); got != 2 {
		t.Fatalf("expected 2 errorTraces, got %d", got)
	}
	if is.Type != issue.TypeBug || is.Status != issue.StatusBacklog || is.Priority != issue.PriorityHigh {
		t.Fatalf("unexpected issue classification: %s %s %s", is.Type, is.Status, is.Priority)
	}
	if is.ReporterID != "user-1" {
		t.Fatalf("expected system actor as reporter, got %q", is.ReporterID)
	}
	if is.CustomFields.String(issue.FieldSource) != "sentry" {
		t.Fatalf("expected source sentry, got %v", is.CustomFields[issue.FieldSource])
	}
}

func TestErrorWebhookGroupsByMessagePrefix(t *testing.T) {
	store := newMockStore()
	svc := newErrorService(store)
	msg := "DatabaseError: connection pool exhausted while serving request"

	first := svc.Handle(context.Background(), sentryDelivery(sentryBody("evt-a", msg+" /checkout")))
	second := svc.Handle(context.Background(), sentryDelivery(sentryBody("evt-b", msg+" /cart")))
	if first.IssueID == "" || first.IssueID != second.IssueID {
		t.Fatalf("expected prefix grouping, got %+v and %+v", first, second)
	}
	if n := store.issueCount(); n != 1 {
		t.Fatalf("expected one issue, got %d", n)
	}
}

func TestErrorWebhookGroupsMultilineMessage(t *testing.T) {
	store := newMockStore()
	svc := newErrorService(store)
	msg := "DB timeout\nSELECT * FROM orders WHERE customer_id = $1 LIMIT 50"

	first := svc.Handle(context.Background(), sentryDelivery(sentryBody("evt-a", msg)))
	second := svc.Handle(context.Background(), sentryDelivery(sentryBody("evt-b", msg)))
	if first.IssueID == "" || first.IssueID != second.IssueID {
		t.Fatalf("expected one issue for a repeated multi-line message, got %+v and %+v", first, second)
	}
	if n := store.issueCount(); n != 1 {
		t.Fatalf("expected one issue, got %d", n)
	}
	is, err := store.GetIssueByKey(context.Background(), "proj-1", first.IssueKey)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if is.Title != msg {
		t.Fatalf("expected title to be the full message, got %q", is.Title)
	}
}

func TestErrorWebhookUnrecognizedPayloadSkipped(t *testing.T) {
	store := newMockStore()
	o := newErrorService(store).Handle(context.Background(), sentryDelivery([]byte(`{"hello": "world"}`)))
	if o.Kind != webhook.OutcomeSkipped {
		t.Fatalf("expected skipped, got %+v", o)
	}
	if store.issueCount() != 0 {
		t.Fatal("expected no issues")
	}
}

func TestErrorWebhookStoreFailureIsOutcome(t *testing.T) {
	store := newMockStore()
	store.listIssuesErr = errors.New("connection refused")
	o := newErrorService(store).Handle(context.Background(), sentryDelivery(sentryBody("evt-1", "boom")))
	if o.Kind != webhook.OutcomeFailed {
		t.Fatalf("expected failed, got %+v", o)
	}
	if o.Err == nil {
		t.Fatal("expected the cause on the outcome")
	}
}

func TestErrorWriterAppendRetriesConflictOnce(t *testing.T) {
	store := newMockStore()
	w := NewErrorIssueWriter(store)
	tr := &errortrace.ErrorTrace{Service: connection.ServiceSentry, Message: "boom", Severity: errortrace.SeverityMedium, Fingerprint: "fp"}
	is, err := w.Create(context.Background(), "proj-1", tr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.conflictsLeft = 1
	updated, err := w.AppendOccurrence(context.Background(), is, tr)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if updated.CustomFields.OccurrenceCount() != 2 {
		t.Fatalf("expected 2 occurrences, got %d", updated.CustomFields.OccurrenceCount())
	}

	store.conflictsLeft = 2
	if _, err := w.AppendOccurrence(context.Background(), updated, tr); err == nil {
		t.Fatal("expected error after a second conflict")
	}
}

func TestMessagePrefixMatch(t *testing.T) {
	long := "NullPointerException in OrderService.process at line 42"
	tests := []struct {
		name    string
		message string
		title   string
		service string
		want    bool
	}{
		{"same prefix", long + " (retry 1)", long + " (retry 7)", "sentry", true},
		{"case insensitive", strings.ToUpper(long), long, "sentry", true},
		{"different prefix", "Timeout talking to payments gateway after 30s", long, "sentry", false},
		{"short title never matches", "short error", "short error", "sentry", false},
		{"title of exactly 20 runes", "abcdefghijklmnopqrst", "abcdefghijklmnopqrst", "sentry", false},
		{"other monitoring service", long, long, "datadog", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &errortrace.ErrorTrace{Service: connection.ServiceSentry, Message: tt.message}
			cand := &issue.Issue{Title: tt.title, CustomFields: issue.CustomFields{issue.FieldServiceName: tt.service}}
			if got := MessagePrefixMatch(tr, cand); got != tt.want {
				t.Fatalf("MessagePrefixMatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindGroupPrefersFingerprintOverEarlierPrefixHit(t *testing.T) {
	store := newMockStore()
	title := "ValueError: invalid literal for int() with base 10"
	store.addIssue(issue.Issue{ProjectID: "proj-1", Type: issue.TypeBug, Title: title,
		CustomFields: issue.CustomFields{issue.FieldServiceName: "sentry"}})
	fpFields := issue.CustomFields{}
	fpFields.AppendOccurrence(map[string]any{"fingerprint": "fp-9"})
	want := store.addIssue(issue.Issue{ProjectID: "proj-1", Type: issue.TypeBug, Title: "unrelated", CustomFields: fpFields})

	tr := &errortrace.ErrorTrace{Service: connection.ServiceSentry, Message: title, Fingerprint: "fp-9"}
	got, err := NewErrorDeduplicator(store).FindGroup(context.Background(), "proj-1", tr)
	if err != nil {
		t.Fatalf("find group: %v", err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("expected fingerprint match %s, got %+v", want.ID, got)
	}
}

func TestErrorTitle(t *testing.T) {
	if got := errorTitle("  \n"); got != "Unknown error" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := errorTitle(" first line\nsecond line\n"); got != "first line\nsecond line" {
		t.Fatalf("expected whole trimmed message, got %q", got)
	}
	long := strings.Repeat("é", 400)
	got := errorTitle(long)
	if len(got) > maxTitleLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated title within %d bytes, got %d", maxTitleLen, len(got))
	}
}

func TestRenderErrorDescription(t *testing.T) {
	tr := &errortrace.ErrorTrace{
		Service:     connection.ServiceSentry,
		Message:     "boom",
		Severity:    errortrace.SeverityCritical,
		Environment: "staging",
		StackTrace:  "at main (app.js:1:2)",
		Tags:        map[string]string{"b": "2", "a": "1"},
		URL:         "https://sentry.example/issues/1",
	}
	out := RenderErrorDescription(tr)
	for _, want := range []string{"## Error reported by sentry", "boom", "staging", "at main (app.js:1:2)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("description missing %q:\n%s", want, out)
		}
	}
	a, b := strings.Index(out, "- `a`: 1"), strings.Index(out, "- `b`: 2")
	if a < 0 || b < 0 || a > b {
		t.Fatalf("expected sorted tags:\n%s", out)
	}
}
