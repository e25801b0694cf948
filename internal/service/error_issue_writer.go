package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
)

const maxTitleLen = 500

// ErrorIssueWriter files new Bug issues for errors and appends occurrences
// to existing ones.
type ErrorIssueWriter struct {
	store database.Store
}

// NewErrorIssueWriter creates an ErrorIssueWriter.
func NewErrorIssueWriter(store database.Store) *ErrorIssueWriter {
	return &ErrorIssueWriter{store: store}
}

// Create files a Bug in the Backlog for tr. The reporter is the system actor;
// when the project has no users at all the reporter stays empty.
func (w *ErrorIssueWriter) Create(ctx context.Context, projectID string, tr *errortrace.ErrorTrace) (*issue.Issue, error) {
	reporterID := ""
	actor, err := w.store.SystemActor(ctx)
	switch {
	case err == nil:
		reporterID = actor.ID
	case errors.Is(err, domain.ErrNotFound):
		slog.WarnContext(ctx, "no user to act as error reporter", "project_id", projectID)
	default:
		return nil, fmt.Errorf("system actor: %w", err)
	}

	fields := issue.CustomFields{
		issue.FieldSource:      string(tr.Service),
		issue.FieldServiceName: string(tr.Service),
	}
	if tr.URL != "" {
		fields[issue.FieldExternalURL] = tr.URL
	}
	fields.AppendOccurrence(issue.Occurrence(tr))

	is := &issue.Issue{
		ProjectID:    projectID,
		Title:        errorTitle(tr.Message),
		Description:  RenderErrorDescription(tr),
		Type:         issue.TypeBug,
		Status:       issue.StatusBacklog,
		Priority:     issue.PriorityFromSeverity(tr.Severity),
		ReporterID:   reporterID,
		CustomFields: fields,
	}
	if err := is.Validate(); err != nil {
		return nil, err
	}
	if err := w.store.CreateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("create error issue: %w", err)
	}
	return is, nil
}

// AppendOccurrence records tr on an existing issue. A version conflict is
// retried once against a fresh copy of the issue.
func (w *ErrorIssueWriter) AppendOccurrence(ctx context.Context, is *issue.Issue, tr *errortrace.ErrorTrace) (*issue.Issue, error) {
	occ := issue.Occurrence(tr)
	for attempt := 0; ; attempt++ {
		updated := *is
		updated.CustomFields = is.CustomFields.Clone()
		updated.CustomFields.AppendOccurrence(occ)

		err := w.store.UpdateIssue(ctx, &updated)
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt > 0 {
			return nil, fmt.Errorf("append occurrence to %s: %w", is.Key, err)
		}
		fresh, gerr := w.store.GetIssueByKey(ctx, is.ProjectID, is.Key)
		if gerr != nil {
			return nil, fmt.Errorf("reload issue %s: %w", is.Key, gerr)
		}
		is = fresh
	}
}

// errorTitle is the trimmed message, cut to fit the title column. Message
// grouping compares against it, so it keeps every line.
func errorTitle(msg string) string {
	title := strings.TrimSpace(msg)
	if title == "" {
		return "Unknown error"
	}
	if len(title) > maxTitleLen {
		cut := maxTitleLen - 3
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut] + "..."
	}
	return title
}

// RenderErrorDescription builds the Markdown body of an error issue.
func RenderErrorDescription(tr *errortrace.ErrorTrace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Error reported by %s\n\n", tr.Service)
	b.WriteString("**Message:**\n\n```\n")
	b.WriteString(tr.Message)
	b.WriteString("\n```\n\n")

	fmt.Fprintf(&b, "- **Severity:** %s\n", tr.Severity)
	fmt.Fprintf(&b, "- **First seen:** %s\n", tr.Timestamp.UTC().Format(time.RFC3339))
	if tr.Environment != "" {
		fmt.Fprintf(&b, "- **Environment:** %s\n", tr.Environment)
	}
	if tr.Release != "" {
		fmt.Fprintf(&b, "- **Release:** %s\n", tr.Release)
	}
	if tr.URL != "" {
		fmt.Fprintf(&b, "- **Details:** %s\n", tr.URL)
	}

	if len(tr.Tags) > 0 {
		b.WriteString("\n### Tags\n\n")
		keys := make([]string, 0, len(tr.Tags))
		for k := range tr.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- `%s`: %s\n", k, tr.Tags[k])
		}
	}

	if tr.StackTrace != "" {
		b.WriteString("\n### Stack trace\n\n```\n")
		b.WriteString(tr.StackTrace)
		b.WriteString("\n```\n")
	}

	if len(tr.Context) > 0 {
		if data, err := json.MarshalIndent(tr.Context, "", "  "); err == nil {
			b.WriteString("\n### Context\n\n```json\n")
			b.Write(data)
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}
