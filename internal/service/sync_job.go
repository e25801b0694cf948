package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
)

// progressEvery is how many processed items go by between persisted
// progress writes within a stage.
const progressEvery = 10

// finalWriteTimeout bounds the terminal write of a job whose context ended.
const finalWriteTimeout = 5 * time.Second

// errJobStopped reports that the operation went terminal underneath the job,
// usually because a user cancelled it.
var errJobStopped = errors.New("sync operation is no longer running")

// syncJob is one running sync. op is guarded by mu; while persisted is
// false the operation exists only in memory and Start is still waiting.
type syncJob struct {
	svc      *SyncService
	id       string
	req      syncop.Request
	conn     *connection.Connection
	provider repoprovider.Provider
	cancel   context.CancelFunc

	mu        sync.Mutex
	op        *syncop.Operation
	persisted bool
	finished  bool
}

// plannedUpdate pairs a local issue with its remote counterpart.
type plannedUpdate struct {
	local  *issue.Issue
	remote repoprovider.Item
}

func (j *syncJob) run(ctx context.Context) {
	start := time.Now()
	ctx, span := ftotel.StartSyncSpan(ctx, j.id, j.conn.ProjectID, string(j.req.SyncType))
	defer span.End()

	err := j.execute(ctx)
	if err != nil && !errors.Is(err, errJobStopped) {
		span.SetStatus(codes.Error, err.Error())
	}
	j.finish(ctx, err)

	if m := j.svc.metrics; m != nil {
		m.SyncDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("sync.type", string(j.req.SyncType)),
		))
	}
}

// abandon finishes a job that never got a worker.
func (j *syncJob) abandon(err error) {
	j.finish(context.Background(), fmt.Errorf("waiting for a sync worker: %w", err))
}

func (j *syncJob) execute(ctx context.Context) error {
	s := j.svc
	if err := j.update(ctx, true, func(op *syncop.Operation) {
		_ = op.TransitionTo(syncop.StatusInProgress, s.now())
		op.Progress = syncop.Progress{Stage: syncop.StageFetching}
	}); err != nil {
		return err
	}

	items, advisories, err := j.fetch(ctx)
	if err != nil {
		return err
	}
	if err := j.update(ctx, false, func(op *syncop.Operation) {
		op.Results.SecurityAdvisories = advisories
	}); err != nil {
		return err
	}

	w, err := s.automation.Workflow(ctx, j.conn.ProjectID)
	if err != nil {
		return err
	}
	existing, err := s.store.ListIssues(ctx, j.conn.ProjectID, issue.Filter{})
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}

	creates, updates, err := j.match(ctx, items, existing, w)
	if err != nil {
		return err
	}
	if err := j.create(ctx, creates, w); err != nil {
		return err
	}
	return j.applyUpdates(ctx, updates, w)
}

// fetch loads remote issues and security alerts concurrently. advisories
// is nil when alerts were not requested or the provider has none.
func (j *syncJob) fetch(ctx context.Context) ([]repoprovider.Item, *int, error) {
	ctx, span := ftotel.StartSyncStageSpan(ctx, string(syncop.StageFetching))
	defer span.End()

	s := j.svc
	syncType := j.req.SyncType
	opts := repoprovider.ListOptions{IncludeClosed: j.req.IncludeClosed, PageSize: s.cfg.PageSize}
	breaker := s.breakers.For(j.provider.Name())
	ref := j.conn.ExternalRef

	var issues, alerts []repoprovider.Item
	alertsFetched := false

	g, gctx := errgroup.WithContext(ctx)
	if syncType != syncop.TypeSecurityOnly {
		g.Go(func() error {
			err := breaker.Execute(func() error {
				var err error
				issues, err = j.provider.ListIssues(gctx, ref, opts)
				return err
			})
			if err != nil {
				return fmt.Errorf("list issues of %s: %w", ref, err)
			}
			return j.update(gctx, true, func(op *syncop.Operation) { op.Progress.Processed += len(issues) })
		})
	}
	if syncType != syncop.TypeIssuesOnly && j.provider.Capabilities().SecurityAlerts {
		g.Go(func() error {
			err := breaker.Execute(func() error {
				var err error
				alerts, err = j.provider.ListSecurityAlerts(gctx, ref, opts)
				if errors.Is(err, repoprovider.ErrNotSupported) {
					return nil
				}
				alertsFetched = err == nil
				return err
			})
			if err != nil {
				return fmt.Errorf("list security alerts of %s: %w", ref, err)
			}
			return j.update(gctx, true, func(op *syncop.Operation) { op.Progress.Processed += len(alerts) })
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil || errors.Is(err, errJobStopped) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	var advisories *int
	if alertsFetched {
		n := len(alerts)
		advisories = &n
	}
	return append(issues, alerts...), advisories, nil
}

// match splits remote items into issues to create and issues to update by
// externalId. Items that already match their local issue are skipped.
func (j *syncJob) match(ctx context.Context, items []repoprovider.Item, existing []issue.Issue, w *workflow.Workflow) ([]repoprovider.Item, []plannedUpdate, error) {
	ctx, span := ftotel.StartSyncStageSpan(ctx, string(syncop.StageMatching))
	defer span.End()

	if err := j.stage(ctx, syncop.StageMatching, len(items)); err != nil {
		return nil, nil, err
	}

	byExternalID := make(map[string]*issue.Issue, len(existing))
	for i := range existing {
		if id := existing[i].CustomFields.ExternalID(); id != "" {
			byExternalID[id] = &existing[i]
		}
	}

	var creates []repoprovider.Item
	var updates []plannedUpdate
	for _, item := range items {
		local, found := byExternalID[item.ExternalID]
		skipped := 0
		switch {
		case !found:
			creates = append(creates, item)
		case needsUpdate(local, item, w):
			updates = append(updates, plannedUpdate{local: local, remote: item})
		default:
			skipped = 1
		}
		if err := j.advance(ctx, func(r *syncop.Results) { r.Skipped += skipped }); err != nil {
			return nil, nil, err
		}
	}
	return creates, updates, nil
}

func (j *syncJob) create(ctx context.Context, items []repoprovider.Item, w *workflow.Workflow) error {
	ctx, span := ftotel.StartSyncStageSpan(ctx, string(syncop.StageCreating))
	defer span.End()

	if err := j.stage(ctx, syncop.StageCreating, len(items)); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	s := j.svc
	reporterID := ""
	if actor, err := s.store.SystemActor(ctx); err == nil {
		reporterID = actor.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("system actor: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		is := j.newIssue(item, w, reporterID)
		err := is.Validate()
		if err == nil {
			err = s.store.CreateIssue(ctx, is)
		}
		if err != nil {
			slog.WarnContext(ctx, "sync could not create issue",
				"operation_id", j.id, "project_id", j.conn.ProjectID, "external_id", item.ExternalID, "error", err)
		}
		failed := err != nil
		j.countIssue(ctx, "created", failed)
		if err := j.advance(ctx, func(r *syncop.Results) {
			if failed {
				r.Failed++
			} else {
				r.Created++
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (j *syncJob) applyUpdates(ctx context.Context, updates []plannedUpdate, w *workflow.Workflow) error {
	ctx, span := ftotel.StartSyncStageSpan(ctx, string(syncop.StageUpdating))
	defer span.End()

	if err := j.stage(ctx, syncop.StageUpdating, len(updates)); err != nil {
		return err
	}
	s := j.svc
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		updated := *u.local
		applyRemote(&updated, u.remote, w)
		err := s.store.UpdateIssue(ctx, &updated)
		if err != nil {
			slog.WarnContext(ctx, "sync could not update issue",
				"operation_id", j.id, "issue_id", u.local.ID, "external_id", u.remote.ExternalID, "error", err)
		}
		failed := err != nil
		j.countIssue(ctx, "updated", failed)
		if err := j.advance(ctx, func(r *syncop.Results) {
			if failed {
				r.Failed++
			} else {
				r.Updated++
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (j *syncJob) newIssue(item repoprovider.Item, w *workflow.Workflow, reporterID string) *issue.Issue {
	is := &issue.Issue{
		ProjectID:   j.conn.ProjectID,
		Title:       errorTitle(item.Title),
		Description: item.Description,
		Type:        itemType(item),
		Status:      statusFor(w, item.Closed),
		Priority:    itemPriority(item),
		ReporterID:  reporterID,
		CustomFields: issue.CustomFields{
			issue.FieldExternalID: item.ExternalID,
			issue.FieldSource:     string(j.conn.Service),
		},
	}
	if item.URL != "" {
		is.CustomFields[issue.FieldExternalURL] = item.URL
	}
	return is
}

// needsUpdate reports whether the remote item changed title, description or
// open/closed state since the local issue was written.
func needsUpdate(local *issue.Issue, item repoprovider.Item, w *workflow.Workflow) bool {
	if local.Title != errorTitle(item.Title) || local.Description != item.Description {
		return true
	}
	return isClosed(w, local.Status) != item.Closed
}

func applyRemote(is *issue.Issue, item repoprovider.Item, w *workflow.Workflow) {
	is.Title = errorTitle(item.Title)
	is.Description = item.Description
	if isClosed(w, is.Status) != item.Closed {
		is.Status = statusFor(w, item.Closed)
	}
	is.CustomFields = is.CustomFields.Clone()
	if item.URL != "" {
		is.CustomFields[issue.FieldExternalURL] = item.URL
	}
}

func isClosed(w *workflow.Workflow, status string) bool {
	st, ok := w.Find(status)
	return ok && st.Type == workflow.TypeClosed
}

// statusFor returns the first closed or first open status of w, falling back
// to the first status of any type.
func statusFor(w *workflow.Workflow, closed bool) string {
	want := workflow.TypeOpen
	if closed {
		want = workflow.TypeClosed
	}
	if st, ok := w.FirstOfType(want); ok {
		return st.Key
	}
	if len(w.Statuses) > 0 {
		return w.Statuses[0].Key
	}
	return issue.StatusBacklog
}

func itemType(item repoprovider.Item) issue.Type {
	if item.Kind == repoprovider.KindSecurityAlert {
		return issue.TypeSecurity
	}
	if slices.ContainsFunc(item.Labels, func(l string) bool { return strings.EqualFold(l, "bug") }) {
		return issue.TypeBug
	}
	return issue.TypeTask
}

// itemPriority maps provider alert severities (GitHub code scanning uses
// critical/high/medium/low and error/warning/note) onto priorities.
func itemPriority(item repoprovider.Item) issue.Priority {
	switch strings.ToLower(item.Severity) {
	case "critical":
		return issue.PriorityCritical
	case "high", "error":
		return issue.PriorityHigh
	case "low", "note", "info":
		return issue.PriorityLow
	default:
		return issue.PriorityMedium
	}
}

// stage starts a new stage with a known total and persists it.
func (j *syncJob) stage(ctx context.Context, stage syncop.Stage, total int) error {
	return j.update(ctx, true, func(op *syncop.Operation) {
		op.Progress = syncop.Progress{Stage: stage, Total: total}
	})
}

// advance counts one processed item, applies fn to the results and persists
// every progressEvery items and at the end of the stage.
func (j *syncJob) advance(ctx context.Context, fn func(r *syncop.Results)) error {
	j.mu.Lock()
	p := j.op.Progress
	j.mu.Unlock()
	processed := p.Processed + 1
	write := processed%progressEvery == 0 || processed >= p.Total
	return j.update(ctx, write, func(op *syncop.Operation) {
		op.Progress.Processed++
		fn(&op.Results)
	})
}

// update mutates the operation under the job lock and, when write is set
// and the operation is persisted, stores and announces it. It returns
// errJobStopped once the operation is terminal.
func (j *syncJob) update(ctx context.Context, write bool, fn func(op *syncop.Operation)) error {
	j.mu.Lock()
	if j.op.Status.IsTerminal() {
		j.mu.Unlock()
		return errJobStopped
	}
	fn(j.op)
	j.op.UpdatedAt = j.svc.now()
	if !write || !j.persisted {
		j.mu.Unlock()
		return nil
	}
	err := j.svc.store.UpdateSyncOperation(ctx, j.op)
	if err != nil {
		err = j.reconcile(ctx, err)
	}
	snap := j.op.Snapshot()
	j.mu.Unlock()

	if err != nil {
		return err
	}
	j.svc.publishProgress(ctx, &snap)
	return nil
}

// reconcile handles a failed write; mu must be held. A conflict means
// another node cancelled the operation, so the stored terminal state wins.
func (j *syncJob) reconcile(ctx context.Context, err error) error {
	if !errors.Is(err, domain.ErrConflict) {
		slog.WarnContext(ctx, "sync progress write failed", "operation_id", j.id, "error", err)
		return nil
	}
	stored, gerr := j.svc.store.GetSyncOperation(context.WithoutCancel(ctx), j.id)
	if gerr != nil {
		return fmt.Errorf("reload sync operation: %w", gerr)
	}
	*j.op = *stored
	if j.op.Status.IsTerminal() {
		return errJobStopped
	}
	return nil
}

// finish records the terminal state and hands inline results back to Start.
func (j *syncJob) finish(ctx context.Context, runErr error) {
	s := j.svc
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	defer j.cancel()

	j.mu.Lock()
	j.finished = true
	if !j.op.Status.IsTerminal() {
		now := s.now()
		if runErr == nil {
			_ = j.op.TransitionTo(syncop.StatusCompleted, now)
		} else {
			_ = j.op.TransitionTo(syncop.StatusFailed, now)
			j.op.Error = failureMessage(ctx, runErr)
		}
		if j.persisted {
			if err := s.store.UpdateSyncOperation(writeCtx, j.op); err != nil {
				if rerr := j.reconcile(writeCtx, err); rerr != nil && !errors.Is(rerr, errJobStopped) {
					slog.ErrorContext(writeCtx, "sync final write failed", "operation_id", j.id, "error", rerr)
				}
			}
		}
	}
	persisted := j.persisted
	snap := j.op.Snapshot()
	j.mu.Unlock()

	s.untrack(snap.ID)
	slog.InfoContext(writeCtx, "sync finished",
		"operation_id", snap.ID, "project_id", snap.ProjectID, "status", snap.Status,
		"created", snap.Results.Created, "updated", snap.Results.Updated,
		"skipped", snap.Results.Skipped, "failed", snap.Results.Failed, "error", snap.Error)
	if s.metrics != nil {
		s.metrics.SyncsFinished.Add(writeCtx, 1, metric.WithAttributes(
			attribute.String("sync.type", string(snap.SyncType)),
			attribute.String("status", string(snap.Status)),
		))
	}

	if persisted {
		s.publishProgress(writeCtx, &snap)
		s.alerter.SyncFailed(writeCtx, &snap)
		return
	}
	out := &syncOutcome{results: snap.Results}
	if snap.Status == syncop.StatusFailed {
		out.err = runErr
		if out.err == nil {
			out.err = errors.New(snap.Error)
		}
	}
	s.waiter.deliver(snap.ID, out)
}

func failureMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "sync timed out"
	case errors.Is(err, context.Canceled):
		return "sync interrupted: the server is shutting down"
	default:
		return err.Error()
	}
}

func (j *syncJob) countIssue(ctx context.Context, action string, failed bool) {
	m := j.svc.metrics
	if m == nil {
		return
	}
	result := action
	if failed {
		result = "failed"
	}
	m.SyncIssues.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// snapshot returns the in-memory state of a persisted job.
func (j *syncJob) snapshot() (syncop.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.persisted {
		return syncop.Snapshot{}, false
	}
	return j.op.Snapshot(), true
}

func (j *syncJob) isPersisted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.persisted
}

// cancelByUser fails the operation and stops the job. The issues written so
// far stay; the results keep counting them.
func (j *syncJob) cancelByUser(ctx context.Context) (syncop.Snapshot, error) {
	s := j.svc
	j.mu.Lock()
	prev := *j.op
	if !j.op.Cancel(s.now()) {
		snap := j.op.Snapshot()
		j.mu.Unlock()
		return snap, nil
	}
	if err := s.store.UpdateSyncOperation(ctx, j.op); err != nil {
		*j.op = prev
		if rerr := j.reconcile(ctx, err); errors.Is(rerr, errJobStopped) {
			snap := j.op.Snapshot()
			j.mu.Unlock()
			j.cancel()
			return snap, nil
		}
		j.mu.Unlock()
		if errors.Is(err, domain.ErrConflict) {
			return syncop.Snapshot{}, fmt.Errorf("cancel sync %s: %w", prev.ID, domain.ErrRetryable)
		}
		return syncop.Snapshot{}, fmt.Errorf("cancel sync %s: %w", prev.ID, err)
	}
	snap := j.op.Snapshot()
	j.mu.Unlock()

	j.cancel()
	slog.InfoContext(ctx, "sync cancelled", "operation_id", snap.ID, "project_id", snap.ProjectID)
	s.publishProgress(ctx, &snap)
	return snap, nil
}
