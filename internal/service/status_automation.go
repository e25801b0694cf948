package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
	"github.com/Strob0t/ForgeTrack/internal/port/cache"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
)

// rule picks the target status of an issue for one kind of event.
type rule func(w *workflow.Workflow, current string) workflow.Transition

// StatusAutomation moves issues through their project's workflow in response
// to branch and pull request events. Every update is best-effort: failures
// come back as a failed Outcome, never as an error.
type StatusAutomation struct {
	store database.Store
	cache cache.Cache // optional
	ttl   time.Duration
}

// NewStatusAutomation creates a StatusAutomation. Workflows are cached for
// ttl when c is non-nil.
func NewStatusAutomation(store database.Store, c cache.Cache, ttl time.Duration) *StatusAutomation {
	return &StatusAutomation{store: store, cache: c, ttl: ttl}
}

// OnBranchCreated moves an open issue to the first in_progress status.
func (a *StatusAutomation) OnBranchCreated(ctx context.Context, is *issue.Issue) webhook.Outcome {
	return a.apply(ctx, is, "branch created", workflow.NextOnBranchCreated)
}

// OnPRMerged moves an issue to the first closed status.
func (a *StatusAutomation) OnPRMerged(ctx context.Context, is *issue.Issue) webhook.Outcome {
	return a.apply(ctx, is, "pull request merged", workflow.NextOnPRMerged)
}

func (a *StatusAutomation) apply(ctx context.Context, is *issue.Issue, event string, next rule) webhook.Outcome {
	w, err := a.Workflow(ctx, is.ProjectID)
	if err != nil {
		slog.ErrorContext(ctx, "load workflow failed", "project_id", is.ProjectID, "issue_id", is.ID, "error", err)
		return webhook.Failed("load workflow", err).WithIssue(is.ID, is.Key)
	}

	// One retry on a version conflict: the transition is absolute, so
	// re-evaluating against the fresh row gives the same end state.
	for attempt := 0; ; attempt++ {
		t := next(w, is.Status)
		switch t.Decision {
		case workflow.DecisionMissingInProgress, workflow.DecisionMissingClosed:
			slog.WarnContext(ctx, "workflow has no target status for automation",
				"project_id", is.ProjectID, "issue_id", is.ID, "event", event, "decision", t.Decision)
			return webhook.Skipped(string(t.Decision)).WithIssue(is.ID, is.Key)
		case workflow.DecisionNoop:
			return webhook.Skipped("status unchanged").WithIssue(is.ID, is.Key)
		}

		updated := *is
		updated.Status = t.To
		err := a.store.UpdateIssue(ctx, &updated)
		if err == nil {
			slog.InfoContext(ctx, "issue status automated",
				"project_id", is.ProjectID, "issue_id", is.ID, "issue_key", is.Key,
				"event", event, "from", t.From, "to", t.To)
			return webhook.Success(fmt.Sprintf("%s: %s -> %s", event, t.From, t.To)).WithIssue(is.ID, is.Key)
		}
		if errors.Is(err, domain.ErrConflict) && attempt == 0 {
			fresh, gerr := a.store.GetIssueByKey(ctx, is.ProjectID, is.Key)
			if gerr == nil {
				is = fresh
				continue
			}
			err = gerr
		}
		slog.ErrorContext(ctx, "issue status update failed",
			"project_id", is.ProjectID, "issue_id", is.ID, "event", event, "error", err)
		return webhook.Failed("status update failed", err).WithIssue(is.ID, is.Key)
	}
}

// Workflow returns the project's workflow, served from cache when possible.
// Cache errors fall through to the store.
func (a *StatusAutomation) Workflow(ctx context.Context, projectID string) (*workflow.Workflow, error) {
	key := cache.Key("workflow", projectID)
	if a.cache != nil {
		w, ok, err := cache.GetJSON[workflow.Workflow](ctx, a.cache, key)
		if err != nil {
			slog.WarnContext(ctx, "workflow cache read failed", "project_id", projectID, "error", err)
		}
		if ok {
			return &w, nil
		}
	}

	w, err := a.store.GetWorkflow(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, w, a.ttl); err != nil {
			slog.WarnContext(ctx, "workflow cache write failed", "project_id", projectID, "error", err)
		}
	}
	return w, nil
}
