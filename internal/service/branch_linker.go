package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
)

// BranchIssueLinker resolves issue keys found in branch names.
type BranchIssueLinker struct {
	store database.Store
}

// NewBranchIssueLinker creates a linker backed by store.
func NewBranchIssueLinker(store database.Store) *BranchIssueLinker {
	return &BranchIssueLinker{store: store}
}

// FindIssueByKey returns the issue with key in projectID. A missing issue is
// not an error: branch names routinely carry keys that match nothing, so it
// yields (nil, nil).
func (l *BranchIssueLinker) FindIssueByKey(ctx context.Context, projectID, key string) (*issue.Issue, error) {
	is, err := l.store.GetIssueByKey(ctx, projectID, key)
	if errors.Is(err, domain.ErrNotFound) {
		slog.DebugContext(ctx, "branch key matches no issue", "project_id", projectID, "issue_key", key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find issue %s: %w", key, err)
	}
	return is, nil
}
