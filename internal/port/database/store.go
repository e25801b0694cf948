// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
)

// Store is the port interface for database operations. Not-found lookups
// wrap domain.ErrNotFound; optimistic-lock misses wrap domain.ErrConflict.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	// CreateProject also seeds the default workflow.
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)

	// Issues
	ListIssues(ctx context.Context, projectID string, f issue.Filter) ([]issue.Issue, error)
	GetIssueByKey(ctx context.Context, projectID, key string) (*issue.Issue, error)
	// CreateIssue assigns ID, Key (from the project's issue sequence) and Version.
	CreateIssue(ctx context.Context, i *issue.Issue) error
	// UpdateIssue writes status, priority, title, description and custom
	// fields when i.Version still matches, then increments i.Version.
	UpdateIssue(ctx context.Context, i *issue.Issue) error

	// Workflows
	GetWorkflow(ctx context.Context, projectID string) (*workflow.Workflow, error)
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error

	// Connections
	ListConnections(ctx context.Context, projectID string) ([]connection.Connection, error)
	GetConnection(ctx context.Context, id string) (*connection.Connection, error)
	CreateConnection(ctx context.Context, c *connection.Connection) error
	UpdateConnectionSecret(ctx context.Context, id string, encryptedSecret []byte) error
	SetWebhookActive(ctx context.Context, id string, active bool) error
	RecordWebhookLiveness(ctx context.Context, id string, l connection.Liveness) error

	// Sync operations
	CreateSyncOperation(ctx context.Context, op *syncop.Operation) error
	GetSyncOperation(ctx context.Context, id string) (*syncop.Operation, error)
	// UpdateSyncOperation is version-checked like UpdateIssue.
	UpdateSyncOperation(ctx context.Context, op *syncop.Operation) error
	// FailStaleSyncOperations fails non-terminal operations last updated
	// before cutoff and returns how many it touched.
	FailStaleSyncOperations(ctx context.Context, cutoff time.Time, reason string) (int, error)

	// Users
	CreateUser(ctx context.Context, req user.CreateRequest) (*user.User, error)
	// SystemActor returns the oldest admin, else the oldest user of any role.
	SystemActor(ctx context.Context) (*user.User, error)
}
