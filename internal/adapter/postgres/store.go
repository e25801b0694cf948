package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

const projectColumns = `id, key, name, repo_url, issue_seq, version, created_at, updated_at`

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`INSERT INTO projects (key, name, repo_url)
		 VALUES ($1, $2, $3)
		 RETURNING `+projectColumns,
		req.Key, req.Name, req.RepoURL)

	p, err := scanProject(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create project: key %q already exists: %w", req.Key, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	if err := replaceWorkflow(ctx, tx, workflow.Default(p.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit project: %w", err)
	}
	return &p, nil
}

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.RepoURL, &p.IssueSeq, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// nextIssueKey bumps the project's issue sequence inside tx.
func nextIssueKey(ctx context.Context, tx pgx.Tx, projectID string) (string, error) {
	var key string
	var seq int
	err := tx.QueryRow(ctx,
		`UPDATE projects SET issue_seq = issue_seq + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING key, issue_seq`, projectID).Scan(&key, &seq)
	if err != nil {
		return "", notFoundWrap(err, "next issue key for project %s", projectID)
	}
	return project.IssueKey(key, seq), nil
}
