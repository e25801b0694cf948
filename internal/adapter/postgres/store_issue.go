package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
)

const issueColumns = `id, project_id, key, title, description, type, status, priority,
	COALESCE(reporter_id::text, ''), custom_fields, version, created_at, updated_at`

func (s *Store) ListIssues(ctx context.Context, projectID string, f issue.Filter) ([]issue.Issue, error) {
	where := []string{"project_id = $1"}
	args := []any{projectID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.ExternalID != "" {
		args = append(args, f.ExternalID)
		where = append(where, fmt.Sprintf("custom_fields->>'externalId' = $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []issue.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func (s *Store) GetIssueByKey(ctx context.Context, projectID, key string) (*issue.Issue, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE project_id = $1 AND key = $2`,
		projectID, key)

	i, err := scanIssue(row)
	if err != nil {
		return nil, notFoundWrap(err, "get issue %s", key)
	}
	return &i, nil
}

func (s *Store) CreateIssue(ctx context.Context, i *issue.Issue) error {
	fields, err := json.Marshal(customFieldsOrEmpty(i.CustomFields))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	key, err := nextIssueKey(ctx, tx, i.ProjectID)
	if err != nil {
		return err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO issues (project_id, key, title, description, type, status, priority, reporter_id, custom_fields)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+issueColumns,
		i.ProjectID, key, i.Title, i.Description, string(i.Type), i.Status, string(i.Priority),
		nullIfEmpty(i.ReporterID), fields)

	created, err := scanIssue(row)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit issue: %w", err)
	}
	*i = created
	return nil
}

func (s *Store) UpdateIssue(ctx context.Context, i *issue.Issue) error {
	fields, err := json.Marshal(customFieldsOrEmpty(i.CustomFields))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE issues SET title = $3, description = $4, status = $5, priority = $6, custom_fields = $7,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		i.ID, i.Version, i.Title, i.Description, i.Status, string(i.Priority), fields,
	).Scan(&i.Version, &i.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			// Either the row is gone or the version moved on.
			return fmt.Errorf("update issue %s: %w", i.ID, domain.ErrConflict)
		}
		return fmt.Errorf("update issue %s: %w", i.ID, err)
	}
	return nil
}

func scanIssue(row scannable) (issue.Issue, error) {
	var i issue.Issue
	var typ, priority string
	var fields []byte
	err := row.Scan(&i.ID, &i.ProjectID, &i.Key, &i.Title, &i.Description, &typ, &i.Status, &priority,
		&i.ReporterID, &fields, &i.Version, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return i, err
	}
	i.Type = issue.Type(typ)
	i.Priority = issue.Priority(priority)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &i.CustomFields); err != nil {
			return i, fmt.Errorf("unmarshal custom fields: %w", err)
		}
	}
	if i.CustomFields == nil {
		i.CustomFields = issue.CustomFields{}
	}
	return i, nil
}

func customFieldsOrEmpty(c issue.CustomFields) issue.CustomFields {
	if c == nil {
		return issue.CustomFields{}
	}
	return c
}
