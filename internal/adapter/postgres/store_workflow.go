package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
)

func (s *Store) GetWorkflow(ctx context.Context, projectID string) (*workflow.Workflow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, name, type, transitions FROM workflow_statuses
		 WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, fmt.Errorf("get workflow %s: %w", projectID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", projectID, err)
	}
	defer rows.Close()

	w := &workflow.Workflow{ProjectID: projectID}
	for rows.Next() {
		var st workflow.Status
		var typ string
		if err := rows.Scan(&st.Key, &st.Name, &typ, &st.Transitions); err != nil {
			return nil, fmt.Errorf("scan workflow status: %w", err)
		}
		st.Type = workflow.StatusType(typ)
		w.Statuses = append(w.Statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", projectID, err)
	}
	if len(w.Statuses) == 0 {
		return nil, fmt.Errorf("get workflow %s: %w", projectID, domain.ErrNotFound)
	}
	return w, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := replaceWorkflow(ctx, tx, w); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit workflow: %w", err)
	}
	return nil
}

// replaceWorkflow rewrites every status row of the workflow's project in tx.
func replaceWorkflow(ctx context.Context, tx pgx.Tx, w *workflow.Workflow) error {
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_statuses WHERE project_id = $1`, w.ProjectID); err != nil {
		return fmt.Errorf("clear workflow %s: %w", w.ProjectID, err)
	}

	batch := &pgx.Batch{}
	for pos, st := range w.Statuses {
		batch.Queue(
			`INSERT INTO workflow_statuses (project_id, position, key, name, type, transitions)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ProjectID, pos, st.Key, st.Name, string(st.Type), pgTextArray(st.Transitions))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert workflow %s: %w", w.ProjectID, err)
	}
	return nil
}
