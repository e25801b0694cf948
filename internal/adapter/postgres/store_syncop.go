package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
)

const syncOpColumns = `id, project_id, connection_id, sync_type, include_closed, status, progress, results,
	error, version, created_at, updated_at, completed_at`

func (s *Store) CreateSyncOperation(ctx context.Context, op *syncop.Operation) error {
	progress, results, err := marshalSyncState(op)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sync_operations (id, project_id, connection_id, sync_type, include_closed, status, progress, results, error, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+syncOpColumns,
		op.ID, op.ProjectID, op.ConnectionID, string(op.SyncType), op.IncludeClosed, string(op.Status),
		progress, results, op.Error, nullTime(op.CompletedAt))

	created, err := scanSyncOperation(row)
	if err != nil {
		return fmt.Errorf("create sync operation: %w", err)
	}
	*op = created
	return nil
}

func (s *Store) GetSyncOperation(ctx context.Context, id string) (*syncop.Operation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+syncOpColumns+` FROM sync_operations WHERE id = $1`, id)
	op, err := scanSyncOperation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get sync operation %s", id)
	}
	return &op, nil
}

func (s *Store) UpdateSyncOperation(ctx context.Context, op *syncop.Operation) error {
	progress, results, err := marshalSyncState(op)
	if err != nil {
		return err
	}

	// Terminal rows never change again, whatever version the caller holds.
	err = s.pool.QueryRow(ctx,
		`UPDATE sync_operations SET status = $3, progress = $4, results = $5, error = $6, completed_at = $7,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status IN ('pending', 'inProgress')
		 RETURNING version, updated_at`,
		op.ID, op.Version, string(op.Status), progress, results, op.Error, nullTime(op.CompletedAt),
	).Scan(&op.Version, &op.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("update sync operation %s: %w", op.ID, domain.ErrConflict)
		}
		return fmt.Errorf("update sync operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *Store) FailStaleSyncOperations(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_operations SET status = 'failed', error = $2, completed_at = now(),
		        version = version + 1, updated_at = now()
		 WHERE status IN ('pending', 'inProgress') AND updated_at < $1`,
		cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale sync operations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func marshalSyncState(op *syncop.Operation) (progress, results []byte, err error) {
	progress, err = json.Marshal(op.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal progress: %w", err)
	}
	results, err = json.Marshal(op.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal results: %w", err)
	}
	return progress, results, nil
}

func scanSyncOperation(row scannable) (syncop.Operation, error) {
	var op syncop.Operation
	var syncType, status string
	var progress, results []byte
	err := row.Scan(&op.ID, &op.ProjectID, &op.ConnectionID, &syncType, &op.IncludeClosed, &status,
		&progress, &results, &op.Error, &op.Version, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt)
	if err != nil {
		return op, err
	}
	op.SyncType = syncop.Type(syncType)
	op.Status = syncop.Status(status)
	if err := json.Unmarshal(progress, &op.Progress); err != nil {
		return op, fmt.Errorf("unmarshal progress: %w", err)
	}
	if err := json.Unmarshal(results, &op.Results); err != nil {
		return op, fmt.Errorf("unmarshal results: %w", err)
	}
	return op, nil
}
