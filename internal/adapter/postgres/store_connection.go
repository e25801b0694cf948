package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

const connectionColumns = `id, project_id, service, external_ref, server_url, encrypted_secret, encrypted_token,
	webhook_active, last_webhook_at, last_webhook_error, created_at, updated_at`

func (s *Store) ListConnections(ctx context.Context, projectID string) ([]connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *Store) GetConnection(ctx context.Context, id string) (*connection.Connection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err != nil {
		return nil, notFoundWrap(err, "get connection %s", id)
	}
	return &c, nil
}

func (s *Store) CreateConnection(ctx context.Context, c *connection.Connection) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO connections (project_id, service, external_ref, server_url, encrypted_secret, encrypted_token, webhook_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+connectionColumns,
		c.ProjectID, string(c.Service), c.ExternalRef, c.ServerURL, c.EncryptedSecret, c.EncryptedToken, c.WebhookActive)

	created, err := scanConnection(row)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	*c = created
	return nil
}

func (s *Store) UpdateConnectionSecret(ctx context.Context, id string, encryptedSecret []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET encrypted_secret = $2, updated_at = now() WHERE id = $1`,
		id, encryptedSecret)
	return execExpectOne(tag, err, "update connection secret %s", id)
}

func (s *Store) SetWebhookActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET webhook_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	return execExpectOne(tag, err, "set webhook active %s", id)
}

func (s *Store) RecordWebhookLiveness(ctx context.Context, id string, l connection.Liveness) error {
	at := l.ReceivedAt
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_webhook_at = $2, last_webhook_error = $3 WHERE id = $1`,
		id, nullTime(&at), l.Error)
	return execExpectOne(tag, err, "record webhook liveness %s", id)
}

func scanConnection(row scannable) (connection.Connection, error) {
	var c connection.Connection
	var svc string
	var lastAt *time.Time
	err := row.Scan(&c.ID, &c.ProjectID, &svc, &c.ExternalRef, &c.ServerURL, &c.EncryptedSecret, &c.EncryptedToken,
		&c.WebhookActive, &lastAt, &c.LastWebhookError, &c.CreatedAt, &c.UpdatedAt)
	c.Service = connection.Service(svc)
	c.LastWebhookAt = lastAt
	return c, err
}
