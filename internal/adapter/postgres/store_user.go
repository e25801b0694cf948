package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
)

func (s *Store) CreateUser(ctx context.Context, req user.CreateRequest) (*user.User, error) {
	var u user.User
	var role string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, role)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, role, created_at`,
		req.Email, req.Name, string(req.Role),
	).Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create user %s: %w", req.Email, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.Role = user.Role(role)
	return &u, nil
}

func (s *Store) SystemActor(ctx context.Context) (*user.User, error) {
	var u user.User
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, role, created_at FROM users
		ORDER BY (role = 'admin') DESC, created_at, id
		LIMIT 1`,
	).Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "system actor")
	}
	u.Role = user.Role(role)
	return &u, nil
}
