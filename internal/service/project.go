// Package service implements business logic on top of ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
)

// ProjectService manages projects, their connections and the users that
// report issues.
type ProjectService struct {
	store database.Store
	codec secrets.Codec
}

// NewProjectService creates a new ProjectService.
func NewProjectService(store database.Store, codec secrets.Codec) *ProjectService {
	return &ProjectService{store: store, codec: codec}
}

// ListProjects returns all projects.
func (s *ProjectService) ListProjects(ctx context.Context) ([]project.Project, error) {
	return s.store.ListProjects(ctx)
}

// GetProject returns a project by ID.
func (s *ProjectService) GetProject(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// CreateProject validates the request and creates the project together with
// its default workflow.
func (s *ProjectService) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if err := project.ValidateCreateRequest(&req); err != nil {
		return nil, err
	}
	p, err := s.store.CreateProject(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "project created", "project_id", p.ID, "key", p.Key)
	return p, nil
}

// ListConnections returns the connections of a project.
func (s *ProjectService) ListConnections(ctx context.Context, projectID string) ([]connection.Connection, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListConnections(ctx, projectID)
}

// RegisterConnection encrypts the webhook secret and API token and stores a
// new connection. A Git connection without an external ref takes it from
// the project's repository URL.
func (s *ProjectService) RegisterConnection(ctx context.Context, req connection.CreateRequest) (*connection.Connection, error) {
	p, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	svc, err := connection.ParseService(string(req.Service))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrValidation)
	}

	c := &connection.Connection{
		ProjectID:   p.ID,
		Service:     svc,
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		ServerURL:   strings.TrimRight(strings.TrimSpace(req.ServerURL), "/"),
	}
	if c.ExternalRef == "" && svc.IsGit() && p.RepoURL != "" {
		parsed, err := project.ParseRepoURL(p.RepoURL)
		if err != nil {
			return nil, fmt.Errorf("project repo_url: %s: %w", err.Error(), domain.ErrValidation)
		}
		if parsed.Service != svc {
			return nil, fmt.Errorf("project repository is hosted on %q, not %q: %w", parsed.Service, svc, domain.ErrValidation)
		}
		c.ExternalRef = parsed.ExternalRef()
		if c.ServerURL == "" {
			c.ServerURL = parsed.ServerURL()
		}
	}
	if svc.IsGit() && !strings.Contains(c.ExternalRef, "/") {
		return nil, fmt.Errorf("external_ref must be owner/repo for %s: %w", svc, domain.ErrValidation)
	}
	if req.Secret == "" {
		return nil, fmt.Errorf("webhook secret is required: %w", domain.ErrValidation)
	}

	if c.EncryptedSecret, err = s.codec.Encrypt(ctx, []byte(req.Secret)); err != nil {
		return nil, fmt.Errorf("encrypt webhook secret: %w", err)
	}
	if req.Token != "" {
		if c.EncryptedToken, err = s.codec.Encrypt(ctx, []byte(req.Token)); err != nil {
			return nil, fmt.Errorf("encrypt api token: %w", err)
		}
	}
	c.WebhookActive = true

	if err := s.store.CreateConnection(ctx, c); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "connection registered",
		"connection_id", c.ID, "project_id", c.ProjectID, "service", c.Service, "external_ref", c.ExternalRef)
	return c, nil
}

// RotateSecret replaces the webhook secret of a connection. Deliveries
// signed with the old secret are rejected from then on.
func (s *ProjectService) RotateSecret(ctx context.Context, connectionID, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook secret is required: %w", domain.ErrValidation)
	}
	enc, err := s.codec.Encrypt(ctx, []byte(secret))
	if err != nil {
		return fmt.Errorf("encrypt webhook secret: %w", err)
	}
	if err := s.store.UpdateConnectionSecret(ctx, connectionID, enc); err != nil {
		return err
	}
	slog.InfoContext(ctx, "webhook secret rotated", "connection_id", connectionID)
	return nil
}

// SetWebhookActive records whether the provider side webhook is installed.
// An active webhook makes manual syncs ask for confirmation.
func (s *ProjectService) SetWebhookActive(ctx context.Context, connectionID string, active bool) error {
	return s.store.SetWebhookActive(ctx, connectionID, active)
}

// CreateUser validates and stores a user.
func (s *ProjectService) CreateUser(ctx context.Context, req user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrValidation)
	}
	return s.store.CreateUser(ctx, req)
}
