package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
)

func TestProjectServiceCreateNormalizesKey(t *testing.T) {
	svc := NewProjectService(newMockStore(), plainCodec{})

	p, err := svc.CreateProject(context.Background(), project.CreateRequest{Key: " ft ", Name: "ForgeTrack"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Key != "FT" {
		t.Fatalf("expected normalized key FT, got %q", p.Key)
	}

	_, err = svc.CreateProject(context.Background(), project.CreateRequest{Key: "1X", Name: "Bad"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProjectServiceRegisterConnection(t *testing.T) {
	store := newMockStore()
	svc := NewProjectService(store, plainCodec{})
	p, err := svc.CreateProject(context.Background(), project.CreateRequest{Key: "FT", Name: "ForgeTrack", RepoURL: "https://gitlab.example.com/acme/platform/web.git"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	tests := []struct {
		name    string
		req     connection.CreateRequest
		wantErr error
		wantRef string
	}{
		{"ref from repo url", connection.CreateRequest{ProjectID: p.ID, Service: "gitlab", Secret: "s", Token: "t"}, nil, "acme/platform/web"},
		{"explicit ref", connection.CreateRequest{ProjectID: p.ID, Service: "github", ExternalRef: "acme/api", Secret: "s"}, nil, "acme/api"},
		{"monitoring slug", connection.CreateRequest{ProjectID: p.ID, Service: "sentry", ExternalRef: "web-frontend", Secret: "s"}, nil, "web-frontend"},
		{"host mismatch", connection.CreateRequest{ProjectID: p.ID, Service: "bitbucket", Secret: "s"}, domain.ErrValidation, ""},
		{"missing secret", connection.CreateRequest{ProjectID: p.ID, Service: "github", ExternalRef: "acme/api"}, domain.ErrValidation, ""},
		{"unknown service", connection.CreateRequest{ProjectID: p.ID, Service: "jira", Secret: "s"}, domain.ErrValidation, ""},
		{"unknown project", connection.CreateRequest{ProjectID: "nope", Service: "github", ExternalRef: "a/b", Secret: "s"}, domain.ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.RegisterConnection(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			if c.ExternalRef != tt.wantRef || !c.WebhookActive || string(c.EncryptedSecret) != "s" {
				t.Fatalf("unexpected connection %+v", c)
			}
		})
	}

	gl, _ := svc.RegisterConnection(context.Background(), connection.CreateRequest{ProjectID: p.ID, Service: "gitlab", Secret: "s"})
	if gl.ServerURL != "https://gitlab.example.com" {
		t.Fatalf("expected self-hosted server url, got %q", gl.ServerURL)
	}
}

func TestProjectServiceRotateSecret(t *testing.T) {
	store := newMockStore()
	store.connections["conn-1"] = &connection.Connection{ID: "conn-1", EncryptedSecret: []byte("old")}
	svc := NewProjectService(store, plainCodec{})

	if err := svc.RotateSecret(context.Background(), "conn-1", "new"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := string(store.connections["conn-1"].EncryptedSecret); got != "new" {
		t.Fatalf("expected rotated secret, got %q", got)
	}
	if err := svc.RotateSecret(context.Background(), "conn-1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.RotateSecret(context.Background(), "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProjectServiceCreateUserValidates(t *testing.T) {
	svc := NewProjectService(newMockStore(), plainCodec{})
	if _, err := svc.CreateUser(context.Background(), user.CreateRequest{Email: "not-an-email", Name: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	u, err := svc.CreateUser(context.Background(), user.CreateRequest{Email: "ops@example.com", Name: "Ops"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Role != user.RoleMember {
		t.Fatalf("expected default role member, got %q", u.Role)
	}
}
