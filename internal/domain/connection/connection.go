// Package connection defines the repository and monitoring connections that
// own webhook secrets.
package connection

import (
	"fmt"
	"strings"
	"time"
)

// Service identifies the external system on the other end of a connection.
type Service string

const (
	ServiceGitHub    Service = "github"
	ServiceGitLab    Service = "gitlab"
	ServiceBitbucket Service = "bitbucket"
	ServiceSentry    Service = "sentry"
	ServiceDatadog   Service = "datadog"
	ServiceNewRelic  Service = "newrelic"
)

// ParseService validates a service name from a URL or CLI flag.
func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	switch svc {
	case ServiceGitHub, ServiceGitLab, ServiceBitbucket, ServiceSentry, ServiceDatadog, ServiceNewRelic:
		return svc, nil
	default:
		return "", fmt.Errorf("unknown service %q", s)
	}
}

// IsGit reports whether the service is a Git hosting provider.
func (s Service) IsGit() bool {
	return s == ServiceGitHub || s == ServiceGitLab || s == ServiceBitbucket
}

// IsMonitoring reports whether the service is an error monitoring provider.
func (s Service) IsMonitoring() bool {
	return s == ServiceSentry || s == ServiceDatadog || s == ServiceNewRelic
}

// Connection links a project to a repository or a monitoring integration.
type Connection struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Service          Service    `json:"service"`
	ExternalRef      string     `json:"external_ref"` // "owner/repo", "group/project", "workspace/repo", or a monitoring project slug
	ServerURL        string     `json:"server_url,omitempty"`
	EncryptedSecret  []byte     `json:"-"`
	EncryptedToken   []byte     `json:"-"`
	WebhookActive    bool       `json:"webhook_active"`
	LastWebhookAt    *time.Time `json:"last_webhook_at,omitempty"`
	LastWebhookError string     `json:"last_webhook_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields to register a new connection.
// Secret and Token are plaintext and are encrypted before storage.
type CreateRequest struct {
	ProjectID   string  `json:"project_id"`
	Service     Service `json:"service"`
	ExternalRef string  `json:"external_ref"`
	ServerURL   string  `json:"server_url"`
	Secret      string  `json:"secret"` //nolint:gosec // request field, not a hardcoded secret
	Token       string  `json:"token"`  //nolint:gosec // request field, not a hardcoded secret
}

// Liveness is the best-effort webhook bookkeeping written after each delivery.
type Liveness struct {
	ReceivedAt time.Time
	Error      string // empty on success
}
