// Package repoprovider defines the port interface for reading issues and
// security alerts from a remote repository (GitHub, GitLab, Bitbucket).
package repoprovider

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when a provider does not support the requested operation.
var ErrNotSupported = errors.New("operation not supported by this provider")

// Kind distinguishes plain issues from security findings.
type Kind string

const (
	KindIssue         Kind = "issue"
	KindSecurityAlert Kind = "securityAlert"
)

// Item is one remote work item as the sync engine sees it.
type Item struct {
	// ExternalID is stable across syncs, e.g. "github:acme/api#12" or
	// "github:acme/api/code-scanning/3". Sync matches local issues on it.
	ExternalID  string   `json:"external_id"`
	Kind        Kind     `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Closed      bool     `json:"closed"`
	URL         string   `json:"url"`
	Labels      []string `json:"labels,omitempty"`
	// Severity is the provider's own rating for security alerts.
	Severity string `json:"severity,omitempty"`
}

// ListOptions narrows a listing.
type ListOptions struct {
	IncludeClosed bool
	PageSize      int
}

// Capabilities declares what a provider supports.
type Capabilities struct {
	Issues         bool `json:"issues"`
	SecurityAlerts bool `json:"security_alerts"`
}

// Provider is the port interface for remote repositories.
type Provider interface {
	// Name returns the provider identifier, equal to the connection service.
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// ListIssues returns every issue of repoRef ("owner/repo"), following
	// pagination. Pull requests are excluded.
	ListIssues(ctx context.Context, repoRef string, opts ListOptions) ([]Item, error)

	// ListSecurityAlerts returns code scanning or vulnerability alerts.
	// Returns ErrNotSupported if the provider has no such API.
	ListSecurityAlerts(ctx context.Context, repoRef string, opts ListOptions) ([]Item, error)
}
