package project

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// ParsedRepoURL contains the components extracted from a git repository URL.
type ParsedRepoURL struct {
	Owner   string             `json:"owner"` // may contain "/" for GitLab subgroups
	Repo    string             `json:"repo"`
	Service connection.Service `json:"service"`
	Host    string             `json:"host"`
}

// ExternalRef is the "owner/repo" reference stored on a connection.
func (p *ParsedRepoURL) ExternalRef() string {
	return p.Owner + "/" + p.Repo
}

// ServerURL is the base URL of a self-hosted instance, empty for the public
// hosts.
func (p *ParsedRepoURL) ServerURL() string {
	if _, ok := knownProviders[strings.ToLower(p.Host)]; ok {
		return ""
	}
	return "https://" + p.Host
}

// knownProviders maps hostnames to services.
var knownProviders = map[string]connection.Service{
	"github.com":    connection.ServiceGitHub,
	"gitlab.com":    connection.ServiceGitLab,
	"bitbucket.org": connection.ServiceBitbucket,
}

// ParseRepoURL extracts owner, repo name, and service from a git URL.
// Supports HTTPS URLs (https://github.com/org/repo) and SSH URLs (git@github.com:org/repo.git).
func ParseRepoURL(rawURL string) (*ParsedRepoURL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}

	// SSH format: git@host:owner/repo.git
	if strings.HasPrefix(rawURL, "git@") {
		withoutPrefix := strings.TrimPrefix(rawURL, "git@")
		host, pathPart, ok := strings.Cut(withoutPrefix, ":")
		if !ok {
			return nil, fmt.Errorf("invalid SSH URL: missing colon separator")
		}
		return splitRepoPath(host, pathPart)
	}

	// HTTPS format: https://host/owner/repo[.git]
	if strings.HasPrefix(rawURL, "https://") || strings.HasPrefix(rawURL, "http://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("invalid URL: missing host")
		}
		return splitRepoPath(u.Hostname(), path.Clean(u.Path))
	}

	return nil, fmt.Errorf("unsupported URL scheme: must start with https://, http://, or git@")
}

func splitRepoPath(host, p string) (*ParsedRepoURL, error) {
	p = strings.Trim(strings.TrimSuffix(p, ".git"), "/")
	idx := strings.LastIndex(p, "/")
	if idx <= 0 || idx == len(p)-1 {
		return nil, fmt.Errorf("invalid URL: expected owner/repo path")
	}

	svc := serviceFromHost(host)
	owner := p[:idx]
	// Only GitLab nests groups; elsewhere the owner is the first segment.
	if svc != connection.ServiceGitLab && strings.Contains(owner, "/") {
		return nil, fmt.Errorf("invalid URL: expected owner/repo path")
	}

	return &ParsedRepoURL{
		Owner:   owner,
		Repo:    p[idx+1:],
		Service: svc,
		Host:    host,
	}, nil
}

// serviceFromHost returns the service for a known host, or empty string.
func serviceFromHost(host string) connection.Service {
	lower := strings.ToLower(host)
	if s, ok := knownProviders[lower]; ok {
		return s
	}
	// Self-hosted instances with a telling subdomain.
	switch {
	case strings.Contains(lower, "gitlab"):
		return connection.ServiceGitLab
	case strings.Contains(lower, "github"):
		return connection.ServiceGitHub
	case strings.Contains(lower, "bitbucket"):
		return connection.ServiceBitbucket
	}
	return ""
}
