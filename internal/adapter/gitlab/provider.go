// Package gitlab implements a repoprovider.Provider for GitLab instances using their REST API v4.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
)

const (
	providerName   = "gitlab"
	defaultBaseURL = "https://gitlab.com"
)

// Provider implements repoprovider.Provider for GitLab Issues via the REST API v4.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewProvider creates a GitLab provider with the given base URL and private token.
func NewProvider(baseURL, token string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: http.DefaultClient,
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Capabilities() repoprovider.Capabilities {
	return repoprovider.Capabilities{Issues: true}
}

// gitlabIssue mirrors the JSON response from the GitLab issues API.
type gitlabIssue struct {
	IID         int      `json:"iid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	WebURL      string   `json:"web_url"`
}

func (p *Provider) ListIssues(ctx context.Context, repoRef string, opts repoprovider.ListOptions) ([]repoprovider.Item, error) {
	state := "opened"
	if opts.IncludeClosed {
		state = "all"
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	var items []repoprovider.Item
	page := "1"
	for page != "" {
		reqURL := fmt.Sprintf("%s/api/v4/projects/%s/issues?state=%s&per_page=%d&page=%s",
			p.baseURL, url.PathEscape(repoRef), state, perPage, page)
		body, header, err := p.doRequest(ctx, http.MethodGet, reqURL)
		if err != nil {
			return nil, fmt.Errorf("gitlab list issues: %w", err)
		}

		var issues []gitlabIssue
		if err := json.Unmarshal(body, &issues); err != nil {
			return nil, fmt.Errorf("gitlab parse response: %w", err)
		}
		for i := range issues {
			items = append(items, issueToItem(&issues[i], repoRef))
		}

		// X-Next-Page is empty on the last page.
		page = header.Get("X-Next-Page")
		if _, err := strconv.Atoi(page); err != nil {
			page = ""
		}
	}
	return items, nil
}

// ListSecurityAlerts is not supported: GitLab exposes vulnerabilities only
// through GraphQL on Ultimate tiers.
func (p *Provider) ListSecurityAlerts(_ context.Context, _ string, _ repoprovider.ListOptions) ([]repoprovider.Item, error) {
	return nil, repoprovider.ErrNotSupported
}

func (p *Provider) doRequest(ctx context.Context, method, reqURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("PRIVATE-TOKEN", p.token)
	}

	resp, err := p.httpClient.Do(req) //nolint:gosec // URL is constructed from trusted baseURL + project ref
	if err != nil {
		return nil, nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("gitlab API %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, resp.Header, nil
}

func issueToItem(issue *gitlabIssue, repoRef string) repoprovider.Item {
	labels := make([]string, len(issue.Labels))
	copy(labels, issue.Labels)

	return repoprovider.Item{
		ExternalID:  fmt.Sprintf("%s:%s#%d", providerName, repoRef, issue.IID),
		Kind:        repoprovider.KindIssue,
		Title:       issue.Title,
		Description: issue.Description,
		Closed:      strings.EqualFold(issue.State, "closed"),
		URL:         issue.WebURL,
		Labels:      labels,
	}
}
