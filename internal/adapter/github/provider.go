// Package github implements a repoprovider.Provider for GitHub and GitHub
// Enterprise using the REST API through go-github.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
)

const providerName = "github"

// Provider implements repoprovider.Provider for GitHub.
type Provider struct {
	client *github.Client
}

// NewProvider creates a GitHub provider. An empty baseURL targets
// api.github.com; otherwise it is the Enterprise API root
// (https://ghe.example.com/api/v3/).
func NewProvider(baseURL, token string) (*Provider, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(hc)

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsed
		client.UploadURL = parsed
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Capabilities() repoprovider.Capabilities {
	return repoprovider.Capabilities{Issues: true, SecurityAlerts: true}
}

func (p *Provider) ListIssues(ctx context.Context, repoRef string, opts repoprovider.ListOptions) ([]repoprovider.Item, error) {
	owner, repo, err := splitRepoRef(repoRef)
	if err != nil {
		return nil, err
	}

	listOpts := &github.IssueListByRepoOptions{
		State:       state(opts.IncludeClosed),
		ListOptions: github.ListOptions{PerPage: perPage(opts.PageSize)},
	}

	var items []repoprovider.Item
	for {
		issues, resp, err := p.client.Issues.ListByRepo(ctx, owner, repo, listOpts)
		if err != nil {
			return nil, fmt.Errorf("github list issues %s: %w", repoRef, err)
		}
		for _, is := range issues {
			// The issues API also returns pull requests.
			if is.IsPullRequest() {
				continue
			}
			items = append(items, issueToItem(is, repoRef))
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}
	return items, nil
}

func (p *Provider) ListSecurityAlerts(ctx context.Context, repoRef string, opts repoprovider.ListOptions) ([]repoprovider.Item, error) {
	owner, repo, err := splitRepoRef(repoRef)
	if err != nil {
		return nil, err
	}

	alertOpts := &github.AlertListOptions{
		ListOptions: github.ListOptions{PerPage: perPage(opts.PageSize)},
	}
	if !opts.IncludeClosed {
		alertOpts.State = "open"
	}

	var items []repoprovider.Item
	for {
		alerts, resp, err := p.client.CodeScanning.ListAlertsForRepo(ctx, owner, repo, alertOpts)
		if err != nil {
			return nil, fmt.Errorf("github list code scanning alerts %s: %w", repoRef, err)
		}
		for _, a := range alerts {
			items = append(items, alertToItem(a, repoRef))
		}
		if resp.NextPage == 0 {
			break
		}
		alertOpts.Page = resp.NextPage
	}
	return items, nil
}

func issueToItem(is *github.Issue, repoRef string) repoprovider.Item {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	return repoprovider.Item{
		ExternalID:  fmt.Sprintf("%s:%s#%d", providerName, repoRef, is.GetNumber()),
		Kind:        repoprovider.KindIssue,
		Title:       is.GetTitle(),
		Description: is.GetBody(),
		Closed:      is.GetState() == "closed",
		URL:         is.GetHTMLURL(),
		Labels:      labels,
	}
}

func alertToItem(a *github.Alert, repoRef string) repoprovider.Item {
	htmlURL := a.GetHTMLURL()
	// The alert number is the last path segment of its HTML URL.
	number := htmlURL[strings.LastIndex(htmlURL, "/")+1:]

	title := a.GetRuleDescription()
	if title == "" {
		title = a.GetRuleID()
	}
	return repoprovider.Item{
		ExternalID:  fmt.Sprintf("%s:%s/code-scanning/%s", providerName, repoRef, number),
		Kind:        repoprovider.KindSecurityAlert,
		Title:       title,
		Description: fmt.Sprintf("Code scanning rule `%s` reported an alert.\n\n%s", a.GetRuleID(), htmlURL),
		Closed:      a.GetState() != "open",
		URL:         htmlURL,
		Severity:    a.GetRuleSeverity(),
	}
}

func state(includeClosed bool) string {
	if includeClosed {
		return "all"
	}
	return "open"
}

func perPage(n int) int {
	if n <= 0 || n > 100 {
		return 100
	}
	return n
}

func splitRepoRef(ref string) (owner, repo string, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo ref %q: expected owner/repo", ref)
	}
	return parts[0], parts[1], nil
}
