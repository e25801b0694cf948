// Package bitbucket implements a repoprovider.Provider for Bitbucket Cloud
// using the REST API 2.0.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
)

const (
	providerName   = "bitbucket"
	defaultBaseURL = "https://api.bitbucket.org"
)

// closedStates are the issue tracker states that count as finished.
var closedStates = map[string]bool{
	"resolved":  true,
	"invalid":   true,
	"duplicate": true,
	"wontfix":   true,
	"closed":    true,
}

// Provider implements repoprovider.Provider for the Bitbucket issue tracker.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewProvider creates a Bitbucket provider authenticating with a repository
// or workspace access token.
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

type page struct {
	Values []bbIssue `json:"values"`
	Next   string    `json:"next"`
}

type bbIssue struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Kind    string `json:"kind"`
	Content struct {
		Raw string `json:"raw"`
	} `json:"content"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

func (p *Provider) ListIssues(ctx context.Context, repoRef string, opts repoprovider.ListOptions) ([]repoprovider.Item, error) {
	if strings.Count(repoRef, "/") != 1 || strings.HasPrefix(repoRef, "/") || strings.HasSuffix(repoRef, "/") {
		return nil, fmt.Errorf("invalid repo ref %q: expected workspace/repo", repoRef)
	}
	pageLen := opts.PageSize
	if pageLen <= 0 || pageLen > 100 {
		pageLen = 100
	}

	q := url.Values{}
	q.Set("pagelen", fmt.Sprint(pageLen))
	if !opts.IncludeClosed {
		q.Set("q", `state="new" OR state="open" OR state="on hold"`)
	}
	next := fmt.Sprintf("%s/2.0/repositories/%s/issues?%s", p.baseURL, repoRef, q.Encode())

	var items []repoprovider.Item
	for next != "" {
		body, err := p.doRequest(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("bitbucket list issues: %w", err)
		}
		var pg page
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("bitbucket parse response: %w", err)
		}
		for i := range pg.Values {
			items = append(items, issueToItem(&pg.Values[i], repoRef))
		}
		next = pg.Next
	}
	return items, nil
}

// ListSecurityAlerts is not supported: Bitbucket Cloud has no code scanning API.
func (p *Provider) ListSecurityAlerts(_ context.Context, _ string, _ repoprovider.ListOptions) ([]repoprovider.Item, error) {
	return nil, repoprovider.ErrNotSupported
}

func (p *Provider) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req) //nolint:gosec // URL is baseURL or the API's own next link
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bitbucket API %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func issueToItem(is *bbIssue, repoRef string) repoprovider.Item {
	var labels []string
	if is.Kind != "" {
		labels = []string{is.Kind}
	}
	return repoprovider.Item{
		ExternalID:  fmt.Sprintf("%s:%s#%d", providerName, repoRef, is.ID),
		Kind:        repoprovider.KindIssue,
		Title:       is.Title,
		Description: is.Content.Raw,
		Closed:      closedStates[is.State],
		URL:         is.Links.HTML.Href,
		Labels:      labels,
	}
}
