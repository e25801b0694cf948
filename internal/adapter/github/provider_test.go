package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
)

// Compile-time interface check.
var _ repoprovider.Provider = (*Provider)(nil)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewProvider(srv.URL, "test-token")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestListIssuesPaginatesAndSkipsPullRequests(t *testing.T) {
	var sawAuth, sawState string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/api/issues" {
			http.NotFound(w, r)
			return
		}
		sawAuth = r.Header.Get("Authorization")
		sawState = r.URL.Query().Get("state")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/api/issues?page=2>; rel="next"`, r.Host))
			_, _ = w.Write([]byte(`[
				{"number":1,"title":"Login broken","body":"b","state":"open","html_url":"https://github.com/acme/api/issues/1","labels":[{"name":"bug"}]},
				{"number":2,"title":"A PR","state":"open","pull_request":{"url":"x"}}
			]`))
			return
		}
		_, _ = w.Write([]byte(`[{"number":3,"title":"Old","state":"closed"}]`))
	})

	items, err := p.ListIssues(context.Background(), "acme/api", repoprovider.ListOptions{IncludeClosed: true})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if sawAuth != "Bearer test-token" {
		t.Errorf("expected bearer token, got %q", sawAuth)
	}
	if sawState != "all" {
		t.Errorf("expected state=all, got %q", sawState)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(items))
	}
	if items[0].ExternalID != "github:acme/api#1" || items[0].Labels[0] != "bug" || items[0].Closed {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if items[1].ExternalID != "github:acme/api#3" || !items[1].Closed {
		t.Errorf("unexpected second item %+v", items[1])
	}
}

func TestListSecurityAlerts(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/repos/acme/api/code-scanning/alerts") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("state") != "open" {
			t.Errorf("expected state=open, got %q", r.URL.Query().Get("state"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"rule_id":"js/sql-injection",
			"rule_severity":"error",
			"rule_description":"Database query built from user-controlled sources",
			"state":"open",
			"html_url":"https://github.com/acme/api/security/code-scanning/7"
		}]`))
	})

	items, err := p.ListSecurityAlerts(context.Background(), "acme/api", repoprovider.ListOptions{})
	if err != nil {
		t.Fatalf("ListSecurityAlerts: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(items))
	}
	a := items[0]
	if a.ExternalID != "github:acme/api/code-scanning/7" || a.Kind != repoprovider.KindSecurityAlert {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.Severity != "error" || a.Closed || !strings.HasPrefix(a.Title, "Database query") {
		t.Errorf("unexpected alert fields %+v", a)
	}
}

func TestListIssuesAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	})
	if _, err := p.ListIssues(context.Background(), "acme/api", repoprovider.ListOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestInvalidRepoRef(t *testing.T) {
	p, _ := NewProvider("", "")
	for _, ref := range []string{"", "acme", "acme/", "a/b/c"} {
		if _, err := p.ListIssues(context.Background(), ref, repoprovider.ListOptions{}); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestRegistered(t *testing.T) {
	p, err := repoprovider.New("github", map[string]string{repoprovider.ConfigToken: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "github" || !p.Capabilities().SecurityAlerts {
		t.Fatalf("unexpected provider %s %+v", p.Name(), p.Capabilities())
	}
}
