package webhook

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

func TestExtractIssueKeyFromBranch(t *testing.T) {
	tests := []struct {
		branch string
		want   string
		ok     bool
	}{
		{"feature/APP-123-fix-login", "APP-123", true},
		{"main", "", false},
		{"app-45", "APP-45", true},
		{"bugfix/proj2-7", "PROJ2-7", true},
		{"APP-1-and-WEB-2", "APP-1", true},
		{"release-", "", false},
		{"", "", false},
		{"9X-12", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			got, ok := ExtractIssueKeyFromBranch(tt.branch)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ExtractIssueKeyFromBranch(%q) = %q, %v; want %q, %v", tt.branch, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractIssueKeys(t *testing.T) {
	got := ExtractIssueKeys("Fix app-1 and APP-1, refs WEB-22")
	if len(got) != 2 || got[0] != "APP-1" || got[1] != "WEB-22" {
		t.Fatalf("unexpected keys %v", got)
	}
	if ExtractIssueKeys("no keys here") != nil {
		t.Fatal("expected nil")
	}
}

const githubPRBody = `{
	"action": "closed",
	"number": 7,
	"pull_request": {
		"number": 7,
		"title": "Fix login",
		"html_url": "https://github.com/acme/web/pull/7",
		"state": "closed",
		"merged": true,
		"head": {"ref": "feature/APP-123-fix-login", "sha": "abc"},
		"base": {"ref": "main"},
		"future_field": [1, 2, 3]
	},
	"repository": {"full_name": "acme/web"},
	"sender": {"login": "octo"}
}`

func TestNormalizeGitHubPullRequest(t *testing.T) {
	p, err := Parse(connection.ServiceGitHub, "pull_request", []byte(githubPRBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind() != KindPullRequest || p.Repository() != "acme/web" {
		t.Fatalf("unexpected payload %T %+v", p, p)
	}
	d, err := NormalizePR(p)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := ParsedPRData{
		IssueKey:   "APP-123",
		BranchName: "feature/APP-123-fix-login",
		PRNumber:   7,
		PRURL:      "https://github.com/acme/web/pull/7",
		PRStatus:   PRStatusMerged,
		CommitSHA:  "abc",
	}
	if *d != want {
		t.Fatalf("got %+v, want %+v", *d, want)
	}
}

func TestPRStatusPrecedence(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want PRStatus
	}{
		{"github open", &GitHubPullRequest{State: "open", HeadRef: "x"}, PRStatusOpen},
		{"github closed", &GitHubPullRequest{State: "closed", HeadRef: "x"}, PRStatusClosed},
		{"github merged beats closed", &GitHubPullRequest{State: "closed", Merged: true, HeadRef: "x"}, PRStatusMerged},
		{"gitlab opened", &GitLabMergeRequest{State: "opened"}, PRStatusOpen},
		{"gitlab merged", &GitLabMergeRequest{State: "merged", Action: "merge"}, PRStatusMerged},
		{"gitlab closed", &GitLabMergeRequest{State: "closed", Action: "close"}, PRStatusClosed},
		{"bitbucket open", &BitbucketPullRequest{State: "OPEN"}, PRStatusOpen},
		{"bitbucket merged", &BitbucketPullRequest{State: "MERGED"}, PRStatusMerged},
		{"bitbucket declined", &BitbucketPullRequest{State: "DECLINED"}, PRStatusClosed},
		{"bitbucket fulfilled key", &BitbucketPullRequest{EventKey: "pullrequest:fulfilled"}, PRStatusMerged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NormalizePR(tt.p)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.PRStatus != tt.want {
				t.Fatalf("got %q, want %q", d.PRStatus, tt.want)
			}
		})
	}
}

func TestNormalizeGitLabMergeRequest(t *testing.T) {
	body := []byte(`{
		"object_kind": "merge_request",
		"user": {"username": "dev"},
		"project": {"path_with_namespace": "group/app"},
		"object_attributes": {
			"iid": 12,
			"title": "Login",
			"url": "https://gitlab.example/group/app/-/merge_requests/12",
			"state": "merged",
			"action": "merge",
			"source_branch": "web-9-login",
			"target_branch": "main",
			"last_commit": {"id": "def"}
		}
	}`)
	p, err := Parse(connection.ServiceGitLab, "Merge Request Hook", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := NormalizePR(p)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if d.IssueKey != "WEB-9" || d.PRStatus != PRStatusMerged || d.PRNumber != 12 || d.CommitSHA != "def" {
		t.Fatalf("unexpected %+v", d)
	}
}

func TestNormalizeBitbucketPullRequest(t *testing.T) {
	body := []byte(`{
		"actor": {"nickname": "bb"},
		"repository": {"full_name": "team/repo"},
		"pullrequest": {
			"id": 3,
			"title": "Fix",
			"state": "OPEN",
			"source": {"branch": {"name": "main"}, "commit": {"hash": "123"}},
			"destination": {"branch": {"name": "develop"}},
			"links": {"html": {"href": "https://bitbucket.org/team/repo/pull-requests/3"}}
		}
	}`)
	p, err := Parse(connection.ServiceBitbucket, "pullrequest:created", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bp, ok := p.(*BitbucketPullRequest)
	if !ok {
		t.Fatalf("expected *BitbucketPullRequest, got %T", p)
	}
	if bp.EventKey != "pullrequest:created" || bp.Sender != "bb" {
		t.Fatalf("unexpected %+v", bp)
	}
	d, err := NormalizePR(p)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if d.HasIssueKey() {
		t.Fatalf("branch main must not yield an issue key, got %q", d.IssueKey)
	}
	if d.PRStatus != PRStatusOpen || d.PRURL != "https://bitbucket.org/team/repo/pull-requests/3" {
		t.Fatalf("unexpected %+v", d)
	}
}

func TestNormalizeRejectsNonPR(t *testing.T) {
	_, err := NormalizePR(&GitHubPush{})
	if !errors.Is(err, ErrUnrecognizedShape) {
		t.Fatalf("expected ErrUnrecognizedShape, got %v", err)
	}
}

func TestCreatedBranches(t *testing.T) {
	gh, err := Parse(connection.ServiceGitHub, "create", []byte(`{"ref": "APP-5-new", "ref_type": "branch", "repository": {"full_name": "a/b"}}`))
	if err != nil {
		t.Fatalf("github create: %v", err)
	}
	if got := CreatedBranches(gh); len(got) != 1 || got[0] != "APP-5-new" {
		t.Fatalf("github: %v", got)
	}

	gl, err := Parse(connection.ServiceGitLab, "Push Hook", []byte(`{
		"object_kind": "push",
		"ref": "refs/heads/feature/WEB-3",
		"before": "0000000000000000000000000000000000000000",
		"after": "abc",
		"commits": []
	}`))
	if err != nil {
		t.Fatalf("gitlab push: %v", err)
	}
	if got := CreatedBranches(gl); len(got) != 1 || got[0] != "feature/WEB-3" {
		t.Fatalf("gitlab: %v", got)
	}

	glUpdate := &GitLabPush{Ref: "refs/heads/main", Before: "abc"}
	if got := CreatedBranches(glUpdate); got != nil {
		t.Fatalf("gitlab update push must not create branches: %v", got)
	}

	bb, err := Parse(connection.ServiceBitbucket, "repo:push", []byte(`{
		"repository": {"full_name": "t/r"},
		"push": {"changes": [
			{"created": true, "new": {"type": "branch", "name": "OPS-8-x", "target": {"hash": "1"}}, "commits": [{"hash": "1", "message": "OPS-8 start"}]},
			{"created": true, "new": {"type": "tag", "name": "v1"}},
			{"created": false, "new": {"type": "branch", "name": "main"}}
		]}
	}`))
	if err != nil {
		t.Fatalf("bitbucket push: %v", err)
	}
	if got := CreatedBranches(bb); len(got) != 1 || got[0] != "OPS-8-x" {
		t.Fatalf("bitbucket: %v", got)
	}
	if got := Commits(bb); len(got) != 1 || got[0].Message != "OPS-8 start" {
		t.Fatalf("bitbucket commits: %v", got)
	}
}

func TestParseUnrecognized(t *testing.T) {
	tests := []struct {
		name  string
		svc   connection.Service
		event string
		body  string
	}{
		{"github ping", connection.ServiceGitHub, "ping", `{"zen": "hi", "hook_id": 1}`},
		{"github tag create", connection.ServiceGitHub, "create", `{"ref": "v1", "ref_type": "tag"}`},
		{"github garbage", connection.ServiceGitHub, "", `not json`},
		{"gitlab tag push", connection.ServiceGitLab, "Tag Push Hook", `{"object_kind": "tag_push", "ref": "refs/tags/v1"}`},
		{"gitlab empty", connection.ServiceGitLab, "", `{}`},
		{"bitbucket issue", connection.ServiceBitbucket, "issue:created", `{"issue": {"id": 1}}`},
		{"monitoring service", connection.ServiceSentry, "", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.svc, tt.event, []byte(tt.body))
			if !errors.Is(err, ErrUnrecognizedShape) {
				t.Fatalf("expected ErrUnrecognizedShape, got %v", err)
			}
		})
	}
}

func TestParseFallsBackWithoutEventHeader(t *testing.T) {
	p, err := Parse(connection.ServiceGitHub, "", []byte(githubPRBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*GitHubPullRequest); !ok {
		t.Fatalf("expected *GitHubPullRequest, got %T", p)
	}

	// Header says push but the body is a pull request.
	p, err = Parse(connection.ServiceGitHub, "push", []byte(githubPRBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind() != KindPullRequest {
		t.Fatalf("expected fallback to pull request parser, got %s", p.Kind())
	}
}

func TestDeliveryID(t *testing.T) {
	h := http.Header{}
	h.Set("X-GitHub-Delivery", "d-1")
	if got := DeliveryID(connection.ServiceGitHub, h); got != "d-1" {
		t.Fatalf("got %q", got)
	}
	if got := DeliveryID(connection.ServiceDatadog, h); got != "" {
		t.Fatalf("datadog has no delivery header, got %q", got)
	}
}

func TestOutcome(t *testing.T) {
	o := Failed("store write", errors.New("boom")).WithIssue("i-1", "APP-1")
	if o.Kind != OutcomeFailed || o.IssueKey != "APP-1" || o.ErrorText() != "boom" {
		t.Fatalf("unexpected %+v", o)
	}
	if Skipped("no key").ErrorText() != "" {
		t.Fatal("skipped outcome has no error text")
	}
}
