// Package webhook defines the typed payloads parsed from Git provider webhooks
// and their normalized forms.
package webhook

import (
	"errors"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// ErrUnrecognizedShape is returned by parsers when a body is not the event
// they handle. Callers treat it as "not applicable", never as a failure.
var ErrUnrecognizedShape = errors.New("webhook: unrecognized payload shape")

// Kind classifies a parsed payload.
type Kind string

const (
	KindPullRequest   Kind = "pull_request"
	KindBranchCreated Kind = "branch_created"
	KindPush          Kind = "push"
)

// Payload is one of the provider x event variants below.
type Payload interface {
	Provider() connection.Service
	Kind() Kind
	Repository() string
	isPayload()
}

// Commit is a single commit carried by a push.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Author  string `json:"author"`
	URL     string `json:"url,omitempty"`
}

// GitHubPullRequest is a GitHub "pull_request" event.
type GitHubPullRequest struct {
	Action  string `json:"action"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"` // open, closed
	Merged  bool   `json:"merged"`
	Draft   bool   `json:"draft"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
	BaseRef string `json:"base_ref"`
	Repo    string `json:"repository"`
	Sender  string `json:"sender"`
}

// GitHubBranchCreated is a GitHub "create" event with ref_type=branch.
type GitHubBranchCreated struct {
	Ref    string `json:"ref"`
	Repo   string `json:"repository"`
	Sender string `json:"sender"`
}

// GitHubPush is a GitHub "push" event.
type GitHubPush struct {
	Ref     string   `json:"ref"`
	Before  string   `json:"before"`
	After   string   `json:"after"`
	Created bool     `json:"created"`
	Deleted bool     `json:"deleted"`
	Forced  bool     `json:"forced"`
	Commits []Commit `json:"commits"`
	Repo    string   `json:"repository"`
	Sender  string   `json:"sender"`
}

// GitLabMergeRequest is a GitLab "Merge Request Hook" event.
type GitLabMergeRequest struct {
	Action       string `json:"action"`
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	State        string `json:"state"` // opened, closed, locked, merged
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	LastCommitID string `json:"last_commit_id"`
	Repo         string `json:"repository"`
	Sender       string `json:"sender"`
}

// GitLabPush is a GitLab "Push Hook" event.
type GitLabPush struct {
	Ref     string   `json:"ref"`
	Before  string   `json:"before"`
	After   string   `json:"after"`
	Commits []Commit `json:"commits"`
	Repo    string   `json:"repository"`
	Sender  string   `json:"sender"`
}

// BitbucketPullRequest is a Bitbucket Cloud "pullrequest:*" event.
type BitbucketPullRequest struct {
	EventKey          string `json:"event_key"`
	ID                int    `json:"id"`
	Title             string `json:"title"`
	HTMLURL           string `json:"html_url"`
	State             string `json:"state"` // OPEN, MERGED, DECLINED, SUPERSEDED
	SourceBranch      string `json:"source_branch"`
	SourceCommit      string `json:"source_commit"`
	DestinationBranch string `json:"destination_branch"`
	Repo              string `json:"repository"`
	Sender            string `json:"sender"`
}

// BitbucketChange is one ref update inside a Bitbucket push.
type BitbucketChange struct {
	Created bool     `json:"created"`
	Closed  bool     `json:"closed"`
	NewType string   `json:"new_type"` // branch, tag
	NewName string   `json:"new_name"`
	NewHash string   `json:"new_hash"`
	Commits []Commit `json:"commits"`
}

// BitbucketPush is a Bitbucket Cloud "repo:push" event.
type BitbucketPush struct {
	Changes []BitbucketChange `json:"changes"`
	Repo    string            `json:"repository"`
	Sender  string            `json:"sender"`
}

func (*GitHubPullRequest) Provider() connection.Service    { return connection.ServiceGitHub }
func (*GitHubBranchCreated) Provider() connection.Service  { return connection.ServiceGitHub }
func (*GitHubPush) Provider() connection.Service           { return connection.ServiceGitHub }
func (*GitLabMergeRequest) Provider() connection.Service   { return connection.ServiceGitLab }
func (*GitLabPush) Provider() connection.Service           { return connection.ServiceGitLab }
func (*BitbucketPullRequest) Provider() connection.Service { return connection.ServiceBitbucket }
func (*BitbucketPush) Provider() connection.Service        { return connection.ServiceBitbucket }

func (*GitHubPullRequest) Kind() Kind    { return KindPullRequest }
func (*GitHubBranchCreated) Kind() Kind  { return KindBranchCreated }
func (*GitHubPush) Kind() Kind           { return KindPush }
func (*GitLabMergeRequest) Kind() Kind   { return KindPullRequest }
func (*GitLabPush) Kind() Kind           { return KindPush }
func (*BitbucketPullRequest) Kind() Kind { return KindPullRequest }
func (*BitbucketPush) Kind() Kind        { return KindPush }

func (p *GitHubPullRequest) Repository() string    { return p.Repo }
func (p *GitHubBranchCreated) Repository() string  { return p.Repo }
func (p *GitHubPush) Repository() string           { return p.Repo }
func (p *GitLabMergeRequest) Repository() string   { return p.Repo }
func (p *GitLabPush) Repository() string           { return p.Repo }
func (p *BitbucketPullRequest) Repository() string { return p.Repo }
func (p *BitbucketPush) Repository() string        { return p.Repo }

func (*GitHubPullRequest) isPayload()    {}
func (*GitHubBranchCreated) isPayload()  {}
func (*GitHubPush) isPayload()           {}
func (*GitLabMergeRequest) isPayload()   {}
func (*GitLabPush) isPayload()           {}
func (*BitbucketPullRequest) isPayload() {}
func (*BitbucketPush) isPayload()        {}

// CreatedBranches returns the branches a payload reports as newly created.
// GitHub push events are excluded because GitHub sends a separate "create"
// event for the same branch.
func CreatedBranches(p Payload) []string {
	switch v := p.(type) {
	case *GitHubBranchCreated:
		return []string{v.Ref}
	case *GitLabPush:
		// GitLab reports a new branch as a push whose "before" is all zeros.
		if v.Before != "" && strings.Trim(v.Before, "0") == "" {
			if b := branchFromRef(v.Ref); b != "" {
				return []string{b}
			}
		}
	case *BitbucketPush:
		var out []string
		for _, c := range v.Changes {
			if c.Created && c.NewType == "branch" && c.NewName != "" {
				out = append(out, c.NewName)
			}
		}
		return out
	}
	return nil
}

// Commits returns the commits carried by a push payload.
func Commits(p Payload) []Commit {
	switch v := p.(type) {
	case *GitHubPush:
		return v.Commits
	case *GitLabPush:
		return v.Commits
	case *BitbucketPush:
		var out []Commit
		for _, c := range v.Changes {
			out = append(out, c.Commits...)
		}
		return out
	}
	return nil
}

// branchFromRef turns refs/heads/feature/foo into feature/foo. Tag refs
// yield "".
func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if strings.HasPrefix(ref, prefix) {
		return ref[len(prefix):]
	}
	if strings.HasPrefix(ref, "refs/") {
		return ""
	}
	return ref
}
