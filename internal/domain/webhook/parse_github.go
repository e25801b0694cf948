package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

type githubRepoSender struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ParseGitHubPullRequest parses a GitHub pull_request event. It requires
// pull_request.number and pull_request.head.ref.
func ParseGitHubPullRequest(data []byte) (*GitHubPullRequest, error) {
	var raw struct {
		githubRepoSender
		Action      string `json:"action"`
		PullRequest *struct {
			Number   int     `json:"number"`
			Title    string  `json:"title"`
			HTMLURL  string  `json:"html_url"`
			State    string  `json:"state"`
			Merged   bool    `json:"merged"`
			MergedAt *string `json:"merged_at"`
			Draft    bool    `json:"draft"`
			Head     struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
			Base struct {
				Ref string `json:"ref"`
			} `json:"base"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: github pull_request: %v", ErrUnrecognizedShape, err)
	}
	pr := raw.PullRequest
	if pr == nil || pr.Number <= 0 || pr.Head.Ref == "" {
		return nil, fmt.Errorf("%w: github pull_request: missing pull_request.number or head.ref", ErrUnrecognizedShape)
	}

	return &GitHubPullRequest{
		Action:  raw.Action,
		Number:  pr.Number,
		Title:   pr.Title,
		HTMLURL: pr.HTMLURL,
		State:   pr.State,
		Merged:  pr.Merged || (pr.MergedAt != nil && *pr.MergedAt != ""),
		Draft:   pr.Draft,
		HeadRef: pr.Head.Ref,
		HeadSHA: pr.Head.SHA,
		BaseRef: pr.Base.Ref,
		Repo:    raw.Repository.FullName,
		Sender:  raw.Sender.Login,
	}, nil
}

// ParseGitHubBranchCreated parses a GitHub create event for a branch. Tag
// creation is not a branch and yields ErrUnrecognizedShape.
func ParseGitHubBranchCreated(data []byte) (*GitHubBranchCreated, error) {
	var raw struct {
		githubRepoSender
		Ref     string `json:"ref"`
		RefType string `json:"ref_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: github create: %v", ErrUnrecognizedShape, err)
	}
	if raw.RefType != "branch" || raw.Ref == "" {
		return nil, fmt.Errorf("%w: github create: ref_type %q", ErrUnrecognizedShape, raw.RefType)
	}
	return &GitHubBranchCreated{
		Ref:    strings.TrimPrefix(raw.Ref, "refs/heads/"),
		Repo:   raw.Repository.FullName,
		Sender: raw.Sender.Login,
	}, nil
}

// ParseGitHubPush parses a GitHub push event. It requires a refs/ ref and an
// "after" SHA.
func ParseGitHubPush(data []byte) (*GitHubPush, error) {
	var raw struct {
		githubRepoSender
		Ref     string `json:"ref"`
		Before  string `json:"before"`
		After   string `json:"after"`
		Created bool   `json:"created"`
		Deleted bool   `json:"deleted"`
		Forced  bool   `json:"forced"`
		Commits []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			URL     string `json:"url"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: github push: %v", ErrUnrecognizedShape, err)
	}
	if !strings.HasPrefix(raw.Ref, "refs/") || raw.After == "" {
		return nil, fmt.Errorf("%w: github push: missing ref or after", ErrUnrecognizedShape)
	}

	ev := &GitHubPush{
		Ref:     raw.Ref,
		Before:  raw.Before,
		After:   raw.After,
		Created: raw.Created,
		Deleted: raw.Deleted,
		Forced:  raw.Forced,
		Repo:    raw.Repository.FullName,
		Sender:  raw.Sender.Login,
	}
	for _, c := range raw.Commits {
		ev.Commits = append(ev.Commits, Commit{
			Hash:    c.ID,
			Message: c.Message,
			Author:  c.Author.Name,
			URL:     c.URL,
		})
	}
	return ev, nil
}
