package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseGitLabMergeRequest parses a GitLab merge request hook. It requires
// object_kind=merge_request and object_attributes.source_branch.
func ParseGitLabMergeRequest(data []byte) (*GitLabMergeRequest, error) {
	var raw struct {
		ObjectKind string `json:"object_kind"`
		User       struct {
			Username string `json:"username"`
		} `json:"user"`
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
		ObjectAttributes *struct {
			IID          int    `json:"iid"`
			Title        string `json:"title"`
			URL          string `json:"url"`
			State        string `json:"state"`
			Action       string `json:"action"`
			SourceBranch string `json:"source_branch"`
			TargetBranch string `json:"target_branch"`
			LastCommit   struct {
				ID string `json:"id"`
			} `json:"last_commit"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: gitlab merge_request: %v", ErrUnrecognizedShape, err)
	}
	attrs := raw.ObjectAttributes
	if raw.ObjectKind != "merge_request" || attrs == nil || attrs.SourceBranch == "" {
		return nil, fmt.Errorf("%w: gitlab merge_request: object_kind %q", ErrUnrecognizedShape, raw.ObjectKind)
	}

	return &GitLabMergeRequest{
		Action:       attrs.Action,
		IID:          attrs.IID,
		Title:        attrs.Title,
		URL:          attrs.URL,
		State:        attrs.State,
		SourceBranch: attrs.SourceBranch,
		TargetBranch: attrs.TargetBranch,
		LastCommitID: attrs.LastCommit.ID,
		Repo:         raw.Project.PathWithNamespace,
		Sender:       raw.User.Username,
	}, nil
}

// ParseGitLabPush parses a GitLab push hook. Tag pushes are rejected.
func ParseGitLabPush(data []byte) (*GitLabPush, error) {
	var raw struct {
		ObjectKind   string `json:"object_kind"`
		Ref          string `json:"ref"`
		Before       string `json:"before"`
		After        string `json:"after"`
		UserUsername string `json:"user_username"`
		Project      struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
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
		return nil, fmt.Errorf("%w: gitlab push: %v", ErrUnrecognizedShape, err)
	}
	if raw.ObjectKind != "push" || !strings.HasPrefix(raw.Ref, "refs/heads/") {
		return nil, fmt.Errorf("%w: gitlab push: object_kind %q ref %q", ErrUnrecognizedShape, raw.ObjectKind, raw.Ref)
	}

	ev := &GitLabPush{
		Ref:    raw.Ref,
		Before: raw.Before,
		After:  raw.After,
		Repo:   raw.Project.PathWithNamespace,
		Sender: raw.UserUsername,
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
