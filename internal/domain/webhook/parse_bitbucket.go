package webhook

import (
	"encoding/json"
	"fmt"
)

type bitbucketRepoActor struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Actor struct {
		Nickname    string `json:"nickname"`
		DisplayName string `json:"display_name"`
	} `json:"actor"`
}

func (r bitbucketRepoActor) sender() string {
	if r.Actor.Nickname != "" {
		return r.Actor.Nickname
	}
	return r.Actor.DisplayName
}

// ParseBitbucketPullRequest parses a Bitbucket Cloud pullrequest:* event. It
// requires pullrequest.id and pullrequest.source.branch.name. EventKey is
// filled by Parse from the X-Event-Key header.
func ParseBitbucketPullRequest(data []byte) (*BitbucketPullRequest, error) {
	var raw struct {
		bitbucketRepoActor
		PullRequest *struct {
			ID     int    `json:"id"`
			Title  string `json:"title"`
			State  string `json:"state"`
			Source struct {
				Branch struct {
					Name string `json:"name"`
				} `json:"branch"`
				Commit struct {
					Hash string `json:"hash"`
				} `json:"commit"`
			} `json:"source"`
			Destination struct {
				Branch struct {
					Name string `json:"name"`
				} `json:"branch"`
			} `json:"destination"`
			Links struct {
				HTML struct {
					Href string `json:"href"`
				} `json:"html"`
			} `json:"links"`
		} `json:"pullrequest"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: bitbucket pullrequest: %v", ErrUnrecognizedShape, err)
	}
	pr := raw.PullRequest
	if pr == nil || pr.ID <= 0 || pr.Source.Branch.Name == "" {
		return nil, fmt.Errorf("%w: bitbucket pullrequest: missing id or source branch", ErrUnrecognizedShape)
	}

	return &BitbucketPullRequest{
		ID:                pr.ID,
		Title:             pr.Title,
		HTMLURL:           pr.Links.HTML.Href,
		State:             pr.State,
		SourceBranch:      pr.Source.Branch.Name,
		SourceCommit:      pr.Source.Commit.Hash,
		DestinationBranch: pr.Destination.Branch.Name,
		Repo:              raw.Repository.FullName,
		Sender:            raw.sender(),
	}, nil
}

// ParseBitbucketPush parses a Bitbucket Cloud repo:push event. It requires a
// push.changes array.
func ParseBitbucketPush(data []byte) (*BitbucketPush, error) {
	type ref struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		Target struct {
			Hash string `json:"hash"`
		} `json:"target"`
	}
	var raw struct {
		bitbucketRepoActor
		Push *struct {
			Changes []struct {
				Created bool `json:"created"`
				Closed  bool `json:"closed"`
				New     *ref `json:"new"`
				Commits []struct {
					Hash    string `json:"hash"`
					Message string `json:"message"`
					Author  struct {
						Raw string `json:"raw"`
					} `json:"author"`
					Links struct {
						HTML struct {
							Href string `json:"href"`
						} `json:"html"`
					} `json:"links"`
				} `json:"commits"`
			} `json:"changes"`
		} `json:"push"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: bitbucket push: %v", ErrUnrecognizedShape, err)
	}
	if raw.Push == nil || raw.Push.Changes == nil {
		return nil, fmt.Errorf("%w: bitbucket push: missing push.changes", ErrUnrecognizedShape)
	}

	ev := &BitbucketPush{
		Repo:   raw.Repository.FullName,
		Sender: raw.sender(),
	}
	for _, c := range raw.Push.Changes {
		ch := BitbucketChange{Created: c.Created, Closed: c.Closed}
		if c.New != nil {
			ch.NewType = c.New.Type
			ch.NewName = c.New.Name
			ch.NewHash = c.New.Target.Hash
		}
		for _, cm := range c.Commits {
			ch.Commits = append(ch.Commits, Commit{
				Hash:    cm.Hash,
				Message: cm.Message,
				Author:  cm.Author.Raw,
				URL:     cm.Links.HTML.Href,
			})
		}
		ev.Changes = append(ev.Changes, ch)
	}
	return ev, nil
}
